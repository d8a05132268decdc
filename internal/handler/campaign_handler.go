// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/access"
	"github.com/unclebandit/wa-broadcast/internal/service"
)

// CampaignHandler serves the read side of campaigns: listings and live stats.
type CampaignHandler struct {
	Service    *service.CampaignService
	Authorizer access.Authorizer
	Log        *zap.Logger
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := Authorize(w, r, h.Authorizer, h.Log, access.ViewCampaigns)
	if !ok {
		return
	}

	// Invalid numbers fall back to the service defaults.
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), p.TenantID, page, pageSize, status)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandlerWithStats returns one campaign with its recipient counts.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	p, ok := Authorize(w, r, h.Authorizer, h.Log, access.ViewCampaigns)
	if !ok {
		return
	}
	id, err := ParseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}

	h.Log.Debug("📥 campaign details requested", zap.String("campaign_id", id.String()))

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), p.TenantID, id)
	if err != nil {
		WriteError(w, h.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, details)
}
