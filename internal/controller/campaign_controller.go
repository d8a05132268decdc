// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/access"
	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/handler"
	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/service"
)

// maxImportSize bounds an uploaded contact CSV.
const maxImportSize = 10 << 20

// CampaignController serves the authoring API: templates, contact imports
// and the campaign lifecycle up to scheduling.
type CampaignController struct {
	CampaignService *service.CampaignService
	TemplateService *service.TemplateService
	ContactService  *service.ContactService
	Authorizer      access.Authorizer
	Log             *zap.Logger
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.NewValidationError("body", "request body is required")
		}
		return appErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func (c *CampaignController) campaignID(r *http.Request) (uuid.UUID, error) {
	return handler.ParseID(chi.URLParam(r, "id"), "id")
}

func (c *CampaignController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ManageTemplates)
	if !ok {
		return
	}

	var body model.Template
	if err := decodeBody(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	tmpl, err := c.TemplateService.CreateTemplate(r.Context(), p.TenantID, &body)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, tmpl)
}

func (c *CampaignController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ManageTemplates)
	if !ok {
		return
	}
	templates, err := c.TemplateService.ListTemplates(r.Context(), p.TenantID)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": templates})
}

// ImportContacts accepts a CSV either as a text/csv body or as the "file"
// part of a multipart form.
func (c *CampaignController) ImportContacts(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ImportContacts)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)
	src := io.Reader(r.Body)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			handler.WriteError(w, c.Log, appErrors.NewValidationError("file", "multipart field \"file\" is required"))
			return
		}
		defer file.Close()
		src = file
	}

	res, err := c.ContactService.ImportCSV(r.Context(), p.TenantID, src)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ManageCampaigns)
	if !ok {
		return
	}

	var body service.CreateCampaignInput
	if err := decodeBody(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), p.TenantID, body)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	c.Log.Info("📝 campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("tenant_id", p.TenantID.String()))
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ManageCampaigns)
	if !ok {
		return
	}
	id, err := c.campaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	// The body is optional: no body schedules for now.
	var body struct {
		ScheduledAt string `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		handler.WriteError(w, c.Log, appErrors.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}

	campaign, err := c.CampaignService.ScheduleCampaign(r.Context(), p.TenantID, id, body.ScheduledAt)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	c.Log.Info("⏰ campaign scheduled",
		zap.String("campaign_id", id.String()),
		zap.Time("scheduled_at", *campaign.ScheduledAt))
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ManageCampaigns)
	if !ok {
		return
	}
	id, err := c.campaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	campaign, err := c.CampaignService.PauseCampaign(r.Context(), p.TenantID, id)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	c.Log.Info("⏸️ campaign paused", zap.String("campaign_id", id.String()))
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	p, ok := handler.Authorize(w, r, c.Authorizer, c.Log, access.ViewCampaigns)
	if !ok {
		return
	}
	id, err := c.campaignID(r)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	var body struct {
		ContactID *uuid.UUID      `json:"contact_id"`
		Variables model.Variables `json:"variables"`
	}
	if err := decodeBody(r, &body); err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), p.TenantID, id, body.ContactID, body.Variables)
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, preview)
}
