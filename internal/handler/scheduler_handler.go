package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/service"
)

// Processor runs one scheduler invocation.
type Processor interface {
	Process(ctx context.Context) (*service.Summary, error)
}

// SchedulerHandler exposes the delivery engine to an external cron.
type SchedulerHandler struct {
	Scheduler Processor
	Secret    string
	// RequireSecret enables the bearer check; set in production.
	RequireSecret bool
	Log           *zap.Logger
}

func (h *SchedulerHandler) Process(w http.ResponseWriter, r *http.Request) {
	if h.RequireSecret {
		if h.Secret == "" {
			h.Log.Error("❌ scheduler secret is not configured")
			WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "scheduler secret is not configured"})
			return
		}
		if !validBearer(r.Header.Get("Authorization"), h.Secret) {
			h.Log.Warn("🚫 scheduler call with bad credentials", zap.String("remote_addr", r.RemoteAddr))
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	// A pass runs to completion even if the caller hangs up.
	summary, err := h.Scheduler.Process(context.WithoutCancel(r.Context()))
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

func validBearer(header, secret string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) == 1
}
