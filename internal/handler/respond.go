package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/access"
	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
)

const (
	TenantHeader  = "X-Tenant-ID"
	SubjectHeader = "X-Subject"
	ScopesHeader  = "X-Scopes"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError answers with {"error": ...} and a status derived from err.
// Unexpected errors are logged and hidden behind a generic message.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("❌ request failed", zap.Error(err))
		msg = "internal server error"
	}
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	case appErrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// PrincipalFromRequest reads the caller identity forwarded by the gateway.
func PrincipalFromRequest(r *http.Request) (access.Principal, error) {
	raw := strings.TrimSpace(r.Header.Get(TenantHeader))
	if raw == "" {
		return access.Principal{}, appErrors.NewValidationError(TenantHeader, "header is required")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return access.Principal{}, appErrors.NewValidationError(TenantHeader, "must be a UUID")
	}

	p := access.Principal{TenantID: tenantID, Subject: r.Header.Get(SubjectHeader)}
	for _, s := range strings.Split(r.Header.Get(ScopesHeader), ",") {
		if s = strings.TrimSpace(s); s != "" {
			p.Scopes = append(p.Scopes, s)
		}
	}
	return p, nil
}

// Authorize resolves the principal and checks it against action. On failure
// the error response has already been written.
func Authorize(w http.ResponseWriter, r *http.Request, authz access.Authorizer, log *zap.Logger, action access.Action) (access.Principal, bool) {
	p, err := PrincipalFromRequest(r)
	if err != nil {
		WriteError(w, log, err)
		return p, false
	}
	if err := authz.Authorize(r.Context(), p, action); err != nil {
		log.Warn("🚫 request denied",
			zap.String("tenant_id", p.TenantID.String()),
			zap.String("subject", p.Subject),
			zap.String("action", string(action)))
		WriteError(w, log, err)
		return p, false
	}
	return p, true
}

// ParseID reads a UUID path parameter value.
func ParseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, appErrors.NewValidationError(field, "must be a UUID")
	}
	return id, nil
}
