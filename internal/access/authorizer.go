// Package access is the permission boundary of the authoring API. Identity
// and role management live outside this service; callers only learn whether
// an action is allowed.
package access

import (
	"context"
	"strings"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
)

type Action string

const (
	ManageTemplates Action = "templates:manage"
	ImportContacts  Action = "contacts:import"
	ManageCampaigns Action = "campaigns:manage"
	ViewCampaigns   Action = "campaigns:view"
)

// Principal is the caller as asserted by the upstream gateway.
type Principal struct {
	TenantID uuid.UUID
	Subject  string
	Scopes   []string
}

type Authorizer interface {
	Authorize(ctx context.Context, p Principal, action Action) error
}

// ScopeAuthorizer allows an action when the principal carries its scope, or
// the wildcard "*". A principal without any scopes is allowed everything,
// matching deployments where the gateway does not forward scopes.
type ScopeAuthorizer struct{}

func (ScopeAuthorizer) Authorize(_ context.Context, p Principal, action Action) error {
	if p.TenantID == uuid.Nil {
		return appErrors.ErrForbidden
	}
	if len(p.Scopes) == 0 {
		return nil
	}
	for _, s := range p.Scopes {
		if s == "*" || s == string(action) {
			return nil
		}
		// "campaigns:*" grants every campaigns action.
		if prefix, ok := strings.CutSuffix(s, ":*"); ok && strings.HasPrefix(string(action), prefix+":") {
			return nil
		}
	}
	return appErrors.ErrForbidden
}
