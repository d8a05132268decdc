// internal/service/template_service.go
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/unclebandit/wa-broadcast/internal/messaging"
	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/repository"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

const contactRefPrefix = "contact."

// ResolveVariables maps each placeholder of a campaign to its value for one
// contact. A mapping value of "contact.name", "contact.phone" or
// "contact.<attribute>" reads the contact; anything else is a literal.
// Attributes the contact lacks are left out, so the placeholder stays visible.
func ResolveVariables(mapping model.Variables, contact model.Contact) model.Variables {
	if len(mapping) == 0 {
		return nil
	}
	out := make(model.Variables, len(mapping))
	for placeholder, ref := range mapping {
		field, ok := strings.CutPrefix(ref, contactRefPrefix)
		if !ok {
			out[placeholder] = ref
			continue
		}
		switch field {
		case "name":
			out[placeholder] = contact.Name
		case "phone":
			out[placeholder] = contact.Phone
		default:
			if v, ok := contact.Attributes[strings.ToLower(field)]; ok {
				out[placeholder] = v
			}
		}
	}
	return out
}

// RenderTemplate personalises m for vars and flattens it to text.
func RenderTemplate(m model.MessageTemplate, vars map[string]string) string {
	return messaging.RenderText(messaging.Personalize(m, vars))
}

// TemplateService manages a tenant's reusable message templates.
type TemplateService struct {
	TemplateRepo repository.TemplateRepositoryInterface
}

func (s *TemplateService) CreateTemplate(ctx context.Context, tenantID uuid.UUID, t *model.Template) (*model.Template, error) {
	t.TenantID = tenantID
	t.Name = strings.TrimSpace(t.Name)
	if err := validate.ValidateTemplate(t); err != nil {
		return nil, err
	}
	if err := s.TemplateRepo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TemplateService) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*model.Template, error) {
	return s.TemplateRepo.List(ctx, tenantID)
}
