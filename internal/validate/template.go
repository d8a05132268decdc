package validate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/wa-broadcast/internal/errors"
	"github.com/unclebandit/wa-broadcast/internal/model"
)

const (
	MaxBodyLength       = 4096
	MaxHeaderTextLength = 60
	MaxFooterLength     = 60
	MaxButtonTextLength = 25
	MaxQuickReplies     = 3
	MaxCallToActions    = 2
)

var (
	numericVariable = regexp.MustCompile(`\{\{(\d+)\}\}`)
	anyPlaceholder  = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

	structValidator = validator.New()
)

// ExtractTemplateVariables returns the numeric placeholder names used in
// body, deduplicated and in ascending numeric order.
func ExtractTemplateVariables(body string) []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range numericVariable.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	sort.Slice(vars, func(i, j int) bool {
		a, _ := strconv.Atoi(vars[i])
		b, _ := strconv.Atoi(vars[j])
		if a == b {
			return vars[i] < vars[j]
		}
		return a < b
	})
	return vars
}

// ValidateTemplateContent rejects empty or oversized bodies and placeholders
// whose name is not purely numeric.
func ValidateTemplateContent(body string) error {
	if strings.TrimSpace(body) == "" {
		return appErrors.NewValidationError("body", "template content is required")
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyLength {
		return appErrors.NewValidationError("body", fmt.Sprintf("template content exceeds %d characters (%d)", MaxBodyLength, n))
	}
	for _, m := range anyPlaceholder.FindAllStringSubmatch(body, -1) {
		if !isDigits(m[1]) {
			return appErrors.NewValidationError("body", fmt.Sprintf("invalid variable {{%s}}: variables must be numeric", m[1]))
		}
	}
	return nil
}

// ValidateVariableSequence requires placeholders numbered 1..n without gaps.
func ValidateVariableSequence(body string) error {
	for i, v := range ExtractTemplateVariables(body) {
		if want := strconv.Itoa(i + 1); v != want {
			return appErrors.NewValidationError("body", fmt.Sprintf("variables must be numbered contiguously from {{1}}; expected {{%s}}, found {{%s}}", want, v))
		}
	}
	return nil
}

// ReplaceTemplateVariables substitutes every placeholder that has a value in
// values. Placeholders without a value are left untouched. Substituted
// values are not scanned again.
func ReplaceTemplateVariables(body string, values map[string]string) string {
	if len(values) == 0 {
		return body
	}
	return anyPlaceholder.ReplaceAllStringFunc(body, func(token string) string {
		key := token[2 : len(token)-2]
		if v, ok := values[key]; ok {
			return v
		}
		return token
	})
}

// ValidateMessage checks a complete message: body, header, footer and buttons.
func ValidateMessage(m model.MessageTemplate) error {
	if err := ValidateTemplateContent(m.Body); err != nil {
		return err
	}
	if err := ValidateVariableSequence(m.Body); err != nil {
		return err
	}

	if h := m.Header; h != nil {
		switch {
		case h.Type == model.HeaderText:
			if strings.TrimSpace(h.Text) == "" {
				return appErrors.NewValidationError("header.text", "text header requires text")
			}
		case h.Type.IsMedia():
			if !isHTTPURL(h.MediaURL) {
				return appErrors.NewValidationError("header.media_url", "media header requires an absolute http(s) URL")
			}
		default:
			return appErrors.NewValidationError("header.type", fmt.Sprintf("unsupported header type %q", h.Type))
		}
		if utf8.RuneCountInString(h.Text) > MaxHeaderTextLength {
			return appErrors.NewValidationError("header.text", fmt.Sprintf("header text exceeds %d characters", MaxHeaderTextLength))
		}
	}

	if utf8.RuneCountInString(m.Footer) > MaxFooterLength {
		return appErrors.NewValidationError("footer", fmt.Sprintf("footer exceeds %d characters", MaxFooterLength))
	}
	return validateButtons(m.Buttons)
}

func validateButtons(buttons []model.Button) error {
	var quick, cta int
	for i, b := range buttons {
		field := fmt.Sprintf("buttons[%d]", i)
		text := strings.TrimSpace(b.Text)
		if text == "" {
			return appErrors.NewValidationError(field, "button text is required")
		}
		if utf8.RuneCountInString(text) > MaxButtonTextLength {
			return appErrors.NewValidationError(field, fmt.Sprintf("button text exceeds %d characters", MaxButtonTextLength))
		}

		switch b.Type {
		case model.ButtonQuickReply:
			quick++
		case model.ButtonURL:
			cta++
			if !isHTTPURL(b.Value) {
				return appErrors.NewValidationError(field, "url button requires an absolute http(s) URL")
			}
		case model.ButtonPhoneNumber:
			cta++
			if len(digitsOnly(b.Value)) < minPhoneDigits {
				return appErrors.NewValidationError(field, "phone button requires a phone number")
			}
		default:
			return appErrors.NewValidationError(field, fmt.Sprintf("unsupported button type %q", b.Type))
		}
	}

	if quick > 0 && cta > 0 {
		return appErrors.NewValidationError("buttons", "quick reply and call-to-action buttons cannot be mixed")
	}
	if quick > MaxQuickReplies {
		return appErrors.NewValidationError("buttons", fmt.Sprintf("at most %d quick reply buttons are allowed", MaxQuickReplies))
	}
	if cta > MaxCallToActions {
		return appErrors.NewValidationError("buttons", fmt.Sprintf("at most %d call-to-action buttons are allowed", MaxCallToActions))
	}
	return nil
}

// ValidateTemplate checks a reusable template before it is stored.
func ValidateTemplate(t *model.Template) error {
	if err := structValidator.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return appErrors.NewValidationError(strings.ToLower(fe.Field()), fmt.Sprintf("failed %q rule", fe.Tag()))
		}
		return err
	}
	return ValidateMessage(t.Content)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
