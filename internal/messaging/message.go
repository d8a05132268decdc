// Package messaging describes what is sent to a recipient, independent of the
// provider that carries it.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/wa-broadcast/internal/model"
	"github.com/unclebandit/wa-broadcast/internal/validate"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// OutboundMessage is a single provider send. Text is used for KindText;
// media kinds carry MediaURL and an optional Caption.
type OutboundMessage struct {
	Kind     Kind
	Text     string
	MediaURL string
	Caption  string
}

// SenderIdentity is the business number (and its token) a message goes out from.
type SenderIdentity struct {
	PhoneNumberID string
	AccessToken   string
}

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, to string, msg OutboundMessage, from SenderIdentity) (string, error)
}

// Personalize substitutes vars into the header text, body and footer of a copy of m.
func Personalize(m model.MessageTemplate, vars map[string]string) model.MessageTemplate {
	out := m.Clone()
	out.Body = validate.ReplaceTemplateVariables(out.Body, vars)
	out.Footer = validate.ReplaceTemplateVariables(out.Footer, vars)
	if out.Header != nil {
		out.Header.Text = validate.ReplaceTemplateVariables(out.Header.Text, vars)
	}
	return out
}

// RenderText flattens a message to plain text: header text, body, footer and
// buttons, separated by blank lines. It is both the stored content of an
// attempt and the fallback when a media send fails.
func RenderText(m model.MessageTemplate) string {
	parts := make([]string, 0, 4)
	if m.Header != nil && strings.TrimSpace(m.Header.Text) != "" {
		parts = append(parts, m.Header.Text)
	}
	parts = append(parts, bodyParts(m)...)
	return strings.Join(parts, "\n\n")
}

// Compose builds the primary send for m: a media message captioned with the
// header text and the rest of the content when the header carries media,
// plain text otherwise.
func Compose(m model.MessageTemplate) OutboundMessage {
	if !m.HasMedia() {
		return OutboundMessage{Kind: KindText, Text: RenderText(m)}
	}
	return OutboundMessage{
		Kind:     Kind(m.Header.Type),
		MediaURL: m.Header.MediaURL,
		Caption:  RenderText(m),
	}
}

// Fallback is the text-only send used after a media send failed.
func Fallback(m model.MessageTemplate) OutboundMessage {
	return OutboundMessage{Kind: KindText, Text: RenderText(m)}
}

func bodyParts(m model.MessageTemplate) []string {
	var parts []string
	if strings.TrimSpace(m.Body) != "" {
		parts = append(parts, m.Body)
	}
	if strings.TrimSpace(m.Footer) != "" {
		parts = append(parts, m.Footer)
	}
	if len(m.Buttons) > 0 {
		lines := make([]string, 0, len(m.Buttons))
		for _, b := range m.Buttons {
			lines = append(lines, renderButton(b))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return parts
}

func renderButton(b model.Button) string {
	switch b.Type {
	case model.ButtonURL, model.ButtonPhoneNumber:
		return fmt.Sprintf("%s: %s", b.Text, b.Value)
	default:
		return fmt.Sprintf("[%s]", b.Text)
	}
}
