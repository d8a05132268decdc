// internal/model/template.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type TemplateCategory string

const (
	CategoryMarketing      TemplateCategory = "MARKETING"
	CategoryUtility        TemplateCategory = "UTILITY"
	CategoryAuthentication TemplateCategory = "AUTHENTICATION"
)

type HeaderType string

const (
	HeaderText     HeaderType = "text"
	HeaderImage    HeaderType = "image"
	HeaderVideo    HeaderType = "video"
	HeaderDocument HeaderType = "document"
)

// IsMedia reports whether the header carries a media attachment.
func (t HeaderType) IsMedia() bool {
	return t == HeaderImage || t == HeaderVideo || t == HeaderDocument
}

type ButtonType string

const (
	ButtonQuickReply  ButtonType = "quick_reply"
	ButtonURL         ButtonType = "url"
	ButtonPhoneNumber ButtonType = "phone_number"
)

// IsCallToAction reports whether the button opens a link or dials a number.
func (t ButtonType) IsCallToAction() bool {
	return t == ButtonURL || t == ButtonPhoneNumber
}

type Header struct {
	Type     HeaderType `json:"type"`
	Text     string     `json:"text,omitempty"`
	MediaURL string     `json:"media_url,omitempty"`
}

type Button struct {
	Type  ButtonType `json:"type"`
	Text  string     `json:"text"`
	Value string     `json:"value,omitempty"`
}

// MessageTemplate is the message content of a template, and the frozen copy
// stored on a campaign.
type MessageTemplate struct {
	Body    string   `json:"body"`
	Header  *Header  `json:"header,omitempty"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// HasMedia reports whether the message must be sent as a media message.
func (m MessageTemplate) HasMedia() bool {
	return m.Header != nil && m.Header.Type.IsMedia() && m.Header.MediaURL != ""
}

// Clone returns a deep copy so later edits of the source never reach the copy.
func (m MessageTemplate) Clone() MessageTemplate {
	out := MessageTemplate{Body: m.Body, Footer: m.Footer}
	if m.Header != nil {
		h := *m.Header
		out.Header = &h
	}
	if m.Buttons != nil {
		out.Buttons = append([]Button(nil), m.Buttons...)
	}
	return out
}

type Template struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	TenantID  uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	Name      string           `db:"name" json:"name" validate:"required,max=512"`
	Language  string           `db:"language" json:"language" validate:"required,min=2,max=10"`
	Category  TemplateCategory `db:"category" json:"category" validate:"required,oneof=MARKETING UTILITY AUTHENTICATION"`
	Content   MessageTemplate  `db:"content" json:"content"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}
