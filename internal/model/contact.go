// internal/model/contact.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Contact struct {
	ID         uuid.UUID `db:"id" json:"id"`
	TenantID   uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Name       string    `db:"name" json:"name"`
	Phone      string    `db:"phone" json:"phone"`
	Labels     []string  `db:"labels" json:"labels,omitempty"`
	Attributes Variables `db:"attributes" json:"attributes,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Channel is a WhatsApp business number a tenant can send from.
type Channel struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TenantID      uuid.UUID `db:"tenant_id" json:"tenant_id"`
	PhoneNumberID string    `db:"phone_number_id" json:"phone_number_id"`
	AccessToken   string    `db:"access_token" json:"-"`
	DisplayName   string    `db:"display_name" json:"display_name"`
	IsDefault     bool      `db:"is_default" json:"is_default"`
}
