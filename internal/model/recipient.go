// internal/model/recipient.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientClaimed   RecipientStatus = "claimed"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientRead      RecipientStatus = "read"
	RecipientFailed    RecipientStatus = "failed"
)

// MaxErrorMessageLength bounds the error detail stored on a recipient.
const MaxErrorMessageLength = 500

// recipientPredecessors maps a status to the statuses it may be reached from.
// Delivery feedback may skip steps (a read receipt can arrive before the
// delivered one) but never moves a recipient backwards.
var recipientPredecessors = map[RecipientStatus][]RecipientStatus{
	RecipientClaimed:   {RecipientPending},
	RecipientSent:      {RecipientPending, RecipientClaimed},
	RecipientDelivered: {RecipientPending, RecipientClaimed, RecipientSent},
	RecipientRead:      {RecipientPending, RecipientClaimed, RecipientSent, RecipientDelivered},
	RecipientFailed:    {RecipientPending, RecipientClaimed, RecipientSent},
}

func (s RecipientStatus) Valid() bool {
	_, ok := recipientPredecessors[s]
	return ok || s == RecipientPending
}

// Terminal reports whether no transition leaves this status.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientFailed || s == RecipientRead
}

// Predecessors returns the statuses from which a recipient may advance to s.
func (s RecipientStatus) Predecessors() []RecipientStatus {
	return append([]RecipientStatus(nil), recipientPredecessors[s]...)
}

// CanAdvance reports whether a recipient in status from may move to status to.
func CanAdvance(from, to RecipientStatus) bool {
	for _, prev := range recipientPredecessors[to] {
		if prev == from {
			return true
		}
	}
	return false
}

type Recipient struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	CampaignID        uuid.UUID       `db:"campaign_id" json:"campaign_id"`
	ContactID         *uuid.UUID      `db:"contact_id" json:"contact_id,omitempty"`
	Phone             string          `db:"phone" json:"phone"`
	Name              string          `db:"name" json:"name"`
	Variables         Variables       `db:"variables" json:"variables,omitempty"`
	Content           string          `db:"content" json:"content,omitempty"`
	Status            RecipientStatus `db:"status" json:"status"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorMessage      string          `db:"error_message" json:"error_message,omitempty"`
	ClaimedAt         *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time      `db:"read_at" json:"read_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// TruncateError shortens an error text to the stored limit, keeping whole runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessageLength {
		return msg
	}
	return string(r[:MaxErrorMessageLength])
}

// StatusCounts is a per-status count of a campaign's recipients.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// Add increments the bucket for status by n. Unknown statuses are ignored.
func (c *StatusCounts) Add(status RecipientStatus, n int) {
	switch status {
	case RecipientPending:
		c.Pending += n
	case RecipientClaimed:
		c.Claimed += n
	case RecipientSent:
		c.Sent += n
	case RecipientDelivered:
		c.Delivered += n
	case RecipientRead:
		c.Read += n
	case RecipientFailed:
		c.Failed += n
	}
}

func (c StatusCounts) Total() int {
	return c.Pending + c.Claimed + c.Sent + c.Delivered + c.Read + c.Failed
}

// Outstanding is the number of recipients that have not been attempted yet.
func (c StatusCounts) Outstanding() int {
	return c.Pending + c.Claimed
}

// SentCounter counts every recipient the provider accepted.
func (c StatusCounts) SentCounter() int {
	return c.Sent + c.Delivered + c.Read
}

func (c StatusCounts) DeliveredCounter() int {
	return c.Delivered + c.Read
}
