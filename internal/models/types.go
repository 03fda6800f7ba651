package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
)

// Processor event names.
const (
	EventChargeSuccess       = "charge.success"
	EventChargeFailed        = "charge.failed"
	EventTransferSuccess     = "transfer.success"
	EventTransferFailed      = "transfer.failed"
	EventTransferReversed    = "transfer.reversed"
	EventSubscriptionCreate  = "subscription.create"
	EventSubscriptionDisable = "subscription.disable"
	EventSubscriptionNoRenew = "subscription.not_renew"
)

// WebhookEvent is the processor envelope.
type WebhookEvent struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	ID           int64           `json:"id"`
	Reference    string          `json:"reference"`
	Amount       int64           `json:"amount"` // subunits
	Currency     string          `json:"currency"`
	Channel      string          `json:"channel"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason"`
	PaidAt       string          `json:"paid_at"`
	Customer     Customer        `json:"customer"`
	Metadata     Metadata        `json:"metadata"`
	Subaccount   json.RawMessage `json:"subaccount,omitempty"`
	Subscription string          `json:"subscription_code,omitempty"`
}

// HasSubaccount reports whether the charge was split to a processor subaccount.
func (d EventData) HasSubaccount() bool {
	raw := bytes.TrimSpace(d.Subaccount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	if bytes.Equal(raw, []byte(`""`)) || bytes.Equal(raw, []byte("{}")) {
		return false
	}
	return true
}

// MajorAmount converts the subunit amount to whole currency units,
// truncating any remainder. Payouts are whole-naira transfers.
func (d EventData) MajorAmount() int64 {
	return d.Amount / 100
}

type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Metadata is the free-form bag set by the initiating client. The processor
// sends it as an object, an empty string, or null.
type Metadata map[string]any

func (m *Metadata) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*m = Metadata{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = raw
	return nil
}

// String returns the value for key as a string; numbers are formatted.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// WebhookResponse is returned for every processed or ignored event.
type WebhookResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	WebhookSuccess = "success"
	WebhookIgnored = "ignored"
)

// CreateInvoiceRequest is the user payload for a new draft.
type CreateInvoiceRequest struct {
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	Description    string                 `json:"description"`
	DueDate        time.Time              `json:"due_date"`
	ClientName     string                 `json:"client_name"`
	ClientPhone    string                 `json:"client_phone"`
	ClientEmail    string                 `json:"client_email"`
	ReminderPolicy *domain.ReminderPolicy `json:"reminder_policy,omitempty"`
}

// InvoiceResponse reports the invoice with its derived status.
type InvoiceResponse struct {
	domain.Invoice
	EffectiveStatus domain.InvoiceStatus `json:"effective_status"`
}

type ScheduleRemindersRequest struct {
	ManualDates    []string         `json:"manual_dates,omitempty"`
	Preset         string           `json:"preset,omitempty"`
	MethodPriority []domain.Channel `json:"method_priority,omitempty"`
	CustomMessage  string           `json:"custom_message,omitempty"`
}

func (r ScheduleRemindersRequest) Policy() domain.ReminderPolicy {
	return domain.ReminderPolicy{
		ManualDates:    r.ManualDates,
		Preset:         r.Preset,
		MethodPriority: r.MethodPriority,
		CustomMessage:  r.CustomMessage,
	}
}

type ScheduleRemindersResponse struct {
	Count     int               `json:"count"`
	Reminders []domain.Reminder `json:"reminders"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenVerifyResponse struct {
	Valid bool `json:"valid"`
}
