package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Collections in the document store.
const (
	CollectionInvoices             = "invoices"
	CollectionPaylinkTransactions  = "paylink_transactions"
	CollectionUsers                = "users"
	CollectionPayouts              = "payouts"
	CollectionReminders            = "reminders"
	CollectionRemindersArchive     = "reminders_archive"
	CollectionPendingSubscriptions = "pending_subscriptions"
	CollectionNotifications        = "notifications"
	CollectionPayments             = "payments"
	CollectionWebhookDeliveries    = "webhook_deliveries"
)

type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceOverdue InvoiceStatus = "overdue"
	InvoiceFailed  InvoiceStatus = "failed"
)

// Invoice is owned by SenderID. Amounts are whole currency units.
type Invoice struct {
	ID                   string          `json:"id"`
	SenderID             string          `json:"sender_id"`
	SenderBusinessName   string          `json:"sender_business_name,omitempty"`
	Amount               int64           `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	DueDate              time.Time       `json:"due_date"`
	ClientName           string          `json:"client_name,omitempty"`
	ClientPhone          string          `json:"client_phone,omitempty"`
	ClientEmail          string          `json:"client_email,omitempty"`
	Status               InvoiceStatus   `json:"status"`
	DraftData            json.RawMessage `json:"draft_data"`
	ReminderPolicy       *ReminderPolicy `json:"reminder_policy,omitempty"`
	PaymentURL           string          `json:"payment_url,omitempty"`
	PaystackReference    string          `json:"paystack_reference,omitempty"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	PayerEmail           string          `json:"payer_email,omitempty"`
	PayoutStatus         string          `json:"payout_status,omitempty"`
	PublishedAt          *time.Time      `json:"published_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// EffectiveStatus applies the lazily derived pending->overdue transition.
func (i *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.Status == InvoicePending && !i.DueDate.IsZero() && now.After(i.DueDate) {
		return InvoiceOverdue
	}
	return i.Status
}

type TxnStatus string

const (
	TxnPending TxnStatus = "pending"
	TxnSuccess TxnStatus = "success"
	TxnFailed  TxnStatus = "failed"
)

// PayoutState is the payout progress recorded on a paylink transaction.
type PayoutState string

const (
	PayoutSplitAutomated    PayoutState = "split_automated"
	PayoutPendingManual     PayoutState = "pending_manual"
	PayoutSettledByPaystack PayoutState = "settled_by_paystack"
	PayoutHeld              PayoutState = "held"
	PayoutFailed            PayoutState = "failed"
)

// PaylinkTransaction is keyed by the processor reference.
type PaylinkTransaction struct {
	ID              string      `json:"id"`
	PaylinkID       string      `json:"paylink_id"`
	UserID          string      `json:"user_id"`
	AmountRequested int64       `json:"amount_requested"`
	AmountPaid      int64       `json:"amount_paid"`
	PayerEmail      string      `json:"payer_email,omitempty"`
	PayerName       string      `json:"payer_name,omitempty"`
	Status          TxnStatus   `json:"status"`
	PayoutStatus    PayoutState `json:"payout_status,omitempty"`
	PaidAt          *time.Time  `json:"paid_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	LastUpdate      time.Time   `json:"last_update"`
}

type NudgeStatus string

const (
	NudgeActive      NudgeStatus = "active"
	Nudge72hSent     NudgeStatus = "72h_sent"
	NudgeExpiredSent NudgeStatus = "expired_sent"
)

const (
	PlanFree   = "free"
	PlanSilver = "silver"

	CycleMonthly = "monthly"
	CycleAnnual  = "annually"
)

type BusinessClassification string

const (
	BusinessStandard   BusinessClassification = "standard"
	BusinessRestricted BusinessClassification = "restricted"
	BusinessProhibited BusinessClassification = "prohibited"
)

// BlocksPayouts reports whether the classification forbids outbound transfers.
func (c BusinessClassification) BlocksPayouts() bool {
	return c == BusinessRestricted || c == BusinessProhibited
}

// User holds the profile fields the payment core reads, plus billing state.
type User struct {
	ID                     string                 `json:"id"`
	Email                  string                 `json:"email"`
	FullName               string                 `json:"full_name,omitempty"`
	BusinessName           string                 `json:"business_name,omitempty"`
	Phone                  string                 `json:"phone,omitempty"`
	DeviceToken            string                 `json:"device_token,omitempty"`
	Classification         BusinessClassification `json:"business_classification,omitempty"`
	PayoutBank             string                 `json:"payout_bank,omitempty"`
	PayoutAccountNumber    string                 `json:"payout_account_number,omitempty"`
	PayoutAccountName      string                 `json:"payout_account_name,omitempty"`
	PaystackRecipientCode  string                 `json:"paystack_recipient_code,omitempty"`
	Plan                   string                 `json:"plan"`
	IsActive               bool                   `json:"is_active"`
	BillingCycle           string                 `json:"billing_cycle,omitempty"`
	SubscriptionID         string                 `json:"subscription_id,omitempty"`
	SubscriptionStart      *time.Time             `json:"subscription_start,omitempty"`
	SubscriptionEnd        *time.Time             `json:"subscription_end,omitempty"`
	LastPaymentRef         string                 `json:"last_payment_ref,omitempty"`
	BillingNudgeStatus     NudgeStatus            `json:"billing_nudge_status,omitempty"`
	LastNudgeDate          *time.Time             `json:"last_nudge_date,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
}

// PayoutProfileComplete reports whether bank code, account number and name are all set.
func (u *User) PayoutProfileComplete() bool {
	return strings.TrimSpace(u.PayoutBank) != "" &&
		strings.TrimSpace(u.PayoutAccountNumber) != "" &&
		strings.TrimSpace(u.PayoutAccountName) != ""
}

type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusSuccess    PayoutStatus = "success"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusHeld       PayoutStatus = "held"
	PayoutStatusBlocked    PayoutStatus = "blocked"
)

// Payout is the exclusivity record for one reference.
type Payout struct {
	ID                string       `json:"id"`
	UserID            string       `json:"user_id"`
	Amount            int64        `json:"amount"`
	Fee               int64        `json:"fee,omitempty"`
	AmountSent        int64        `json:"amount_sent,omitempty"`
	Status            PayoutStatus `json:"status"`
	RecipientUsed     string       `json:"recipient_used,omitempty"`
	TransferReference string       `json:"transfer_reference,omitempty"`
	LockToken         string       `json:"lock_token,omitempty"`
	LockedAt          *time.Time   `json:"locked_at,omitempty"`
	Attempts          int          `json:"attempts"`
	Error             string       `json:"error,omitempty"`
	TransferredAt     *time.Time   `json:"transferred_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	FailedAt          *time.Time   `json:"failed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// DefaultChannelPriority is used when a policy names no channels.
var DefaultChannelPriority = []Channel{ChannelWhatsApp, ChannelSMS, ChannelEmail}

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// Bucket classifies a trigger by its offset from the due date.
type Bucket string

const (
	BucketUpcoming      Bucket = "upcoming"
	BucketDueTomorrow   Bucket = "due_tomorrow"
	BucketDueToday      Bucket = "due_today"
	BucketOverdueOneDay Bucket = "overdue_1d"
	BucketOverdueMulti  Bucket = "overdue_3d"
)

type Reminder struct {
	ID              string         `json:"id"`
	InvoiceID       string         `json:"invoice_id"`
	UserID          string         `json:"user_id"`
	Method          Channel        `json:"method"`
	Channels        []Channel      `json:"channels"`
	Bucket          Bucket         `json:"bucket"`
	Message         string         `json:"message"`
	CustomMessage   bool           `json:"custom_message,omitempty"`
	Status          ReminderStatus `json:"status"`
	NextSend        time.Time      `json:"next_send"`
	Active          bool           `json:"active"`
	LockedAt        *time.Time     `json:"locked_at"`
	ChannelUsed     Channel        `json:"channel_used,omitempty"`
	CancelledReason string         `json:"cancelled_reason,omitempty"`
	FailedReason    string         `json:"failed_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	LastSent        *time.Time     `json:"last_sent,omitempty"`
}

// ReminderPolicy selects trigger times and channels for an invoice.
type ReminderPolicy struct {
	ManualDates    []string  `json:"manual_dates,omitempty"`
	Preset         string    `json:"preset,omitempty"`
	MethodPriority []Channel `json:"method_priority,omitempty"`
	CustomMessage  string    `json:"custom_message,omitempty"`
}

// Notification is an in-app message for a user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookDelivery remembers the response given to one exact webhook body.
type WebhookDelivery struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Reference  string    `json:"reference"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Deliveries int       `json:"deliveries"`
	ReceivedAt time.Time `json:"received_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Payment is the audit record of a reconciled charge.
type Payment struct {
	Reference  string    `json:"reference"`
	UserID     string    `json:"user_id"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Channel    string    `json:"channel,omitempty"`
	PayerEmail string    `json:"payer_email,omitempty"`
	PaidAt     time.Time `json:"paid_at"`
}
