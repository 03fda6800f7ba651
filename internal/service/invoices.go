package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

// ReminderScheduler creates the reminder schedule for a published invoice.
type ReminderScheduler interface {
	Schedule(ctx context.Context, invoiceID string, policy domain.ReminderPolicy, userID string) ([]domain.Reminder, error)
}

type InvoiceService struct {
	store     store.Store
	reminders ReminderScheduler
	payBase   string
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewInvoiceService builds payment links as payBase + "/pay/" + invoice id.
func NewInvoiceService(s store.Store, reminders ReminderScheduler, payBase string, log logrus.FieldLogger) *InvoiceService {
	return &InvoiceService{
		store:     s,
		reminders: reminders,
		payBase:   strings.TrimRight(payBase, "/"),
		log:       log,
		now:       time.Now,
	}
}

// Create stores a draft. The request is kept in draft_data until publish.
func (s *InvoiceService) Create(ctx context.Context, userID string, req models.CreateInvoiceRequest) (*domain.Invoice, error) {
	if err := validateInvoice(req); err != nil {
		return nil, err
	}
	draft, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode draft: %w", err)
	}

	business := ""
	var owner domain.User
	if err := s.store.Get(ctx, domain.CollectionUsers, userID, &owner); err == nil {
		business = owner.BusinessName
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load invoice owner: %w", err)
	}

	now := s.now().UTC()
	id := uuid.NewString()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "NGN"
	}
	inv := domain.Invoice{
		ID:                 id,
		SenderID:           userID,
		SenderBusinessName: business,
		Amount:             req.Amount,
		Currency:           currency,
		Description:        strings.TrimSpace(req.Description),
		DueDate:            req.DueDate.UTC(),
		ClientName:         strings.TrimSpace(req.ClientName),
		ClientPhone:        strings.TrimSpace(req.ClientPhone),
		ClientEmail:        strings.TrimSpace(req.ClientEmail),
		Status:             domain.InvoiceDraft,
		DraftData:          draft,
		ReminderPolicy:     req.ReminderPolicy,
		PaymentURL:         s.payBase + "/pay/" + id,
		PaystackReference:  "inv_" + strings.ReplaceAll(id, "-", ""),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, domain.CollectionInvoices, id, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	s.log.WithFields(logrus.Fields{"invoice_id": id, "user_id": userID}).Info("draft invoice created")
	return &inv, nil
}

// Publish moves a draft to pending and schedules its reminders. A failure
// to schedule is logged and does not undo the publish.
func (s *InvoiceService) Publish(ctx context.Context, userID, invoiceID string) (*domain.Invoice, []domain.Reminder, error) {
	inv, err := s.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	if inv.Status != domain.InvoiceDraft {
		return nil, nil, fmt.Errorf("invoice %s is %s, not a draft: %w", invoiceID, inv.Status, domain.ErrValidation)
	}

	now := s.now().UTC()
	err = s.store.UpdateIf(ctx, domain.CollectionInvoices, invoiceID, "status", domain.InvoiceDraft, map[string]any{
		"status":       domain.InvoicePending,
		"draft_data":   nil,
		"published_at": now,
		"updated_at":   now,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, nil, fmt.Errorf("invoice %s was published concurrently: %w", invoiceID, domain.ErrValidation)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("publish invoice: %w", err)
	}
	inv.Status = domain.InvoicePending
	inv.DraftData = nil
	inv.PublishedAt = &now
	inv.UpdatedAt = now

	log := s.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "user_id": userID})
	log.Info("invoice published")

	policy := domain.ReminderPolicy{}
	if inv.ReminderPolicy != nil {
		policy = *inv.ReminderPolicy
	}
	reminders, err := s.reminders.Schedule(ctx, invoiceID, policy, userID)
	if err != nil {
		log.WithError(err).Warn("schedule reminders for published invoice")
	}
	return inv, reminders, nil
}

// Get returns the caller's invoice.
func (s *InvoiceService) Get(ctx context.Context, userID, invoiceID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := s.store.Get(ctx, domain.CollectionInvoices, invoiceID, &inv); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, err)
	}
	if inv.SenderID != userID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrForbidden)
	}
	return &inv, nil
}

func validateInvoice(req models.CreateInvoiceRequest) error {
	var problems []string
	if req.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	if req.DueDate.IsZero() {
		problems = append(problems, "due_date is required")
	}
	if strings.TrimSpace(req.Description) == "" {
		problems = append(problems, "description is required")
	}
	if req.ReminderPolicy != nil {
		for _, ch := range req.ReminderPolicy.MethodPriority {
			if !ch.Valid() {
				problems = append(problems, fmt.Sprintf("unknown reminder channel %q", ch))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), domain.ErrValidation)
	}
	return nil
}
