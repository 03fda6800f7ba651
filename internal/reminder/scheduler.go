package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

// CancelInvoicePaid is the cancelled_reason recorded when payment lands.
const CancelInvoicePaid = "invoice_paid"

// immediateWindow is how close to now a trigger must be to skip the poll.
const immediateWindow = 5 * time.Minute

var remindersScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "payla_reminders_scheduled_total",
	Help: "Reminder records created by the scheduler",
})

// Deliverer sends one reminder right away.
type Deliverer interface {
	Deliver(ctx context.Context, r domain.Reminder) (domain.ReminderStatus, error)
}

type Scheduler struct {
	store     store.Store
	templates *Templates
	deliverer Deliverer
	log       logrus.FieldLogger
	now       func() time.Time
	// propagationWait is the single pause before re-reading a draft invoice.
	propagationWait time.Duration
}

func NewScheduler(s store.Store, tpl *Templates, d Deliverer, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		store:           s,
		templates:       tpl,
		deliverer:       d,
		log:             log,
		now:             time.Now,
		propagationWait: 500 * time.Millisecond,
	}
}

// ReminderID is stable per invoice and trigger, so rescheduling the same
// trigger never duplicates a reminder.
func ReminderID(invoiceID string, trigger time.Time) string {
	return fmt.Sprintf("%s_%d", invoiceID, trigger.Unix())
}

// Schedule computes the invoice's triggers and persists one pending reminder
// per trigger. Reminders that already exist are returned unchanged.
func (s *Scheduler) Schedule(ctx context.Context, invoiceID string, policy domain.ReminderPolicy, userID string) ([]domain.Reminder, error) {
	log := s.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "user_id": userID})

	inv, err := s.publishedInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.SenderID != userID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrForbidden)
	}
	if inv.Status == domain.InvoicePaid {
		return nil, fmt.Errorf("invoice %s is already paid: %w", invoiceID, domain.ErrValidation)
	}

	channels := reachableChannels(policy.MethodPriority, inv.ClientPhone, inv.ClientEmail)
	if len(channels) == 0 {
		return nil, fmt.Errorf("invoice %s has no client phone or email: %w", invoiceID, domain.ErrValidation)
	}

	now := s.now().UTC()
	triggers, skipped := ComputeTriggers(inv.DueDate, now, policy)
	for _, reason := range skipped {
		log.WithField("reason", reason).Warn("reminder trigger skipped")
	}

	data := NewMessageData(inv)
	reminders := make([]domain.Reminder, 0, len(triggers))
	for _, trigger := range triggers {
		bucket := BucketFor(trigger, inv.DueDate)
		msg, err := s.templates.Render(bucket, channels[0], data, policy.CustomMessage)
		if err != nil {
			return reminders, err
		}
		r := domain.Reminder{
			ID:            ReminderID(invoiceID, trigger),
			InvoiceID:     invoiceID,
			UserID:        userID,
			Method:        channels[0],
			Channels:      channels,
			Bucket:        bucket,
			Message:       msg.Body,
			CustomMessage: policy.CustomMessage != "",
			Status:        domain.ReminderPending,
			NextSend:      trigger,
			Active:        true,
			CreatedAt:     now,
		}
		err = s.store.Create(ctx, domain.CollectionReminders, r.ID, r)
		if errors.Is(err, store.ErrAlreadyExists) {
			if err := s.store.Get(ctx, domain.CollectionReminders, r.ID, &r); err != nil {
				return reminders, fmt.Errorf("load existing reminder %s: %w", r.ID, err)
			}
		} else if err != nil {
			return reminders, fmt.Errorf("create reminder %s: %w", r.ID, err)
		} else {
			remindersScheduledTotal.Inc()
		}
		reminders = append(reminders, r)
	}
	log.WithField("count", len(reminders)).Info("reminders scheduled")

	s.sendImmediate(ctx, log, reminders, now)
	return reminders, nil
}

// sendImmediate delivers the earliest pending reminder when its trigger is
// within immediateWindow of now. Quiet hours still apply inside Deliver.
func (s *Scheduler) sendImmediate(ctx context.Context, log logrus.FieldLogger, reminders []domain.Reminder, now time.Time) {
	if s.deliverer == nil {
		return
	}
	for i := range reminders {
		r := &reminders[i]
		if r.Status != domain.ReminderPending {
			continue
		}
		if d := r.NextSend.Sub(now); d > immediateWindow || d < -immediateWindow {
			return
		}
		status, err := s.deliverer.Deliver(ctx, *r)
		if err != nil {
			log.WithError(err).WithField("reminder_id", r.ID).Warn("immediate reminder send failed")
			return
		}
		r.Status = status
		return
	}
}

// publishedInvoice loads the invoice, waiting once for a draft to be
// published before giving up.
func (s *Scheduler) publishedInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := s.store.Get(ctx, domain.CollectionInvoices, invoiceID, &inv); err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}
	if inv.Status != domain.InvoiceDraft {
		return &inv, nil
	}

	t := time.NewTimer(s.propagationWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}
	if err := s.store.Get(ctx, domain.CollectionInvoices, invoiceID, &inv); err != nil {
		return nil, fmt.Errorf("reload invoice %s: %w", invoiceID, err)
	}
	if inv.Status == domain.InvoiceDraft {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrInvoiceNotPublished)
	}
	return &inv, nil
}

// CancelPending cancels every pending reminder of an invoice and returns how
// many it cancelled. Reminders changed concurrently are left alone.
func (s *Scheduler) CancelPending(ctx context.Context, invoiceID, reason string) (int, error) {
	snaps, err := s.store.Query(ctx, domain.CollectionReminders, []store.Filter{
		store.Where("invoice_id", store.OpEq, invoiceID),
		store.Where("status", store.OpEq, string(domain.ReminderPending)),
	}, store.QueryOptions{})
	if err != nil {
		return 0, fmt.Errorf("query reminders for %s: %w", invoiceID, err)
	}

	cancelled := 0
	var errs []error
	for _, snap := range snaps {
		err := s.store.UpdateIf(ctx, domain.CollectionReminders, snap.ID, "status", string(domain.ReminderPending), map[string]any{
			"status":           domain.ReminderCancelled,
			"active":           false,
			"cancelled_reason": reason,
		})
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("cancel reminder %s: %w", snap.ID, err))
		}
	}
	if cancelled > 0 {
		s.log.WithFields(logrus.Fields{"invoice_id": invoiceID, "count": cancelled, "reason": reason}).Info("pending reminders cancelled")
	}
	return cancelled, errors.Join(errs...)
}

// reachableChannels dedupes the requested priority list, falls back to the
// default order, and drops channels the client cannot be reached on.
func reachableChannels(priority []domain.Channel, phone, email string) []domain.Channel {
	if len(priority) == 0 {
		priority = domain.DefaultChannelPriority
	}
	var out []domain.Channel
	for _, ch := range priority {
		if !ch.Valid() || slices.Contains(out, ch) {
			continue
		}
		if channel.Destination(ch, phone, email) == "" {
			continue
		}
		out = append(out, ch)
	}
	return out
}
