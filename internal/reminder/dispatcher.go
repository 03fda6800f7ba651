package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

var reminderSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payla_reminder_sends_total",
	Help: "Reminder delivery attempts, labeled by channel and outcome",
}, []string{"channel", "outcome"})

// FailInvoiceNotFound is the failed_reason for a reminder whose invoice is gone.
const FailInvoiceNotFound = "invoice_not_found"

type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
	// LockTTL is how long a claim blocks other dispatchers.
	LockTTL time.Duration
}

// Dispatcher sends due reminders. Coordination between instances happens
// only through the locked_at claim on each reminder document.
type Dispatcher struct {
	store     store.Store
	senders   channel.Registry
	templates *Templates
	quiet     QuietHours
	cfg       DispatcherConfig
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewDispatcher(s store.Store, senders channel.Registry, tpl *Templates, quiet QuietHours, cfg DispatcherConfig, log logrus.FieldLogger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Dispatcher{
		store:     s,
		senders:   senders,
		templates: tpl,
		quiet:     quiet,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run polls for due reminders until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.log.WithField("interval", d.cfg.Interval).Info("reminder dispatcher started")
	for {
		if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.WithError(err).Error("reminder poll failed")
		}
		select {
		case <-ctx.Done():
			d.log.Info("reminder dispatcher stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick handles one batch of pending reminders whose next_send has passed and
// returns how many were sent.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	snaps, err := d.store.Query(ctx, domain.CollectionReminders, []store.Filter{
		store.Where("status", store.OpEq, string(domain.ReminderPending)),
		store.Where("next_send", store.OpLte, d.now().UTC()),
	}, store.QueryOptions{OrderBy: "next_send", Limit: d.cfg.BatchSize})
	if err != nil {
		return 0, fmt.Errorf("query due reminders: %w", err)
	}

	sent := 0
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		var r domain.Reminder
		if err := snap.Decode(&r); err != nil {
			d.log.WithError(err).WithField("reminder_id", snap.ID).Warn("failing undecodable reminder")
			if err := d.store.Update(ctx, domain.CollectionReminders, snap.ID, map[string]any{
				"status":        domain.ReminderFailed,
				"active":        false,
				"failed_reason": "undecodable",
				"locked_at":     nil,
			}); err != nil {
				d.log.WithError(err).WithField("reminder_id", snap.ID).Error("fail undecodable reminder")
			}
			continue
		}
		status, err := d.Deliver(ctx, r)
		if err != nil {
			d.log.WithError(err).WithField("reminder_id", r.ID).Error("reminder delivery failed")
			continue
		}
		if status == domain.ReminderSent {
			sent++
		}
	}
	return sent, nil
}

// Deliver claims one reminder and sends it through its channel priority list.
// The returned status is the reminder's state after the call; a reminder
// that stays pending was deferred, skipped or is held by another dispatcher.
func (d *Dispatcher) Deliver(ctx context.Context, r domain.Reminder) (domain.ReminderStatus, error) {
	log := d.log.WithFields(logrus.Fields{"reminder_id": r.ID, "invoice_id": r.InvoiceID})
	now := d.now().UTC()

	claimed, err := d.claim(ctx, r, now)
	if err != nil {
		return r.Status, err
	}
	if !claimed {
		log.Debug("reminder held by another dispatcher")
		return r.Status, nil
	}
	// Re-read after the claim so a cancellation racing the poll wins.
	if err := d.store.Get(ctx, domain.CollectionReminders, r.ID, &r); err != nil {
		return domain.ReminderPending, fmt.Errorf("reload reminder %s: %w", r.ID, err)
	}
	if r.Status != domain.ReminderPending || !r.Active {
		return r.Status, nil
	}

	var inv domain.Invoice
	err = d.store.Get(ctx, domain.CollectionInvoices, r.InvoiceID, &inv)
	if errors.Is(err, store.ErrNotFound) {
		// Terminal, so it leaves the due set and the archiver collects it.
		if err := d.store.Update(ctx, domain.CollectionReminders, r.ID, map[string]any{
			"status":        domain.ReminderFailed,
			"active":        false,
			"failed_reason": FailInvoiceNotFound,
			"locked_at":     nil,
		}); err != nil {
			return domain.ReminderPending, fmt.Errorf("fail orphaned reminder %s: %w", r.ID, err)
		}
		log.Warn("reminder invoice not found, reminder failed")
		reminderSendsTotal.WithLabelValues(string(r.Method), "skipped").Inc()
		return domain.ReminderFailed, nil
	}
	if err != nil {
		d.release(ctx, r.ID, nil)
		return domain.ReminderPending, fmt.Errorf("load invoice %s: %w", r.InvoiceID, err)
	}

	if inv.Status == domain.InvoicePaid {
		if err := d.store.Update(ctx, domain.CollectionReminders, r.ID, map[string]any{
			"status":           domain.ReminderCancelled,
			"active":           false,
			"cancelled_reason": CancelInvoicePaid,
			"locked_at":        nil,
		}); err != nil {
			return domain.ReminderPending, fmt.Errorf("cancel reminder %s: %w", r.ID, err)
		}
		log.Info("invoice already paid, reminder cancelled")
		reminderSendsTotal.WithLabelValues(string(r.Method), "cancelled").Inc()
		return domain.ReminderCancelled, nil
	}

	if d.quiet.Active(now) {
		resume := d.quiet.Resume(now)
		d.release(ctx, r.ID, map[string]any{"next_send": resume})
		log.WithField("next_send", resume).Info("quiet hours, reminder deferred")
		reminderSendsTotal.WithLabelValues(string(r.Method), "deferred").Inc()
		return domain.ReminderPending, nil
	}

	used, msg, lastErr := d.send(ctx, log, r, &inv)
	if used != "" {
		if err := d.store.Update(ctx, domain.CollectionReminders, r.ID, map[string]any{
			"status":       domain.ReminderSent,
			"active":       false,
			"channel_used": used,
			"message":      msg.Body,
			"sent_at":      now,
			"last_sent":    now,
			"locked_at":    nil,
		}); err != nil {
			// The message went out; a retry may resend it.
			return domain.ReminderSent, fmt.Errorf("mark reminder %s sent: %w", r.ID, err)
		}
		log.WithField("channel", used).Info("reminder sent")
		return domain.ReminderSent, nil
	}

	reason := "no channel available"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := d.store.Update(ctx, domain.CollectionReminders, r.ID, map[string]any{
		"status":        domain.ReminderFailed,
		"active":        false,
		"failed_reason": reason,
		"last_sent":     now,
		"locked_at":     nil,
	}); err != nil {
		return domain.ReminderFailed, fmt.Errorf("mark reminder %s failed: %w", r.ID, err)
	}
	log.WithField("reason", reason).Warn("reminder failed on every channel")
	return domain.ReminderFailed, nil
}

// send walks the channel list and stops at the first provider that accepts
// the message. Channel errors are logged and never abort the walk.
func (d *Dispatcher) send(ctx context.Context, log logrus.FieldLogger, r domain.Reminder, inv *domain.Invoice) (domain.Channel, channel.Message, error) {
	channels := r.Channels
	if len(channels) == 0 {
		channels = []domain.Channel{r.Method}
	}
	custom := ""
	if r.CustomMessage {
		custom = r.Message
	}
	data := NewMessageData(inv)

	var lastErr error
	for _, ch := range channels {
		dest := channel.Destination(ch, inv.ClientPhone, inv.ClientEmail)
		sender, ok := d.senders[ch]
		if dest == "" || !ok || sender == nil {
			continue
		}
		msg, err := d.templates.Render(r.Bucket, ch, data, custom)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("channel", ch).Warn("render reminder")
			continue
		}
		if err := sender.Send(ctx, dest, msg); err != nil {
			lastErr = fmt.Errorf("%s: %w", ch, err)
			reminderSendsTotal.WithLabelValues(string(ch), "error").Inc()
			log.WithError(err).WithField("channel", ch).Warn("reminder channel failed, trying next")
			continue
		}
		reminderSendsTotal.WithLabelValues(string(ch), "sent").Inc()
		return ch, msg, nil
	}
	return "", channel.Message{}, lastErr
}

// claim sets locked_at if it still holds the value we read, or if that
// lock has gone stale.
func (d *Dispatcher) claim(ctx context.Context, r domain.Reminder, now time.Time) (bool, error) {
	var expected any
	if r.LockedAt != nil {
		if now.Sub(*r.LockedAt) < d.cfg.LockTTL {
			return false, nil
		}
		expected = *r.LockedAt
	}
	err := d.store.UpdateIf(ctx, domain.CollectionReminders, r.ID, "locked_at", expected, map[string]any{
		"locked_at": now.Truncate(time.Millisecond),
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrConflict):
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("claim reminder %s: %w", r.ID, err)
}

func (d *Dispatcher) release(ctx context.Context, id string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["locked_at"] = nil
	if err := d.store.Update(context.WithoutCancel(ctx), domain.CollectionReminders, id, fields); err != nil {
		d.log.WithError(err).WithField("reminder_id", id).Error("release reminder claim")
	}
}
