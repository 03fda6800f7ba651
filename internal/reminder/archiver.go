package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

const archiveBatch = 500

// Archiver moves finished reminders out of the live collection so the
// dispatcher's due query stays small.
type Archiver struct {
	store    store.Store
	after    time.Duration
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewArchiver(s store.Store, after, interval time.Duration, log logrus.FieldLogger) *Archiver {
	if after <= 0 {
		after = 90 * day
	}
	if interval <= 0 {
		interval = day
	}
	return &Archiver{store: s, after: after, interval: interval, log: log, now: time.Now}
}

func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if n, err := a.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.WithError(err).Error("reminder archive sweep failed")
		} else if n > 0 {
			a.log.WithField("count", n).Info("reminders archived")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep archives one batch per finished status and returns the number moved.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.after)
	moved := 0
	for _, status := range []domain.ReminderStatus{domain.ReminderSent, domain.ReminderCancelled, domain.ReminderFailed} {
		snaps, err := a.store.Query(ctx, domain.CollectionReminders, []store.Filter{
			store.Where("status", store.OpEq, string(status)),
			store.Where("created_at", store.OpLt, cutoff),
		}, store.QueryOptions{Limit: archiveBatch})
		if err != nil {
			return moved, fmt.Errorf("query %s reminders: %w", status, err)
		}
		for _, snap := range snaps {
			var r domain.Reminder
			if err := snap.Decode(&r); err != nil {
				return moved, fmt.Errorf("decode reminder %s: %w", snap.ID, err)
			}
			if err := a.store.Create(ctx, domain.CollectionRemindersArchive, snap.ID, r); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
				return moved, fmt.Errorf("archive reminder %s: %w", snap.ID, err)
			}
			if err := a.store.Delete(ctx, domain.CollectionReminders, snap.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return moved, fmt.Errorf("delete reminder %s: %w", snap.ID, err)
			}
			moved++
		}
	}
	return moved, nil
}
