package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	nudgeLeadTime = 72 * time.Hour
	expiryGrace   = time.Hour
	nudgeBatch    = 200
)

// BillingNudger emails subscribers whose plan is about to lapse or has
// lapsed, and downgrades expired plans. Each nudge is claimed with a
// compare-and-set on billing_nudge_status before the email goes out.
type BillingNudger struct {
	store    store.Store
	mailer   channel.Sender
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewBillingNudger(s store.Store, mailer channel.Sender, interval time.Duration, log logrus.FieldLogger) *BillingNudger {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BillingNudger{store: s, mailer: mailer, interval: interval, log: log, now: time.Now}
}

func (b *BillingNudger) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if _, err := b.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.log.WithError(err).Error("billing nudge sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep sends due nudges and returns how many users it moved.
func (b *BillingNudger) Sweep(ctx context.Context) (int, error) {
	now := b.now().UTC()

	expiring, err := b.store.Query(ctx, domain.CollectionUsers, []store.Filter{
		store.Where("plan", store.OpEq, domain.PlanSilver),
		store.Where("billing_nudge_status", store.OpEq, string(domain.NudgeActive)),
		store.Where("subscription_end", store.OpGt, now),
		store.Where("subscription_end", store.OpLte, now.Add(nudgeLeadTime)),
	}, store.QueryOptions{Limit: nudgeBatch})
	if err != nil {
		return 0, fmt.Errorf("query expiring subscriptions: %w", err)
	}
	expired, err := b.store.Query(ctx, domain.CollectionUsers, []store.Filter{
		store.Where("plan", store.OpEq, domain.PlanSilver),
		store.Where("subscription_end", store.OpLte, now.Add(-expiryGrace)),
	}, store.QueryOptions{Limit: nudgeBatch})
	if err != nil {
		return 0, fmt.Errorf("query expired subscriptions: %w", err)
	}

	moved := 0
	for _, snap := range expiring {
		var u domain.User
		if err := snap.Decode(&u); err != nil {
			b.log.WithError(err).WithField("user_id", snap.ID).Warn("skipping undecodable user")
			continue
		}
		if b.advance(ctx, &u, domain.Nudge72hSent, nil, now) {
			b.email(ctx, &u, channel.Message{
				Subject: "Your Payla Silver plan expires soon",
				Body:    fmt.Sprintf("Hi %s,\n\nYour Silver plan expires on %s. Renew now to keep unlimited invoices and automated reminders.", displayName(&u), u.SubscriptionEnd.Format("2 Jan 2006 15:04 MST")),
			})
			moved++
		}
	}
	for _, snap := range expired {
		var u domain.User
		if err := snap.Decode(&u); err != nil {
			b.log.WithError(err).WithField("user_id", snap.ID).Warn("skipping undecodable user")
			continue
		}
		if u.BillingNudgeStatus == domain.NudgeExpiredSent {
			continue
		}
		downgrade := map[string]any{"plan": domain.PlanFree, "is_active": false}
		if b.advance(ctx, &u, domain.NudgeExpiredSent, downgrade, now) {
			b.email(ctx, &u, channel.Message{
				Subject: "Your Payla Silver plan has expired",
				Body:    fmt.Sprintf("Hi %s,\n\nYour Silver plan has expired and your account is now on the Free plan. Renew any time to restore your Silver features.", displayName(&u)),
			})
			moved++
		}
	}
	if moved > 0 {
		b.log.WithField("count", moved).Info("billing nudges sent")
	}
	return moved, nil
}

// advance claims the next nudge state; false means another sweep got there first.
func (b *BillingNudger) advance(ctx context.Context, u *domain.User, next domain.NudgeStatus, extra map[string]any, now time.Time) bool {
	fields := map[string]any{
		"billing_nudge_status": next,
		"last_nudge_date":      now,
	}
	for k, v := range extra {
		fields[k] = v
	}
	var expected any
	if u.BillingNudgeStatus != "" {
		expected = string(u.BillingNudgeStatus)
	}
	err := b.store.UpdateIf(ctx, domain.CollectionUsers, u.ID, "billing_nudge_status", expected, fields)
	if err == nil {
		return true
	}
	if !errors.Is(err, store.ErrConflict) {
		b.log.WithError(err).WithField("user_id", u.ID).Error("update billing nudge status")
	}
	return false
}

func (b *BillingNudger) email(ctx context.Context, u *domain.User, msg channel.Message) {
	if b.mailer == nil || u.Email == "" {
		return
	}
	if err := b.mailer.Send(ctx, u.Email, msg); err != nil {
		b.log.WithError(err).WithField("user_id", u.ID).Warn("billing nudge email failed")
	}
}

func displayName(u *domain.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.BusinessName != "" {
		return u.BusinessName
	}
	return "there"
}
