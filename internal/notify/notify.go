package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

// Notification types.
const (
	TypeInvoicePaid       = "invoice_paid"
	TypePaylinkPayment    = "paylink_payment"
	TypePayoutSent        = "payout_sent"
	TypePayoutFailed      = "payout_failed"
	TypePayoutBlocked     = "payout_blocked"
	TypePayoutSetup       = "payout_setup_required"
	TypeSubscriptionAdded = "subscription_activated"
)

type Note struct {
	Type    string
	Title   string
	Message string
	Link    string
}

// Pusher delivers a device push. Implementations must be safe for concurrent use.
type Pusher interface {
	Push(ctx context.Context, deviceToken string, note Note) error
}

// Notifier records in-app notifications and pushes them to the user's device.
type Notifier struct {
	store  store.Store
	pusher Pusher
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewNotifier(s store.Store, pusher Pusher, log logrus.FieldLogger) *Notifier {
	return &Notifier{store: s, pusher: pusher, log: log, now: time.Now}
}

// Notify persists the notification; push delivery is best effort.
func (n *Notifier) Notify(ctx context.Context, userID string, note Note) error {
	rec := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      note.Type,
		Title:     note.Title,
		Message:   note.Message,
		Link:      note.Link,
		CreatedAt: n.now().UTC(),
	}
	if err := n.store.Create(ctx, domain.CollectionNotifications, rec.ID, rec); err != nil {
		return fmt.Errorf("store notification for %s: %w", userID, err)
	}

	if n.pusher == nil {
		return nil
	}
	var user domain.User
	if err := n.store.Get(ctx, domain.CollectionUsers, userID, &user); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.log.WithError(err).WithField("user_id", userID).Warn("push skipped: user lookup failed")
		}
		return nil
	}
	if user.DeviceToken == "" {
		return nil
	}
	if err := n.pusher.Push(ctx, user.DeviceToken, note); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "type": note.Type}).Warn("push delivery failed")
	}
	return nil
}
