package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/store"
)

// DeliveryLog remembers the response given to each exact webhook body so a
// processor retry of an already answered delivery replays the stored
// response. Aggregate state checks in the Reconciler remain the real
// idempotence boundary; this only saves the work.
type DeliveryLog struct {
	store store.Store
	now   func() time.Time
}

func NewDeliveryLog(s store.Store) *DeliveryLog {
	return &DeliveryLog{store: s, now: time.Now}
}

// DeliveryKey is the hex SHA-256 of the raw body.
func DeliveryKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Lookup returns the stored response for key, or nil if the body was never
// answered with success.
func (l *DeliveryLog) Lookup(ctx context.Context, key string) (*models.WebhookResponse, error) {
	var d domain.WebhookDelivery
	err := l.store.Get(ctx, domain.CollectionWebhookDeliveries, key, &d)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery %s: %w", key, err)
	}
	if err := l.store.Update(ctx, domain.CollectionWebhookDeliveries, key, map[string]any{
		"deliveries":   d.Deliveries + 1,
		"last_seen_at": l.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("touch delivery %s: %w", key, err)
	}
	return &models.WebhookResponse{Status: d.Status, Reason: "already_processed"}, nil
}

// Record stores a success response for key. Ignored and partially failed
// deliveries are not stored, so a resend is reconciled again.
func (l *DeliveryLog) Record(ctx context.Context, key string, ev models.WebhookEvent, resp models.WebhookResponse) error {
	if resp.Status != models.WebhookSuccess || resp.Reason == ReasonPartialFailure {
		return nil
	}
	now := l.now().UTC()
	err := l.store.Create(ctx, domain.CollectionWebhookDeliveries, key, domain.WebhookDelivery{
		ID:         key,
		Event:      ev.Event,
		Reference:  ev.Data.Reference,
		Status:     resp.Status,
		Reason:     resp.Reason,
		Deliveries: 1,
		ReceivedAt: now,
		LastSeenAt: now,
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("record delivery %s: %w", key, err)
	}
	return nil
}
