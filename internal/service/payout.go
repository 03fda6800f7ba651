package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/events"
	"github.com/punchamoorthee/payla/internal/notify"
	"github.com/punchamoorthee/payla/internal/paystack"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

var payoutOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payla_payout_outcomes_total",
	Help: "Payout attempts labeled by outcome",
}, []string{"outcome"})

// TransferAPI is the processor's recipient and transfer contract.
type TransferAPI interface {
	CreateRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error)
	CreateTransfer(ctx context.Context, req paystack.TransferRequest) (paystack.TransferResult, error)
}

type PayoutOutcome string

const (
	PayoutSkipped PayoutOutcome = "skipped"
	PayoutLocked  PayoutOutcome = "locked"
	PayoutFailed  PayoutOutcome = "failed"
	PayoutBlocked PayoutOutcome = "blocked"
	PayoutHeld    PayoutOutcome = "held"
	PayoutSent    PayoutOutcome = "sent"
)

type PayoutConfig struct {
	// MinAmount is the smallest amount paid out automatically; smaller
	// payouts are held for manual release.
	MinAmount int64
	// LockTTL bounds how long a processing record blocks other attempts.
	LockTTL time.Duration
}

// PayoutOrchestrator moves collected funds to the user's bank account.
// The payouts/{reference} document is the only mutual exclusion between
// concurrent attempts for one reference.
type PayoutOrchestrator struct {
	store    store.Store
	api      TransferAPI
	notifier Notifier
	events   events.Publisher
	cfg      PayoutConfig
	log      logrus.FieldLogger
	now      func() time.Time
	newToken func() string
}

func NewPayoutOrchestrator(s store.Store, api TransferAPI, notifier Notifier, pub events.Publisher, cfg PayoutConfig, log logrus.FieldLogger) *PayoutOrchestrator {
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = 1000
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	return &PayoutOrchestrator{
		store:    s,
		api:      api,
		notifier: notifier,
		events:   pub,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// IsDraftReference reports references minted for unpublished drafts.
func IsDraftReference(reference string) bool {
	r := strings.ToLower(reference)
	return strings.HasPrefix(r, "draft_") || strings.HasPrefix(r, "draft-")
}

// InitiatePayout runs one payout attempt. A nil error means the attempt
// reached a recorded terminal state or was a no-op. Transient provider
// errors are returned for the queue to retry; permanent ones are returned
// after the user has been notified.
func (o *PayoutOrchestrator) InitiatePayout(ctx context.Context, userID string, amount int64, reference string) (PayoutOutcome, error) {
	log := o.log.WithFields(logrus.Fields{"reference": reference, "user_id": userID, "amount": amount})

	if IsDraftReference(reference) {
		log.Info("draft reference, payout skipped")
		return o.done(PayoutSkipped), nil
	}
	if reference == "" || userID == "" || amount <= 0 {
		return o.done(PayoutSkipped), fmt.Errorf("payout request incomplete: %w", domain.ErrValidation)
	}

	existing, err := o.loadPayout(ctx, reference)
	if err != nil {
		return PayoutFailed, err
	}
	if existing != nil && o.blocksAttempt(existing) {
		log.WithField("status", existing.Status).Info("payout already processing or settled")
		return o.done(PayoutLocked), nil
	}

	var user domain.User
	if err := o.store.Get(ctx, domain.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.recordTerminal(ctx, existing, reference, userID, amount, domain.PayoutStatusFailed, "user_not_found", log)
			return o.done(PayoutFailed), nil
		}
		return PayoutFailed, fmt.Errorf("load user: %w", err)
	}

	if !user.PayoutProfileComplete() {
		o.recordTerminal(ctx, existing, reference, userID, amount, domain.PayoutStatusFailed, "incomplete_payout_details", log)
		o.setPaylinkState(ctx, reference, domain.PayoutFailed, log)
		o.notify(ctx, userID, notify.Note{
			Type:    notify.TypePayoutSetup,
			Title:   "Payout Failed",
			Message: fmt.Sprintf("We received %s for you but could not pay it out. Complete your payout setup (bank, account number and account name) to receive it.", domain.FormatAmount("NGN", amount)),
			Link:    "/settings/payouts",
		}, log)
		return o.done(PayoutFailed), nil
	}

	if user.Classification.BlocksPayouts() {
		o.recordTerminal(ctx, existing, reference, userID, amount, domain.PayoutStatusBlocked, "business_classification_"+string(user.Classification), log)
		o.setPaylinkState(ctx, reference, domain.PayoutHeld, log)
		o.notify(ctx, userID, notify.Note{
			Type:    notify.TypePayoutBlocked,
			Title:   "Payout on hold",
			Message: "Payouts are not available for your business category. Contact support to review your account.",
			Link:    "/support",
		}, log)
		return o.done(PayoutBlocked), nil
	}

	if amount < o.cfg.MinAmount {
		o.recordTerminal(ctx, existing, reference, userID, amount, domain.PayoutStatusHeld, "below_minimum", log)
		o.setPaylinkState(ctx, reference, domain.PayoutHeld, log)
		log.WithField("minimum", o.cfg.MinAmount).Info("payout held below minimum")
		return o.done(PayoutHeld), nil
	}

	if err := o.acquire(ctx, existing, userID, amount, reference); err != nil {
		if errors.Is(err, domain.ErrLockConflict) {
			log.Info("lost payout lock to a concurrent attempt")
			return o.done(PayoutLocked), nil
		}
		return PayoutFailed, fmt.Errorf("acquire payout lock: %w", err)
	}

	recipient, err := o.resolveRecipient(ctx, &user)
	if err != nil {
		return o.failAttempt(ctx, reference, userID, amount, "recipient creation failed", err, log)
	}

	send, fee := TransferAmount(amount)
	res, err := o.api.CreateTransfer(ctx, paystack.TransferRequest{
		Recipient: recipient,
		Amount:    send,
		Reason:    "Payla payout " + reference,
		Reference: reference,
	})
	if err == nil && !res.OK {
		err = domain.Permanent("create transfer", 0, errors.New(res.Message))
	}
	if err != nil {
		return o.failAttempt(ctx, reference, userID, amount, "transfer failed", err, log)
	}

	transferRef := res.Reference
	if transferRef == "" {
		transferRef = reference
	}
	now := o.now().UTC()
	if err := o.store.Update(ctx, domain.CollectionPayouts, reference, map[string]any{
		"status":             domain.PayoutStatusSuccess,
		"amount_sent":        send,
		"fee":                fee,
		"recipient_used":     recipient,
		"transfer_reference": transferRef,
		"transferred_at":     now,
		"error":              "",
		"updated_at":         now,
	}); err != nil {
		// The transfer went out; the transfer.success webhook completes the record.
		log.WithError(err).Error("record payout success")
	}
	o.setPaylinkState(ctx, reference, domain.PayoutSettledByPaystack, log)
	o.notify(ctx, userID, notify.Note{
		Type:    notify.TypePayoutSent,
		Title:   "Payout sent",
		Message: fmt.Sprintf("%s is on its way to your %s account.", domain.FormatAmount("NGN", send), user.PayoutBank),
		Link:    "/payouts/" + reference,
	}, log)
	o.publish(ctx, events.Event{
		Type:      events.TypePayoutCompleted,
		Reference: reference,
		UserID:    userID,
		Amount:    send,
		Currency:  "NGN",
		Email:     user.Email,
	}, log)

	log.WithFields(logrus.Fields{"sent": send, "fee": fee, "transfer_reference": transferRef}).Info("payout sent")
	return o.done(PayoutSent), nil
}

// FailPermanently records a payout whose retries are exhausted and tells the user.
func (o *PayoutOrchestrator) FailPermanently(ctx context.Context, userID string, amount int64, reference string, cause error) error {
	log := o.log.WithFields(logrus.Fields{"reference": reference, "user_id": userID})
	existing, err := o.loadPayout(ctx, reference)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == domain.PayoutStatusSuccess {
		return nil
	}
	o.recordTerminal(ctx, existing, reference, userID, amount, domain.PayoutStatusFailed, "retries_exhausted: "+cause.Error(), log)
	o.setPaylinkState(ctx, reference, domain.PayoutFailed, log)
	o.notify(ctx, userID, notify.Note{
		Type:    notify.TypePayoutFailed,
		Title:   "Payout Failed",
		Message: fmt.Sprintf("We could not send your payout of %s after several attempts. Our team has been alerted.", domain.FormatAmount("NGN", amount)),
		Link:    "/payouts/" + reference,
	}, log)
	o.publish(ctx, events.Event{Type: events.TypePayoutFailed, Reference: reference, UserID: userID, Amount: amount, Reason: cause.Error()}, log)
	payoutOutcomesTotal.WithLabelValues("exhausted").Inc()
	return nil
}

// Get returns the payout record for a reference.
func (o *PayoutOrchestrator) Get(ctx context.Context, reference string) (*domain.Payout, error) {
	var p domain.Payout
	if err := o.store.Get(ctx, domain.CollectionPayouts, reference, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (o *PayoutOrchestrator) done(out PayoutOutcome) PayoutOutcome {
	payoutOutcomesTotal.WithLabelValues(string(out)).Inc()
	return out
}

func (o *PayoutOrchestrator) loadPayout(ctx context.Context, reference string) (*domain.Payout, error) {
	var p domain.Payout
	err := o.store.Get(ctx, domain.CollectionPayouts, reference, &p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	return &p, nil
}

// blocksAttempt: success is final; processing blocks until the lock goes stale.
func (o *PayoutOrchestrator) blocksAttempt(p *domain.Payout) bool {
	switch p.Status {
	case domain.PayoutStatusSuccess:
		return true
	case domain.PayoutStatusProcessing:
		return p.LockedAt == nil || o.now().Sub(*p.LockedAt) < o.cfg.LockTTL
	}
	return false
}

// acquire moves the payout record to processing with a fresh lock token.
// A new record is created with Create; an existing one is taken over with
// UpdateIf on the field that identifies the state we observed. Either call
// losing the race surfaces as ErrLockConflict.
func (o *PayoutOrchestrator) acquire(ctx context.Context, existing *domain.Payout, userID string, amount int64, reference string) error {
	now := o.now().UTC()
	token := o.newToken()

	if existing == nil {
		err := o.store.Create(ctx, domain.CollectionPayouts, reference, domain.Payout{
			ID:        reference,
			UserID:    userID,
			Amount:    amount,
			Status:    domain.PayoutStatusProcessing,
			LockToken: token,
			LockedAt:  &now,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.ErrLockConflict
		}
		return err
	}

	fields := map[string]any{
		"status":     domain.PayoutStatusProcessing,
		"user_id":    userID,
		"amount":     amount,
		"lock_token": token,
		"locked_at":  now,
		"attempts":   existing.Attempts + 1,
		"error":      "",
		"updated_at": now,
	}
	var err error
	if existing.Status == domain.PayoutStatusProcessing {
		err = o.store.UpdateIf(ctx, domain.CollectionPayouts, reference, "lock_token", existing.LockToken, fields)
	} else {
		err = o.store.UpdateIf(ctx, domain.CollectionPayouts, reference, "status", existing.Status, fields)
	}
	if errors.Is(err, store.ErrConflict) {
		return domain.ErrLockConflict
	}
	return err
}

func (o *PayoutOrchestrator) resolveRecipient(ctx context.Context, user *domain.User) (string, error) {
	if user.PaystackRecipientCode != "" {
		return user.PaystackRecipientCode, nil
	}
	code, err := o.api.CreateRecipient(ctx, user.PayoutAccountNumber, user.PayoutBank, user.PayoutAccountName)
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", domain.Permanent("create recipient", 0, errors.New("processor returned no recipient code"))
	}
	if err := o.store.Update(ctx, domain.CollectionUsers, user.ID, map[string]any{"paystack_recipient_code": code}); err != nil {
		o.log.WithError(err).WithField("user_id", user.ID).Warn("persist recipient code")
	}
	user.PaystackRecipientCode = code
	return code, nil
}

// failAttempt records a failed attempt on the locked record. Permanent
// failures notify the user; transient ones are left to the queue's retry.
func (o *PayoutOrchestrator) failAttempt(ctx context.Context, reference, userID string, amount int64, what string, cause error, log logrus.FieldLogger) (PayoutOutcome, error) {
	now := o.now().UTC()
	msg := fmt.Sprintf("%s: %v", what, cause)
	if err := o.store.Update(ctx, domain.CollectionPayouts, reference, map[string]any{
		"status":     domain.PayoutStatusFailed,
		"error":      msg,
		"failed_at":  now,
		"updated_at": now,
	}); err != nil {
		log.WithError(err).Error("record payout failure")
	}
	log = log.WithError(cause)

	if !domain.IsPermanent(cause) {
		log.Warn(what + ", will retry")
		payoutOutcomesTotal.WithLabelValues("retry").Inc()
		return PayoutFailed, cause
	}

	log.Error(what)
	o.setPaylinkState(ctx, reference, domain.PayoutFailed, log)
	o.notify(ctx, userID, notify.Note{
		Type:    notify.TypePayoutFailed,
		Title:   "Payout Failed",
		Message: fmt.Sprintf("Your payout of %s was rejected by the bank. Check your payout account details.", domain.FormatAmount("NGN", amount)),
		Link:    "/settings/payouts",
	}, log)
	o.publish(ctx, events.Event{Type: events.TypePayoutFailed, Reference: reference, UserID: userID, Amount: amount, Reason: msg}, log)
	return o.done(PayoutFailed), cause
}

// recordTerminal writes a precondition outcome without overwriting a
// record another attempt changed in the meantime.
func (o *PayoutOrchestrator) recordTerminal(ctx context.Context, existing *domain.Payout, reference, userID string, amount int64, status domain.PayoutStatus, reason string, log logrus.FieldLogger) {
	now := o.now().UTC()
	var err error
	if existing == nil {
		err = o.store.Create(ctx, domain.CollectionPayouts, reference, domain.Payout{
			ID:        reference,
			UserID:    userID,
			Amount:    amount,
			Status:    status,
			Error:     reason,
			FailedAt:  failedAt(status, now),
			CreatedAt: now,
			UpdatedAt: now,
		})
	} else {
		err = o.store.UpdateIf(ctx, domain.CollectionPayouts, reference, "status", existing.Status, map[string]any{
			"status":     status,
			"error":      reason,
			"failed_at":  failedAt(status, now),
			"updated_at": now,
		})
	}
	if errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrConflict) {
		log.WithField("status", status).Info("payout record changed concurrently, keeping it")
		return
	}
	if err != nil {
		log.WithError(err).Error("record payout status")
		return
	}
	log.WithFields(logrus.Fields{"status": status, "reason": reason}).Warn("payout stopped")
}

func failedAt(status domain.PayoutStatus, now time.Time) *time.Time {
	if status == domain.PayoutStatusFailed {
		return &now
	}
	return nil
}

func (o *PayoutOrchestrator) setPaylinkState(ctx context.Context, reference string, state domain.PayoutState, log logrus.FieldLogger) {
	err := o.store.Update(ctx, domain.CollectionPaylinkTransactions, reference, map[string]any{
		"payout_status": state,
		"last_update":   o.now().UTC(),
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Warn("update paylink payout status")
	}
}

func (o *PayoutOrchestrator) notify(ctx context.Context, userID string, note notify.Note, log logrus.FieldLogger) {
	if err := o.notifier.Notify(ctx, userID, note); err != nil {
		log.WithError(err).Warn("notify user")
	}
}

func (o *PayoutOrchestrator) publish(ctx context.Context, e events.Event, log logrus.FieldLogger) {
	e.OccurredAt = o.now().UTC()
	if err := o.events.Publish(ctx, e); err != nil {
		log.WithError(err).Warn("publish event")
	}
}
