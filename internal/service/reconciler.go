package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/events"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/notify"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payla_webhook_events_total",
		Help: "Webhook events reconciled, labeled by event and outcome",
	}, []string{"event", "status"})

	branchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payla_reconcile_branch_errors_total",
		Help: "Reconciliation branches that failed on a store or queue error",
	}, []string{"branch"})
)

// PayoutEnqueuer hands a payout to the asynchronous work queue.
type PayoutEnqueuer interface {
	EnqueuePayout(ctx context.Context, userID string, amount int64, reference string) error
}

// ReminderCanceller cancels every pending reminder for an invoice.
type ReminderCanceller interface {
	CancelPending(ctx context.Context, invoiceID, reason string) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, note notify.Note) error
}

// Charge branches resolved from the metadata bag.
type (
	InvoiceCharge struct {
		InvoiceID string
		UserID    string
	}
	PaylinkCharge struct {
		PaylinkID string
		UserID    string
	}
	SubscriptionCharge struct {
		UserID   string
		PlanCode string
		Cycle    string
	}
)

type charge interface{ branch() string }

func (InvoiceCharge) branch() string      { return "invoice" }
func (PaylinkCharge) branch() string      { return "paylink" }
func (SubscriptionCharge) branch() string { return "subscription" }

// ClassifyCharge resolves the metadata bag of a charge into its branches.
// Branches missing required keys are reported in skipped and left out.
func ClassifyCharge(md models.Metadata) (branches []charge, skipped []string) {
	kind := md.String("type")
	userID := md.String("user_id")

	if id := md.String("invoice_id"); id != "" {
		branches = append(branches, InvoiceCharge{InvoiceID: id, UserID: userID})
	}

	if kind == "paylink" || md.String("paylink_id") != "" {
		branches = append(branches, PaylinkCharge{PaylinkID: md.String("paylink_id"), UserID: userID})
	}

	planCode := md.String("plan_code")
	if planCode != "" || kind == "subscription_initial" || kind == "silver_plan" {
		if userID == "" {
			skipped = append(skipped, "subscription: missing user_id")
		} else {
			branches = append(branches, SubscriptionCharge{
				UserID:   userID,
				PlanCode: planCode,
				Cycle:    billingCycle(md.String("billing_cycle"), md.String("interval")),
			})
		}
	}
	return branches, skipped
}

func billingCycle(values ...string) string {
	for _, v := range values {
		switch strings.ToLower(v) {
		case "annually", "annual", "yearly":
			return domain.CycleAnnual
		}
	}
	return domain.CycleMonthly
}

type outcome struct {
	applied   bool
	duplicate bool
	failed    bool
	reason    string
}

const sourceSubscription = "subscription"

// ReasonPartialFailure marks a success where at least one branch errored.
// The delivery log does not keep such answers, so a resend retries the
// failed branch while the applied ones report duplicates.
const ReasonPartialFailure = "partial_failure"

// Reconciler applies processor events to invoices, paylink transactions,
// subscriptions and payouts. Every branch checks the aggregate's current
// state before producing side effects, so redelivery is a no-op.
type Reconciler struct {
	store     store.Store
	payouts   PayoutEnqueuer
	reminders ReminderCanceller
	notifier  Notifier
	events    events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewReconciler(s store.Store, payouts PayoutEnqueuer, reminders ReminderCanceller, notifier Notifier, pub events.Publisher, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:     s,
		payouts:   payouts,
		reminders: reminders,
		notifier:  notifier,
		events:    pub,
		log:       log,
		now:       time.Now,
	}
}

// Reconcile never fails the delivery for a business reason; the response
// reports whether anything was applied.
func (r *Reconciler) Reconcile(ctx context.Context, ev models.WebhookEvent) models.WebhookResponse {
	log := r.log.WithFields(logrus.Fields{"event": ev.Event, "reference": ev.Data.Reference})

	var resp models.WebhookResponse
	switch ev.Event {
	case models.EventChargeSuccess:
		resp = r.chargeSuccess(ctx, ev.Data, log)
	case models.EventChargeFailed:
		log.WithField("reason", ev.Data.Reason).Warn("charge failed")
		resp = ignored("charge_failed")
	case models.EventTransferSuccess:
		resp = r.single("transfer", log, func() (outcome, error) { return r.transferSuccess(ctx, ev.Data, log) })
	case models.EventTransferFailed, models.EventTransferReversed:
		resp = r.single("transfer", log, func() (outcome, error) { return r.transferFailed(ctx, ev.Event, ev.Data, log) })
	case models.EventSubscriptionDisable, models.EventSubscriptionNoRenew:
		resp = r.single("subscription", log, func() (outcome, error) { return r.subscriptionDisabled(ctx, ev.Data, log) })
	default:
		log.Info("event not handled")
		resp = ignored("unhandled_event")
	}

	webhookEventsTotal.WithLabelValues(ev.Event, resp.Status).Inc()
	return resp
}

func (r *Reconciler) chargeSuccess(ctx context.Context, data models.EventData, log logrus.FieldLogger) models.WebhookResponse {
	if data.Reference == "" {
		log.Warn("charge without reference")
		return ignored("missing_reference")
	}
	branches, skipped := ClassifyCharge(data.Metadata)
	for _, s := range skipped {
		log.WithField("skipped", s).Warn("charge branch skipped")
	}
	if len(branches) == 0 {
		log.Info("charge matched no aggregate")
		return ignored("no_matching_aggregate")
	}

	outcomes := make([]outcome, 0, len(branches))
	for _, b := range branches {
		blog := log.WithField("branch", b.branch())
		var o outcome
		var err error
		switch c := b.(type) {
		case InvoiceCharge:
			o, err = r.invoiceCharge(ctx, c, data, blog)
		case PaylinkCharge:
			o, err = r.paylinkCharge(ctx, c, data, blog)
		case SubscriptionCharge:
			o, err = r.subscriptionCharge(ctx, c, data, blog)
		}
		if err != nil {
			branchErrorsTotal.WithLabelValues(b.branch()).Inc()
			blog.WithError(err).Error("branch failed")
			o = outcome{failed: true, reason: "processing_error"}
		}
		outcomes = append(outcomes, o)
	}
	return combine(outcomes)
}

func (r *Reconciler) single(branch string, log logrus.FieldLogger, fn func() (outcome, error)) models.WebhookResponse {
	o, err := fn()
	if err != nil {
		branchErrorsTotal.WithLabelValues(branch).Inc()
		log.WithError(err).Error("branch failed")
		o = outcome{failed: true, reason: "processing_error"}
	}
	return combine([]outcome{o})
}

func combine(outcomes []outcome) models.WebhookResponse {
	applied, failed := false, false
	for _, o := range outcomes {
		applied = applied || o.applied
		failed = failed || o.failed
	}
	if applied && failed {
		return models.WebhookResponse{Status: models.WebhookSuccess, Reason: ReasonPartialFailure}
	}
	if applied {
		return models.WebhookResponse{Status: models.WebhookSuccess}
	}
	for _, o := range outcomes {
		if o.duplicate {
			return models.WebhookResponse{Status: models.WebhookSuccess, Reason: "already_processed"}
		}
	}
	reason := ""
	if len(outcomes) > 0 {
		reason = outcomes[0].reason
	}
	return ignored(reason)
}

func ignored(reason string) models.WebhookResponse {
	return models.WebhookResponse{Status: models.WebhookIgnored, Reason: reason}
}

func (r *Reconciler) invoiceCharge(ctx context.Context, c InvoiceCharge, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	log = log.WithField("invoice_id", c.InvoiceID)

	var inv domain.Invoice
	if err := r.store.Get(ctx, domain.CollectionInvoices, c.InvoiceID, &inv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("invoice not found")
			return outcome{reason: "invoice_not_found"}, nil
		}
		return outcome{}, fmt.Errorf("load invoice: %w", err)
	}

	switch inv.Status {
	case domain.InvoicePaid:
		log.Info("invoice already paid")
		return outcome{duplicate: true}, nil
	case domain.InvoicePending, domain.InvoiceOverdue:
	default:
		log.WithField("status", inv.Status).Warn("charge for invoice in non-payable state")
		return outcome{reason: "invoice_" + string(inv.Status)}, nil
	}

	if c.UserID != "" && c.UserID != inv.SenderID {
		log.WithFields(logrus.Fields{"metadata_user": c.UserID, "sender_id": inv.SenderID}).Warn("metadata user differs from invoice owner")
	}

	// The job goes out before the invoice turns paid: a failed enqueue leaves
	// the invoice payable so the redelivery tries again. A job doubled by a
	// concurrent delivery is absorbed by the payout lock on the reference.
	amount := r.payoutAmount(data, log)
	if err := r.payouts.EnqueuePayout(ctx, inv.SenderID, amount, data.Reference); err != nil {
		branchErrorsTotal.WithLabelValues("invoice_enqueue").Inc()
		return outcome{}, fmt.Errorf("enqueue payout: %w", err)
	}

	now := r.now().UTC()
	err := r.store.UpdateIf(ctx, domain.CollectionInvoices, inv.ID, "status", inv.Status, map[string]any{
		"status":                domain.InvoicePaid,
		"paid_at":               now,
		"transaction_reference": data.Reference,
		"payer_email":           data.Customer.Email,
		"payout_status":         "pending",
		"updated_at":            now,
	})
	if errors.Is(err, store.ErrConflict) {
		log.Info("invoice changed concurrently, treating as duplicate")
		return outcome{duplicate: true}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("mark invoice paid: %w", err)
	}

	if n, err := r.reminders.CancelPending(ctx, inv.ID, "invoice_paid"); err != nil {
		log.WithError(err).Error("cancel reminders")
	} else if n > 0 {
		log.WithField("cancelled", n).Info("pending reminders cancelled")
	}

	r.recordPayment(ctx, domain.Payment{
		Reference:  data.Reference,
		UserID:     inv.SenderID,
		Source:     "invoice",
		SourceID:   inv.ID,
		Amount:     amount,
		Currency:   data.Currency,
		Channel:    data.Channel,
		PayerEmail: data.Customer.Email,
		PaidAt:     now,
	}, log)

	r.notify(ctx, inv.SenderID, notify.Note{
		Type:    notify.TypeInvoicePaid,
		Title:   "Invoice Paid!",
		Message: fmt.Sprintf("%s paid %s for %q.", payerName(inv.ClientName, data.Customer), domain.FormatAmount(inv.Currency, amount), inv.Description),
		Link:    "/invoices/" + inv.ID,
	}, log)

	r.publish(ctx, events.Event{
		Type:      events.TypePaymentSucceeded,
		Reference: data.Reference,
		UserID:    inv.SenderID,
		Source:    "invoice",
		Amount:    amount,
		Currency:  data.Currency,
		Email:     data.Customer.Email,
	}, log)

	log.WithField("amount", amount).Info("invoice marked paid")
	return outcome{applied: true}, nil
}

func (r *Reconciler) paylinkCharge(ctx context.Context, c PaylinkCharge, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	now := r.now().UTC()
	amount := r.payoutAmount(data, log)
	payoutState := domain.PayoutPendingManual
	if data.HasSubaccount() {
		payoutState = domain.PayoutSplitAutomated
	}

	var txn domain.PaylinkTransaction
	err := r.store.Get(ctx, domain.CollectionPaylinkTransactions, data.Reference, &txn)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if c.UserID == "" {
			log.Warn("paylink transaction not found and metadata has no user_id")
			return outcome{reason: "transaction_not_found"}, nil
		}
		if err := r.enqueuePaylinkPayout(ctx, c.UserID, amount, data.Reference, payoutState); err != nil {
			return outcome{}, err
		}
		txn = domain.PaylinkTransaction{
			ID:              data.Reference,
			PaylinkID:       c.PaylinkID,
			UserID:          c.UserID,
			AmountRequested: amount,
			AmountPaid:      amount,
			PayerEmail:      data.Customer.Email,
			PayerName:       strings.TrimSpace(data.Customer.FirstName + " " + data.Customer.LastName),
			Status:          domain.TxnSuccess,
			PayoutStatus:    payoutState,
			PaidAt:          &now,
			CreatedAt:       now,
			LastUpdate:      now,
		}
		if err := r.store.Create(ctx, domain.CollectionPaylinkTransactions, txn.ID, txn); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return outcome{duplicate: true}, nil
			}
			return outcome{}, fmt.Errorf("create paylink transaction: %w", err)
		}
	case err != nil:
		return outcome{}, fmt.Errorf("load paylink transaction: %w", err)
	case txn.Status == domain.TxnSuccess:
		log.Info("paylink transaction already settled")
		return outcome{duplicate: true}, nil
	default:
		if err := r.enqueuePaylinkPayout(ctx, txn.UserID, amount, data.Reference, payoutState); err != nil {
			return outcome{}, err
		}
		err := r.store.UpdateIf(ctx, domain.CollectionPaylinkTransactions, txn.ID, "status", txn.Status, map[string]any{
			"status":        domain.TxnSuccess,
			"amount_paid":   amount,
			"payer_email":   data.Customer.Email,
			"payout_status": payoutState,
			"paid_at":       now,
			"last_update":   now,
		})
		if errors.Is(err, store.ErrConflict) {
			return outcome{duplicate: true}, nil
		}
		if err != nil {
			return outcome{}, fmt.Errorf("settle paylink transaction: %w", err)
		}
	}

	log = log.WithFields(logrus.Fields{"user_id": txn.UserID, "paylink_id": txn.PaylinkID})
	if payoutState == domain.PayoutSplitAutomated {
		log.Info("split settlement, no transfer needed")
	}

	r.recordPayment(ctx, domain.Payment{
		Reference:  data.Reference,
		UserID:     txn.UserID,
		Source:     "paylink",
		SourceID:   txn.PaylinkID,
		Amount:     amount,
		Currency:   data.Currency,
		Channel:    data.Channel,
		PayerEmail: data.Customer.Email,
		PaidAt:     now,
	}, log)

	r.notify(ctx, txn.UserID, notify.Note{
		Type:    notify.TypePaylinkPayment,
		Title:   "Payment received",
		Message: fmt.Sprintf("%s paid %s through your payment link.", payerName("", data.Customer), domain.FormatAmount(data.Currency, amount)),
		Link:    "/paylinks/transactions/" + data.Reference,
	}, log)

	r.publish(ctx, events.Event{
		Type:      events.TypePaymentSucceeded,
		Reference: data.Reference,
		UserID:    txn.UserID,
		Source:    "paylink",
		Amount:    amount,
		Currency:  data.Currency,
		Email:     data.Customer.Email,
	}, log)

	log.WithField("amount", amount).Info("paylink transaction settled")
	return outcome{applied: true}, nil
}

// enqueuePaylinkPayout runs before the transaction is settled so a queue
// outage leaves it unsettled for the redelivery.
func (r *Reconciler) enqueuePaylinkPayout(ctx context.Context, userID string, amount int64, reference string, state domain.PayoutState) error {
	if state == domain.PayoutSplitAutomated {
		return nil
	}
	if err := r.payouts.EnqueuePayout(ctx, userID, amount, reference); err != nil {
		branchErrorsTotal.WithLabelValues("paylink_enqueue").Inc()
		return fmt.Errorf("enqueue payout: %w", err)
	}
	return nil
}

// payoutAmount is the charge in whole naira. Payouts are whole-naira
// transfers; a kobo remainder stays with the platform and is logged.
func (r *Reconciler) payoutAmount(data models.EventData, log logrus.FieldLogger) int64 {
	if rem := data.Amount % 100; rem != 0 {
		log.WithFields(logrus.Fields{"amount_kobo": data.Amount, "remainder_kobo": rem}).Warn("charge has a sub-naira remainder")
	}
	return data.MajorAmount()
}

func (r *Reconciler) subscriptionCharge(ctx context.Context, c SubscriptionCharge, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	log = log.WithField("user_id", c.UserID)

	var user domain.User
	if err := r.store.Get(ctx, domain.CollectionUsers, c.UserID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("subscriber not found")
			return outcome{reason: "user_not_found"}, nil
		}
		return outcome{}, fmt.Errorf("load user: %w", err)
	}
	if user.LastPaymentRef == data.Reference {
		log.Info("subscription payment already applied")
		return outcome{duplicate: true}, nil
	}
	// An older renewal arriving late must not reset the current period.
	var prior domain.Payment
	err := r.store.Get(ctx, domain.CollectionPayments, data.Reference, &prior)
	switch {
	case err == nil && prior.Source == sourceSubscription:
		log.WithField("last_payment_ref", user.LastPaymentRef).Info("stale subscription payment already applied")
		return outcome{duplicate: true}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return outcome{}, fmt.Errorf("load payment: %w", err)
	}

	// The new period starts now, not at the previous expiry; unused days on a
	// late renewal are forfeited.
	now := r.now().UTC()
	days := 30
	if c.Cycle == domain.CycleAnnual {
		days = 365
	}
	end := now.AddDate(0, 0, days)

	subID := data.Subscription
	if subID == "" {
		subID = c.PlanCode
	}
	if err := r.store.Update(ctx, domain.CollectionUsers, user.ID, map[string]any{
		"plan":                 domain.PlanSilver,
		"is_active":            true,
		"billing_cycle":        c.Cycle,
		"subscription_id":      subID,
		"subscription_start":   now,
		"subscription_end":     end,
		"last_payment_ref":     data.Reference,
		"billing_nudge_status": domain.NudgeActive,
		"last_nudge_date":      nil,
	}); err != nil {
		return outcome{}, fmt.Errorf("activate subscription: %w", err)
	}

	if err := r.store.Delete(ctx, domain.CollectionPendingSubscriptions, data.Reference); err != nil {
		log.WithError(err).Warn("clear pending subscription")
	}

	r.recordPayment(ctx, domain.Payment{
		Reference:  data.Reference,
		UserID:     user.ID,
		Source:     sourceSubscription,
		SourceID:   subID,
		Amount:     data.MajorAmount(),
		Currency:   data.Currency,
		Channel:    data.Channel,
		PayerEmail: data.Customer.Email,
		PaidAt:     now,
	}, log)

	r.notify(ctx, user.ID, notify.Note{
		Type:    notify.TypeSubscriptionAdded,
		Title:   "Subscription active",
		Message: fmt.Sprintf("Your Silver plan is active until %s.", end.Format("2 Jan 2006")),
		Link:    "/billing",
	}, log)

	log.WithFields(logrus.Fields{"cycle": c.Cycle, "subscription_end": end}).Info("subscription extended")
	return outcome{applied: true}, nil
}

func (r *Reconciler) subscriptionDisabled(ctx context.Context, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	if data.Subscription == "" {
		return outcome{reason: "missing_subscription_code"}, nil
	}
	snaps, err := r.store.Query(ctx, domain.CollectionUsers,
		[]store.Filter{store.Where("subscription_id", store.OpEq, data.Subscription)},
		store.QueryOptions{Limit: 1})
	if err != nil {
		return outcome{}, fmt.Errorf("find subscriber: %w", err)
	}
	if len(snaps) == 0 {
		log.WithField("subscription", data.Subscription).Warn("no user for subscription")
		return outcome{reason: "user_not_found"}, nil
	}
	var user domain.User
	if err := snaps[0].Decode(&user); err != nil {
		return outcome{}, err
	}
	if user.Plan == domain.PlanFree {
		return outcome{duplicate: true}, nil
	}
	if err := r.store.Update(ctx, domain.CollectionUsers, user.ID, map[string]any{
		"plan":            domain.PlanFree,
		"subscription_id": "",
	}); err != nil {
		return outcome{}, fmt.Errorf("downgrade user: %w", err)
	}
	log.WithField("user_id", user.ID).Info("subscription disabled")
	return outcome{applied: true}, nil
}

func (r *Reconciler) findPayout(ctx context.Context, reference string) (*domain.Payout, error) {
	var p domain.Payout
	err := r.store.Get(ctx, domain.CollectionPayouts, reference, &p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	snaps, err := r.store.Query(ctx, domain.CollectionPayouts,
		[]store.Filter{store.Where("transfer_reference", store.OpEq, reference)},
		store.QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, store.ErrNotFound
	}
	if err := snaps[0].Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Reconciler) transferSuccess(ctx context.Context, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	p, err := r.findPayout(ctx, data.Reference)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("transfer for unknown payout")
		return outcome{reason: "payout_not_found"}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load payout: %w", err)
	}
	switch p.Status {
	case domain.PayoutStatusSuccess:
		if p.CompletedAt != nil {
			return outcome{duplicate: true}, nil
		}
	case domain.PayoutStatusProcessing, domain.PayoutStatusFailed:
		// A transfer reported failed locally (timeout) can still settle.
	default:
		log.WithField("status", p.Status).Warn("transfer success for payout in unexpected state")
		return outcome{reason: "payout_" + string(p.Status)}, nil
	}

	now := r.now().UTC()
	if err := r.store.Update(ctx, domain.CollectionPayouts, p.ID, map[string]any{
		"status":       domain.PayoutStatusSuccess,
		"completed_at": now,
		"updated_at":   now,
	}); err != nil {
		return outcome{}, fmt.Errorf("complete payout: %w", err)
	}
	log.WithField("payout", p.ID).Info("transfer completed")
	return outcome{applied: true}, nil
}

func (r *Reconciler) transferFailed(ctx context.Context, event string, data models.EventData, log logrus.FieldLogger) (outcome, error) {
	p, err := r.findPayout(ctx, data.Reference)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("transfer failure for unknown payout")
		return outcome{reason: "payout_not_found"}, nil
	}
	if err != nil {
		return outcome{}, fmt.Errorf("load payout: %w", err)
	}
	if p.Status == domain.PayoutStatusFailed {
		return outcome{duplicate: true}, nil
	}

	reason := data.Reason
	if reason == "" {
		reason = event
	}
	now := r.now().UTC()
	if err := r.store.Update(ctx, domain.CollectionPayouts, p.ID, map[string]any{
		"status":     domain.PayoutStatusFailed,
		"error":      reason,
		"failed_at":  now,
		"updated_at": now,
	}); err != nil {
		return outcome{}, fmt.Errorf("fail payout: %w", err)
	}
	if err := r.store.Update(ctx, domain.CollectionPaylinkTransactions, p.ID, map[string]any{
		"payout_status": domain.PayoutFailed,
		"last_update":   now,
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Warn("update paylink payout status")
	}

	r.notify(ctx, p.UserID, notify.Note{
		Type:    notify.TypePayoutFailed,
		Title:   "Payout Failed",
		Message: fmt.Sprintf("Your payout of %s could not be completed: %s.", domain.FormatAmount("NGN", p.AmountSent), reason),
		Link:    "/payouts/" + p.ID,
	}, log)
	r.publish(ctx, events.Event{
		Type:      events.TypePayoutFailed,
		Reference: p.ID,
		UserID:    p.UserID,
		Amount:    p.AmountSent,
		Reason:    reason,
	}, log)

	log.WithFields(logrus.Fields{"payout": p.ID, "reason": reason}).Warn("transfer failed at processor")
	return outcome{applied: true}, nil
}

func (r *Reconciler) recordPayment(ctx context.Context, p domain.Payment, log logrus.FieldLogger) {
	if err := r.store.Set(ctx, domain.CollectionPayments, p.Reference, p); err != nil {
		log.WithError(err).Warn("record payment")
	}
}

func (r *Reconciler) notify(ctx context.Context, userID string, note notify.Note, log logrus.FieldLogger) {
	if err := r.notifier.Notify(ctx, userID, note); err != nil {
		log.WithError(err).Warn("notify user")
	}
}

func (r *Reconciler) publish(ctx context.Context, e events.Event, log logrus.FieldLogger) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if err := r.events.Publish(ctx, e); err != nil {
		log.WithError(err).Warn("publish event")
	}
}

func payerName(fallback string, c models.Customer) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	switch {
	case name != "":
		return name
	case fallback != "":
		return fallback
	case c.Email != "":
		return c.Email
	}
	return "A customer"
}
