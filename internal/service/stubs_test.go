package service

import (
	"context"
	"errors"
	"sync"

	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/events"
	"github.com/punchamoorthee/payla/internal/notify"
	"github.com/punchamoorthee/payla/internal/paystack"
	"github.com/punchamoorthee/payla/internal/store"
)

type enqueued struct {
	userID    string
	amount    int64
	reference string
}

type stubEnqueuer struct {
	mu    sync.Mutex
	calls []enqueued
	err   error
}

func (e *stubEnqueuer) EnqueuePayout(ctx context.Context, userID string, amount int64, reference string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, enqueued{userID, amount, reference})
	return e.err
}

type stubCanceller struct {
	invoices []string
}

func (c *stubCanceller) CancelPending(ctx context.Context, invoiceID, reason string) (int, error) {
	c.invoices = append(c.invoices, invoiceID)
	return 0, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	notes []notify.Note
}

func (n *stubNotifier) Notify(ctx context.Context, userID string, note notify.Note) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *stubNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notes))
	for i, note := range n.notes {
		out[i] = note.Type
	}
	return out
}

type stubPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *stubPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *stubPublisher) Close() {}

type stubTransferAPI struct {
	mu           sync.Mutex
	recipients   int
	transfers    []paystack.TransferRequest
	recipientErr error
	transferErrs []error
	result       paystack.TransferResult
}

func (a *stubTransferAPI) CreateRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recipients++
	if a.recipientErr != nil {
		return "", a.recipientErr
	}
	return "RCP_" + accountNumber, nil
}

func (a *stubTransferAPI) CreateTransfer(ctx context.Context, req paystack.TransferRequest) (paystack.TransferResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.transfers)
	a.transfers = append(a.transfers, req)
	if n < len(a.transferErrs) && a.transferErrs[n] != nil {
		return paystack.TransferResult{}, a.transferErrs[n]
	}
	if a.result.OK || a.result.Message != "" {
		return a.result, nil
	}
	return paystack.TransferResult{OK: true, Reference: req.Reference, TransferCode: "TRF_1", Status: "pending"}, nil
}

func (a *stubTransferAPI) transferCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transfers)
}

// failingStore fails reads of one collection.
type failingStore struct {
	store.Store
	collection string
}

var errStoreDown = errors.New("store unavailable")

func (s failingStore) Get(ctx context.Context, collection, id string, dst any) error {
	if collection == s.collection {
		return errStoreDown
	}
	return s.Store.Get(ctx, collection, id, dst)
}

func completeUser(id string) domain.User {
	return domain.User{
		ID:                  id,
		Email:               id + "@example.com",
		BusinessName:        "Ada Designs",
		Classification:      domain.BusinessStandard,
		PayoutBank:          "058",
		PayoutAccountNumber: "0123456789",
		PayoutAccountName:   "Ada Obi",
		Plan:                domain.PlanFree,
	}
}
