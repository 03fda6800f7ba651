package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
)

type stubScheduler struct {
	calls    []string
	policies []domain.ReminderPolicy
	err      error
}

func (s *stubScheduler) Schedule(ctx context.Context, invoiceID string, policy domain.ReminderPolicy, userID string) ([]domain.Reminder, error) {
	s.calls = append(s.calls, invoiceID)
	s.policies = append(s.policies, policy)
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Reminder{{ID: invoiceID + "_1", InvoiceID: invoiceID, Status: domain.ReminderPending}}, nil
}

func newInvoiceService(t *testing.T) (*InvoiceService, *store.MemoryStore, *stubScheduler) {
	t.Helper()
	s := store.NewMemoryStore()
	sch := &stubScheduler{}
	log, _ := test.NewNullLogger()
	svc := NewInvoiceService(s, sch, "https://payla.example/", log)
	svc.now = func() time.Time { return reconcileNow }
	return svc, s, sch
}

func validInvoiceRequest() models.CreateInvoiceRequest {
	return models.CreateInvoiceRequest{
		Amount:      5000,
		Description: "Logo design",
		DueDate:     reconcileNow.AddDate(0, 0, 3),
		ClientName:  "Tunde",
		ClientPhone: "08031234567",
		ReminderPolicy: &domain.ReminderPolicy{
			Preset:         "gentle",
			MethodPriority: []domain.Channel{domain.ChannelSMS},
		},
	}
}

func TestCreateAndPublishInvoice(t *testing.T) {
	svc, s, sch := newInvoiceService(t)
	ctx := context.Background()
	_ = s.Set(ctx, domain.CollectionUsers, "u1", completeUser("u1"))

	inv, err := svc.Create(ctx, "u1", validInvoiceRequest())
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != domain.InvoiceDraft || len(inv.DraftData) == 0 || inv.Currency != "NGN" {
		t.Fatalf("draft %+v", inv)
	}
	if inv.SenderBusinessName != "Ada Designs" || inv.PaymentURL != "https://payla.example/pay/"+inv.ID {
		t.Fatalf("draft %+v", inv)
	}

	published, reminders, err := svc.Publish(ctx, "u1", inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if published.Status != domain.InvoicePending || published.PublishedAt == nil || published.DraftData != nil {
		t.Fatalf("published %+v", published)
	}
	if len(reminders) != 1 || len(sch.calls) != 1 || sch.policies[0].Preset != "gentle" {
		t.Fatalf("reminders %v, scheduler calls %v %v", reminders, sch.calls, sch.policies)
	}

	var stored domain.Invoice
	_ = s.Get(ctx, domain.CollectionInvoices, inv.ID, &stored)
	if stored.Status != domain.InvoicePending || len(stored.DraftData) != 0 && string(stored.DraftData) != "null" {
		t.Fatalf("stored %+v", stored)
	}

	if _, _, err := svc.Publish(ctx, "u1", inv.ID); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("republish: %v", err)
	}
}

func TestPublishSurvivesSchedulingFailure(t *testing.T) {
	svc, _, sch := newInvoiceService(t)
	sch.err = domain.ErrValidation
	ctx := context.Background()

	inv, err := svc.Create(ctx, "u1", validInvoiceRequest())
	if err != nil {
		t.Fatal(err)
	}
	published, reminders, err := svc.Publish(ctx, "u1", inv.ID)
	if err != nil || published.Status != domain.InvoicePending || len(reminders) != 0 {
		t.Fatalf("Publish = %+v, %v, %v", published, reminders, err)
	}
}

func TestInvoiceValidationAndOwnership(t *testing.T) {
	svc, _, _ := newInvoiceService(t)
	ctx := context.Background()

	bad := validInvoiceRequest()
	bad.Amount = 0
	bad.ReminderPolicy.MethodPriority = []domain.Channel{"pigeon"}
	if _, err := svc.Create(ctx, "u1", bad); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid request: %v", err)
	}

	inv, err := svc.Create(ctx, "u1", validInvoiceRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "u2", inv.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("foreign read: %v", err)
	}
	if _, _, err := svc.Publish(ctx, "u2", inv.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("foreign publish: %v", err)
	}
	if _, err := svc.Get(ctx, "u1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing invoice: %v", err)
	}
}
