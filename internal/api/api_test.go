package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/events"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/notify"
	"github.com/punchamoorthee/payla/internal/queue"
	"github.com/punchamoorthee/payla/internal/reminder"
	"github.com/punchamoorthee/payla/internal/service"
	"github.com/punchamoorthee/payla/internal/store"
	"github.com/punchamoorthee/payla/internal/tokengate"
	"github.com/punchamoorthee/payla/internal/webhook"
	"github.com/sirupsen/logrus/hooks/test"
)

const webhookSecret = "sk_test_webhook"

type testEnv struct {
	store    *store.MemoryStore
	queue    *queue.MemoryQueue
	auth     *Authenticator
	verifier *webhook.Verifier
	handler  http.Handler
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(ctx context.Context, destination string, msg channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, destination)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, reminder.NewQuietHours(22, 7, "Africa/Lagos"), channel.Registry{})
}

func newTestEnvWith(t *testing.T, quiet reminder.QuietHours, senders channel.Registry) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	log, _ := test.NewNullLogger()

	tpl, err := reminder.DefaultTemplates()
	if err != nil {
		t.Fatal(err)
	}
	dispatcher := reminder.NewDispatcher(s, senders, tpl, quiet, reminder.DispatcherConfig{}, log)
	scheduler := reminder.NewScheduler(s, tpl, dispatcher, log)

	q := queue.NewMemoryQueue()
	pub := events.LogPublisher{Log: log}
	notifier := notify.NewNotifier(s, nil, log)

	env := &testEnv{
		store:    s,
		queue:    q,
		auth:     NewAuthenticator("jwt-secret"),
		verifier: webhook.NewVerifier(webhookSecret),
	}
	h := NewHandler(Deps{
		Verifier:   env.verifier,
		Reconciler: service.NewReconciler(s, queue.Enqueuer{Queue: q}, scheduler, notifier, pub, log),
		Deliveries: service.NewDeliveryLog(s),
		Invoices:   service.NewInvoiceService(s, scheduler, "https://payla.test", log),
		Reminders:  scheduler,
		Payouts:    service.NewPayoutOrchestrator(s, nil, notifier, pub, service.PayoutConfig{}, log),
		Tokens:     tokengate.NewGate(tokengate.NewMemoryCache(), time.Minute),
		Auth:       env.auth,
		Log:        log,
	})
	env.handler = h.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := e.auth.Issue(userID, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) webhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set("X-Signature", signature)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func chargeBody(invoiceID, userID, reference string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":500000,"currency":"NGN","channel":"card","customer":{"email":"payer@example.com"},"metadata":{"invoice_id":%q,"user_id":%q}}}`, reference, invoiceID, userID))
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestInvoicePaidEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodPost, "/api/v1/invoices", "u1", models.CreateInvoiceRequest{
		Amount:      5000,
		Description: "Logo design",
		DueDate:     time.Now().Add(3*24*time.Hour + time.Hour),
		ClientName:  "Tunde",
		ClientPhone: "08031234567",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	inv := decodeResponse[models.InvoiceResponse](t, rec)

	rec = env.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/publish", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}
	published := decodeResponse[struct {
		Invoice   models.InvoiceResponse `json:"invoice"`
		Reminders []domain.Reminder      `json:"reminders"`
	}](t, rec)
	if published.Invoice.Status != domain.InvoicePending || len(published.Reminders) != 4 {
		t.Fatalf("published %s with %d reminders", published.Invoice.Status, len(published.Reminders))
	}

	body := chargeBody(inv.ID, "u1", "ref-e2e")
	rec = env.webhook(t, body, env.verifier.Sign(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse[models.WebhookResponse](t, rec); resp.Status != models.WebhookSuccess || resp.Reason != "" {
		t.Fatalf("webhook response %+v", resp)
	}

	var stored domain.Invoice
	if err := env.store.Get(ctx, domain.CollectionInvoices, inv.ID, &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.InvoicePaid || stored.TransactionReference != "ref-e2e" {
		t.Fatalf("invoice %+v", stored)
	}

	snaps, err := env.store.Query(ctx, domain.CollectionReminders, []store.Filter{store.Where("invoice_id", store.OpEq, inv.ID)}, store.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 4 {
		t.Fatalf("%d reminders stored", len(snaps))
	}
	for _, snap := range snaps {
		var r domain.Reminder
		if err := snap.Decode(&r); err != nil {
			t.Fatal(err)
		}
		if r.Status != domain.ReminderCancelled || r.CancelledReason != reminder.CancelInvoicePaid {
			t.Fatalf("reminder %s is %s (%s)", r.ID, r.Status, r.CancelledReason)
		}
	}

	jobs := env.queue.Jobs()
	if len(jobs) != 1 || jobs[0].UserID != "u1" || jobs[0].Amount != 5000 || jobs[0].Reference != "ref-e2e" {
		t.Fatalf("queued jobs %+v", jobs)
	}

	// The identical body is replayed from the delivery log.
	rec = env.webhook(t, body, env.verifier.Sign(body))
	if resp := decodeResponse[models.WebhookResponse](t, rec); rec.Code != http.StatusOK || resp.Reason != "already_processed" {
		t.Fatalf("replay: %d %+v", rec.Code, resp)
	}
	// A re-serialised resend reaches the reconciler, which sees a paid invoice.
	resend := append([]byte(" "), body...)
	rec = env.webhook(t, resend, env.verifier.Sign(resend))
	if resp := decodeResponse[models.WebhookResponse](t, rec); rec.Code != http.StatusOK || resp.Reason != "already_processed" {
		t.Fatalf("resend: %d %+v", rec.Code, resp)
	}
	if n := env.queue.Len(); n != 1 {
		t.Fatalf("duplicate deliveries enqueued %d jobs", n)
	}
}

// payInvoiceDueInThreeDays publishes an invoice due exactly three days out, pays it,
// and returns how many of its reminders ended in each status.
func payInvoiceDueInThreeDays(t *testing.T, env *testEnv) map[domain.ReminderStatus]int {
	t.Helper()
	ctx := context.Background()
	rec := env.do(t, http.MethodPost, "/api/v1/invoices", "u1", models.CreateInvoiceRequest{
		Amount:      5000,
		Description: "Logo design",
		DueDate:     time.Now().Add(3 * 24 * time.Hour),
		ClientName:  "Tunde",
		ClientPhone: "08031234567",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	inv := decodeResponse[models.InvoiceResponse](t, rec)
	if rec = env.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/publish", "u1", nil); rec.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", rec.Code, rec.Body.String())
	}

	body := chargeBody(inv.ID, "u1", "ref-3d")
	if rec = env.webhook(t, body, env.verifier.Sign(body)); rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	if n := env.queue.Len(); n != 1 {
		t.Fatalf("%d payout jobs", n)
	}

	snaps, err := env.store.Query(ctx, domain.CollectionReminders, []store.Filter{store.Where("invoice_id", store.OpEq, inv.ID)}, store.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 4 {
		t.Fatalf("%d reminders stored", len(snaps))
	}
	statuses := map[domain.ReminderStatus]int{}
	for _, snap := range snaps {
		var r domain.Reminder
		if err := snap.Decode(&r); err != nil {
			t.Fatal(err)
		}
		statuses[r.Status]++
	}
	return statuses
}

func TestInvoiceDueInThreeDaysSendsFirstReminderOnPublish(t *testing.T) {
	sms := &recordingSender{}
	env := newTestEnvWith(t, reminder.QuietHours{}, channel.Registry{domain.ChannelSMS: sms})

	statuses := payInvoiceDueInThreeDays(t, env)
	// The D-3d reminder is due at publish time and goes out at once; payment
	// only cancels what is still pending.
	if statuses[domain.ReminderSent] != 1 || statuses[domain.ReminderCancelled] != 3 {
		t.Fatalf("statuses %v", statuses)
	}
	if sms.count() != 1 {
		t.Fatalf("sms sends = %d", sms.count())
	}
}

func TestInvoiceDueInThreeDaysDuringQuietHours(t *testing.T) {
	sms := &recordingSender{}
	h := time.Now().UTC().Hour()
	quiet := reminder.QuietHours{Start: h, End: (h + 2) % 24, Loc: time.UTC}
	env := newTestEnvWith(t, quiet, channel.Registry{domain.ChannelSMS: sms})

	statuses := payInvoiceDueInThreeDays(t, env)
	if statuses[domain.ReminderCancelled] != 4 {
		t.Fatalf("statuses %v", statuses)
	}
	if sms.count() != 0 {
		t.Fatalf("quiet hours must hold the immediate reminder, sms sends = %d", sms.count())
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	due := time.Now().Add(48 * time.Hour)
	_ = env.store.Set(ctx, domain.CollectionInvoices, "inv-1", domain.Invoice{
		ID: "inv-1", SenderID: "u1", Amount: 5000, Currency: "NGN", DueDate: due, Status: domain.InvoicePending,
	})

	original := chargeBody("inv-1", "u1", "ref-1")
	signature := env.verifier.Sign(original)
	tampered := bytes.Replace(original, []byte("500000"), []byte("900000"), 1)

	for name, sig := range map[string]string{"tampered": signature, "missing": ""} {
		rec := env.webhook(t, tampered, sig)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s signature: got %d", name, rec.Code)
		}
	}

	var inv domain.Invoice
	_ = env.store.Get(ctx, domain.CollectionInvoices, "inv-1", &inv)
	if inv.Status != domain.InvoicePending || env.queue.Len() != 0 {
		t.Fatalf("rejected webhook mutated state: %s, %d jobs", inv.Status, env.queue.Len())
	}
}

func TestWebhookRequestErrors(t *testing.T) {
	env := newTestEnv(t)

	garbage := []byte(`{"event":`)
	if rec := env.webhook(t, garbage, env.verifier.Sign(garbage)); rec.Code != http.StatusBadRequest {
		t.Fatalf("unparseable body: %d", rec.Code)
	}

	unknown := []byte(`{"event":"invoice.update","data":{}}`)
	rec := env.webhook(t, unknown, env.verifier.Sign(unknown))
	if resp := decodeResponse[models.WebhookResponse](t, rec); rec.Code != http.StatusOK || resp.Status != models.WebhookIgnored {
		t.Fatalf("unknown event: %d %+v", rec.Code, resp)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(unknown))
	req.Header.Set("X-Signature", env.verifier.Sign(unknown))
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusNotFound {
		t.Fatalf("unknown provider: %d", out.Code)
	}

	// The processor's own header name is accepted too.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(unknown))
	req.Header.Set("X-Paystack-Signature", env.verifier.Sign(unknown))
	out = httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("processor header: %d", out.Code)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/invoices/x", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/x", nil)
	forged, _ := NewAuthenticator("other-secret").Issue("u1", time.Hour)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/invoices/missing", "u1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing invoice: %d", rec.Code)
	}
}

func TestInvoiceEndpointsMapErrors(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/v1/invoices", "u1", map[string]any{"amount": 0, "description": "x"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid invoice: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodPost, "/api/v1/invoices", "u1", models.CreateInvoiceRequest{
		Amount: 2500, Description: "Consulting", DueDate: time.Now().Add(72 * time.Hour), ClientEmail: "client@example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	inv := decodeResponse[models.InvoiceResponse](t, rec)
	if inv.EffectiveStatus != domain.InvoiceDraft {
		t.Fatalf("effective status %s", inv.EffectiveStatus)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID, "u2", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign invoice: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/publish", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/reminders", "u1", models.ScheduleRemindersRequest{Preset: "gentle"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse[models.ScheduleRemindersResponse](t, rec); resp.Count != 1 || resp.Reminders[0].Method != domain.ChannelEmail {
		t.Fatalf("scheduled %+v", resp)
	}
}

func TestPayoutVisibleToOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	_ = env.store.Set(context.Background(), domain.CollectionPayouts, "ref-9", domain.Payout{
		ID: "ref-9", UserID: "u1", Amount: 5000, Status: domain.PayoutStatusSuccess,
	})

	rec := env.do(t, http.MethodGet, "/api/v1/payouts/ref-9", "u1", nil)
	if p := decodeResponse[domain.Payout](t, rec); rec.Code != http.StatusOK || p.Status != domain.PayoutStatusSuccess {
		t.Fatalf("owner: %d %+v", rec.Code, p)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/payouts/ref-9", "u2", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("stranger: %d", rec.Code)
	}
}

func TestTokenGateEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/token/generate", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: %d", rec.Code)
	}
	tok := decodeResponse[models.TokenResponse](t, rec)

	if rec := env.do(t, http.MethodGet, "/api/token/verify?token="+tok.Token, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("verify: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/token/verify?token="+tok.Token, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("reuse: %d", rec.Code)
	}
}
