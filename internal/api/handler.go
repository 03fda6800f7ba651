package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/webhook"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

type Reconciler interface {
	Reconcile(ctx context.Context, ev models.WebhookEvent) models.WebhookResponse
}

// Deliveries replays answers to webhook bodies that were already handled.
type Deliveries interface {
	Lookup(ctx context.Context, key string) (*models.WebhookResponse, error)
	Record(ctx context.Context, key string, ev models.WebhookEvent, resp models.WebhookResponse) error
}

type Invoices interface {
	Create(ctx context.Context, userID string, req models.CreateInvoiceRequest) (*domain.Invoice, error)
	Publish(ctx context.Context, userID, invoiceID string) (*domain.Invoice, []domain.Reminder, error)
	Get(ctx context.Context, userID, invoiceID string) (*domain.Invoice, error)
}

type Reminders interface {
	Schedule(ctx context.Context, invoiceID string, policy domain.ReminderPolicy, userID string) ([]domain.Reminder, error)
}

type Payouts interface {
	Get(ctx context.Context, reference string) (*domain.Payout, error)
}

type Tokens interface {
	Generate(ctx context.Context) (string, time.Time, error)
	Verify(ctx context.Context, token string) error
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Verifier    *webhook.Verifier
	Reconciler  Reconciler
	Deliveries  Deliveries
	Invoices    Invoices
	Reminders   Reminders
	Payouts     Payouts
	Tokens      Tokens
	Auth        *Authenticator
	CORSOrigins []string
	Log         logrus.FieldLogger
}

type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, now: time.Now}
}

// Routes builds the full router with middleware applied.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{provider}", h.WebhookHandler).Methods(http.MethodPost)

	r.HandleFunc("/api/token/generate", h.GenerateTokenHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/token/verify", h.VerifyTokenHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.Auth.Middleware)
	v1.HandleFunc("/invoices", h.CreateInvoiceHandler).Methods(http.MethodPost)
	v1.HandleFunc("/invoices/{id}", h.GetInvoiceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/invoices/{id}/publish", h.PublishInvoiceHandler).Methods(http.MethodPost)
	v1.HandleFunc("/invoices/{id}/reminders", h.ScheduleRemindersHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payouts/{reference}", h.GetPayoutHandler).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "Not found")
	})

	origins := h.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	standard := alice.New(h.recoverPanic, h.logRequest, secureHeaders, c.Handler)
	return standard.Then(r)
}
