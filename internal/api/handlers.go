package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/models"
	"github.com/punchamoorthee/payla/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	maxWebhookBody = 1 << 20
	maxRequestBody = 64 << 10
)

// The processor's own header name is accepted when the generic one is absent.
var signatureHeaders = []string{"X-Signature", "X-Paystack-Signature"}

var knownProviders = map[string]bool{"paystack": true}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebhookHandler verifies the raw body before decoding it. Once the signature
// holds, every outcome short of an unreadable payload is answered with 200 so
// the processor stops retrying.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if !knownProviders[provider] {
		respondWithError(w, http.StatusNotFound, "Unknown provider")
		return
	}
	log := h.Log.WithField("provider", provider)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	signature := ""
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}
	if err := h.Verifier.Verify(body, signature); err != nil {
		log.WithError(err).WithField("remote", r.RemoteAddr).Warn("webhook rejected")
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var ev models.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.Event == "" {
		log.WithError(err).Warn("webhook payload unparseable")
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	log = log.WithFields(logrus.Fields{"event": ev.Event, "reference": ev.Data.Reference})

	key := service.DeliveryKey(body)
	if h.Deliveries != nil {
		replay, err := h.Deliveries.Lookup(r.Context(), key)
		if err != nil {
			log.WithError(err).Warn("delivery log lookup failed")
		} else if replay != nil {
			log.Info("duplicate delivery replayed")
			respondWithJSON(w, http.StatusOK, replay)
			return
		}
	}

	resp := h.Reconciler.Reconcile(r.Context(), ev)

	if h.Deliveries != nil {
		if err := h.Deliveries.Record(r.Context(), key, ev, resp); err != nil {
			log.WithError(err).Warn("delivery log record failed")
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.Invoices.Create(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/invoices/"+inv.ID)
	respondWithJSON(w, http.StatusCreated, h.invoiceResponse(inv))
}

func (h *Handler) GetInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Get(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.invoiceResponse(inv))
}

func (h *Handler) PublishInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	inv, reminders, err := h.Invoices.Publish(r.Context(), userFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	if reminders == nil {
		reminders = []domain.Reminder{}
	}
	respondWithJSON(w, http.StatusOK, struct {
		Invoice   models.InvoiceResponse `json:"invoice"`
		Reminders []domain.Reminder      `json:"reminders"`
	}{h.invoiceResponse(inv), reminders})
}

func (h *Handler) ScheduleRemindersHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRemindersRequest
	if !h.decode(w, r, &req) {
		return
	}
	reminders, err := h.Reminders.Schedule(r.Context(), mux.Vars(r)["id"], req.Policy(), userFrom(r.Context()))
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	if reminders == nil {
		reminders = []domain.Reminder{}
	}
	respondWithJSON(w, http.StatusCreated, models.ScheduleRemindersResponse{Count: len(reminders), Reminders: reminders})
}

func (h *Handler) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payouts.Get(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	// Someone else's payout is reported as missing.
	if p.UserID != userFrom(r.Context()) {
		respondWithError(w, http.StatusNotFound, "Payout not found")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) GenerateTokenHandler(w http.ResponseWriter, r *http.Request) {
	token, expires, err := h.Tokens.Generate(r.Context())
	if err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.TokenResponse{Token: token, ExpiresAt: expires})
}

func (h *Handler) VerifyTokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Tokens.Verify(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.TokenVerifyResponse{Valid: true})
}

func (h *Handler) invoiceResponse(inv *domain.Invoice) models.InvoiceResponse {
	return models.InvoiceResponse{Invoice: *inv, EffectiveStatus: inv.EffectiveStatus(h.now())}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	return true
}

// respondWithErr hides internal error text; taxonomy errors keep their message.
func (h *Handler) respondWithErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		respondWithError(w, code, "Internal Server Error")
		return
	}
	respondWithError(w, code, err.Error())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
