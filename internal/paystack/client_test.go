package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
)

func TestCreateTransferConvertsToSubunits(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfer" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing auth header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"message":"Transfer has been queued","data":{"reference":"ref-1","transfer_code":"TRF_1","status":"pending"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second)
	res, err := c.CreateTransfer(context.Background(), TransferRequest{Recipient: "RCP_1", Amount: 4990, Reason: "payout", Reference: "ref-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || res.Reference != "ref-1" || res.TransferCode != "TRF_1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got["amount"].(float64) != 499000 {
		t.Fatalf("amount sent = %v, want 499000", got["amount"])
	}
	if got["reference"] != "ref-1" || got["recipient"] != "RCP_1" {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad account", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"status":false,"message":"nope"}`))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "sk_test", time.Second)
			_, err := c.CreateRecipient(context.Background(), "0123456789", "058", "Ada")
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.IsPermanent(err) != tt.permanent || domain.IsTransient(err) == tt.permanent {
				t.Fatalf("classification wrong for %d: %v", tt.status, err)
			}
		})
	}
}

func TestCreateRecipientReturnsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":true,"message":"ok","data":{"recipient_code":"RCP_abc"}}`))
	}))
	defer srv.Close()

	code, err := NewClient(srv.URL, "sk", time.Second).CreateRecipient(context.Background(), "0123456789", "058", "Ada")
	if err != nil || code != "RCP_abc" {
		t.Fatalf("got %q, %v", code, err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "sk", time.Second).CreateTransfer(context.Background(), TransferRequest{Recipient: "R", Amount: 1000})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
