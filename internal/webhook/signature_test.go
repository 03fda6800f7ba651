package webhook

import (
	"errors"
	"strings"
	"testing"

	"github.com/punchamoorthee/payla/internal/domain"
)

func TestVerify(t *testing.T) {
	v := NewVerifier("sk_test_secret")
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1","amount":500000}}`)
	sig := v.Sign(body)

	tests := []struct {
		name    string
		body    []byte
		sig     string
		wantErr bool
	}{
		{"valid", body, sig, false},
		{"uppercase hex", body, strings.ToUpper(sig), false},
		{"missing header", body, "", true},
		{"not hex", body, "zz-not-hex", true},
		{"tampered body", []byte(strings.Replace(string(body), "500000", "900000", 1)), sig, true},
		{"reserialized body", []byte(`{"data":{"amount":500000,"reference":"ref_1"},"event":"charge.success"}`), sig, true},
		{"other secret", body, NewVerifier("other").Sign(body), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.sig)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrAuthentication) {
					t.Fatalf("expected authentication error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVerifyWithoutSecretRejects(t *testing.T) {
	v := NewVerifier("")
	if err := v.Verify([]byte("{}"), v.Sign([]byte("{}"))); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
