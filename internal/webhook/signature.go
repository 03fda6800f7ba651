package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/punchamoorthee/payla/internal/domain"
)

// Verifier checks HMAC-SHA512 signatures computed over the raw request body.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex digest a sender would put in the signature header.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify must be called on the exact bytes received, before any decoding.
func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("missing signature: %w", domain.ErrAuthentication)
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("webhook secret not configured: %w", domain.ErrAuthentication)
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", domain.ErrAuthentication)
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return fmt.Errorf("signature mismatch: %w", domain.ErrAuthentication)
	}
	return nil
}
