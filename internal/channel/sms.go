package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	termiiBaseURL = "https://api.ng.termii.com"
	smsMaxLen     = 160
)

// SMSSender delivers plain-text SMS through Termii.
type SMSSender struct {
	http     *resty.Client
	apiKey   string
	senderID string
}

func NewSMSSender(baseURL, apiKey, senderID string, timeout time.Duration) *SMSSender {
	if baseURL == "" {
		baseURL = termiiBaseURL
	}
	return &SMSSender{
		http:     resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		apiKey:   apiKey,
		senderID: senderID,
	}
}

type termiiRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	SMS     string `json:"sms"`
	Type    string `json:"type"`
	Channel string `json:"channel"`
	APIKey  string `json:"api_key"`
}

func (s *SMSSender) Send(ctx context.Context, destination string, msg Message) error {
	to := NormalizeNigerianPhone(destination)
	if to == "" {
		return ErrNoDestination
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(termiiRequest{
			To:      strings.TrimPrefix(to, "+"),
			From:    s.senderID,
			SMS:     TruncateSMS(msg.Body),
			Type:    "plain",
			Channel: "generic",
			APIKey:  s.apiKey,
		}).
		Post("/api/sms/send")
	if err := providerError("send sms", resp, err); err != nil {
		return fmt.Errorf("sms to %s: %w", to, err)
	}
	return nil
}

// NormalizeNigerianPhone converts local 0XXXXXXXXXX and bare 234... numbers
// to +234 international form. Other international numbers pass through.
func NormalizeNigerianPhone(phone string) string {
	p := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '+' {
			return r
		}
		return -1
	}, phone)
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "234"):
		return "+" + p
	case strings.HasPrefix(p, "0"):
		return "+234" + p[1:]
	}
	return "+234" + p
}

// TruncateSMS caps a body at one SMS segment, marking the cut with "...".
func TruncateSMS(body string) string {
	r := []rune(body)
	if len(r) <= smsMaxLen {
		return body
	}
	return string(r[:smsMaxLen-3]) + "..."
}
