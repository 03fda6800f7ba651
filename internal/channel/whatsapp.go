package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppSender posts text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	http          *resty.Client
	phoneNumberID string
}

func NewWhatsAppSender(baseURL, token, phoneNumberID string, timeout time.Duration) *WhatsAppSender {
	if baseURL == "" {
		baseURL = graphBaseURL
	}
	return &WhatsAppSender{
		http:          resty.New().SetBaseURL(baseURL).SetAuthToken(token).SetTimeout(timeout),
		phoneNumberID: phoneNumberID,
	}
}

type waText struct {
	Body string `json:"body"`
}

type waMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             waText `json:"text"`
}

func (s *WhatsAppSender) Send(ctx context.Context, destination string, msg Message) error {
	to := strings.TrimPrefix(NormalizeNigerianPhone(destination), "+")
	if to == "" {
		return ErrNoDestination
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(waMessage{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             waText{Body: msg.Body},
		}).
		Post("/" + s.phoneNumberID + "/messages")
	if err := providerError("send whatsapp", resp, err); err != nil {
		return fmt.Errorf("whatsapp to %s: %w", to, err)
	}
	return nil
}
