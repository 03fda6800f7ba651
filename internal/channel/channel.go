// Package channel holds the outbound message senders. A nil error from Send
// means the provider accepted the message; no delivery receipt is implied.
package channel

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/punchamoorthee/payla/internal/domain"
)

var ErrNoDestination = errors.New("no destination for channel")

type Message struct {
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, destination string, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, destination string, msg Message) error

func (f SenderFunc) Send(ctx context.Context, destination string, msg Message) error {
	return f(ctx, destination, msg)
}

// Registry maps channels to their senders.
type Registry map[domain.Channel]Sender

// Destination picks the contact field a channel delivers to.
func Destination(ch domain.Channel, phone, email string) string {
	switch ch {
	case domain.ChannelWhatsApp, domain.ChannelSMS:
		return phone
	case domain.ChannelEmail:
		return email
	}
	return ""
}

func providerError(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.Transient(op, 0, err)
	}
	if !resp.IsError() {
		return nil
	}
	code := resp.StatusCode()
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		return domain.Transient(op, code, errors.New(resp.String()))
	}
	return domain.Permanent(op, code, errors.New(resp.String()))
}
