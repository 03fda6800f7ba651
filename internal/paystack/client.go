package paystack

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/punchamoorthee/payla/internal/domain"
)

const DefaultBaseURL = "https://api.paystack.co"

// Client talks to the processor's recipient and transfer endpoints.
type Client struct {
	http     *resty.Client
	currency string
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(secretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: c, currency: "NGN"}
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type apiError struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

// CreateRecipient registers a bank account and returns its recipient code.
// An empty code with a nil error means the processor accepted the call but
// returned no usable recipient.
func (c *Client) CreateRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error) {
	var out envelope[recipientData]
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(recipientRequest{
			Type:          "nuban",
			Name:          name,
			AccountNumber: accountNumber,
			BankCode:      bankCode,
			Currency:      c.currency,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/transferrecipient")
	if err := classify("create recipient", resp, err, apiErr.Message); err != nil {
		return "", err
	}
	if !out.Status {
		return "", domain.Permanent("create recipient", resp.StatusCode(), errors.New(out.Message))
	}
	return out.Data.RecipientCode, nil
}

// TransferRequest amounts are whole currency units; the client converts to subunits.
type TransferRequest struct {
	Recipient string
	Amount    int64
	Reason    string
	Reference string
}

type transferBody struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
	Reference string `json:"reference,omitempty"`
	Currency  string `json:"currency"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// TransferResult mirrors the processor's (ok, reference, message) answer.
type TransferResult struct {
	OK           bool
	Reference    string
	TransferCode string
	Status       string
	Message      string
}

// CreateTransfer initiates a transfer. Network failures and 5xx responses
// return a transient error; 4xx responses return a permanent one.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var out envelope[transferData]
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transferBody{
			Source:    "balance",
			Amount:    req.Amount * 100,
			Recipient: req.Recipient,
			Reason:    req.Reason,
			Reference: req.Reference,
			Currency:  c.currency,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/transfer")
	if err := classify("create transfer", resp, err, apiErr.Message); err != nil {
		return TransferResult{OK: false, Message: err.Error()}, err
	}
	return TransferResult{
		OK:           out.Status,
		Reference:    out.Data.Reference,
		TransferCode: out.Data.TransferCode,
		Status:       out.Data.Status,
		Message:      out.Message,
	}, nil
}

func classify(op string, resp *resty.Response, err error, message string) error {
	if err != nil {
		return domain.Transient(op, 0, err)
	}
	if !resp.IsError() {
		return nil
	}
	if message == "" {
		message = resp.Status()
	}
	code := resp.StatusCode()
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return domain.Transient(op, code, errors.New(message))
	}
	return domain.Permanent(op, code, errors.New(message))
}
