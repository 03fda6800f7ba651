package reminder

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/punchamoorthee/payla/internal/channel"
	"github.com/punchamoorthee/payla/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// MessageData is what reminder templates can reference.
type MessageData struct {
	ClientName  string
	Business    string
	Amount      string
	Description string
	DueDate     string
	PaymentURL  string
	InvoiceID   string
}

// NewMessageData derives template fields from the current invoice state.
func NewMessageData(inv *domain.Invoice) MessageData {
	name := strings.TrimSpace(inv.ClientName)
	if name == "" {
		name = "there"
	}
	business := strings.TrimSpace(inv.SenderBusinessName)
	if business == "" {
		business = "your vendor"
	}
	desc := strings.TrimSpace(inv.Description)
	if desc == "" {
		desc = "invoice " + inv.ID
	}
	return MessageData{
		ClientName:  name,
		Business:    business,
		Amount:      domain.FormatAmount(inv.Currency, inv.Amount),
		Description: desc,
		DueDate:     inv.DueDate.Format("Jan 2, 2006"),
		PaymentURL:  inv.PaymentURL,
		InvoiceID:   inv.ID,
	}
}

type templateSource struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders reminder content per bucket and channel.
type Templates struct {
	set map[domain.Bucket]map[domain.Channel]compiled
}

// DefaultTemplates parses the embedded template set.
func DefaultTemplates() (*Templates, error) {
	return ParseTemplates(defaultTemplates)
}

// ParseTemplates reads a YAML document of bucket -> channel -> {subject, body}.
func ParseTemplates(src []byte) (*Templates, error) {
	var raw map[domain.Bucket]map[domain.Channel]templateSource
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("parse reminder templates: %w", err)
	}
	t := &Templates{set: make(map[domain.Bucket]map[domain.Channel]compiled, len(raw))}
	for bucket, byChannel := range raw {
		t.set[bucket] = make(map[domain.Channel]compiled, len(byChannel))
		for ch, s := range byChannel {
			if !ch.Valid() {
				return nil, fmt.Errorf("reminder template %s/%s: unknown channel", bucket, ch)
			}
			name := string(bucket) + "/" + string(ch)
			body, err := template.New(name).Option("missingkey=error").Parse(s.Body)
			if err != nil {
				return nil, fmt.Errorf("reminder template %s body: %w", name, err)
			}
			subject, err := template.New(name + "/subject").Option("missingkey=error").Parse(s.Subject)
			if err != nil {
				return nil, fmt.Errorf("reminder template %s subject: %w", name, err)
			}
			t.set[bucket][ch] = compiled{subject: subject, body: body}
		}
	}
	return t, nil
}

// Render produces the message for one channel. A non-empty custom body
// replaces the template body but keeps the templated subject.
func (t *Templates) Render(bucket domain.Bucket, ch domain.Channel, data MessageData, custom string) (channel.Message, error) {
	c, ok := t.set[bucket][ch]
	if !ok {
		return channel.Message{}, fmt.Errorf("no reminder template for %s/%s: %w", bucket, ch, domain.ErrValidation)
	}
	var subject, body bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return channel.Message{}, fmt.Errorf("render %s/%s subject: %w", bucket, ch, err)
	}
	msg := channel.Message{Subject: strings.TrimSpace(subject.String())}
	if custom = strings.TrimSpace(custom); custom != "" {
		msg.Body = custom
		return msg, nil
	}
	if err := c.body.Execute(&body, data); err != nil {
		return channel.Message{}, fmt.Errorf("render %s/%s body: %w", bucket, ch, err)
	}
	msg.Body = strings.TrimSpace(body.String())
	return msg, nil
}
