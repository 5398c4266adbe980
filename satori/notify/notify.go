// Package notify delivers audit reports by email (through a Transport) and
// an optional webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/SatoriAU/site-audit/satori"
	"github.com/SatoriAU/site-audit/satori/config"
	"github.com/SatoriAU/site-audit/satori/export"
	"github.com/SatoriAU/site-audit/satori/queue"
	"github.com/SatoriAU/site-audit/satori/report"
	"github.com/SatoriAU/site-audit/satori/scoring"
)

const (
	SubjectPrefix  = "[SATORI Audit]"
	WebhookTimeout = 5 * time.Second
)

// Attachment is one file sent with a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is a plain-text email.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Transport delivers a message.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// QueueTransport hands messages to the mail relay as JSON on a queue.
type QueueTransport struct {
	publisher queue.Publisher
	queueName string
}

// NewQueueTransport publishes to qName, or the default mail queue.
func NewQueueTransport(p queue.Publisher, qName string) *QueueTransport {
	if qName == "" {
		qName = queue.MailQueue
	}
	return &QueueTransport{publisher: p, queueName: qName}
}

func (t *QueueTransport) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail message: %w", err)
	}
	return t.publisher.Publish(ctx, t.queueName, body, "application/json")
}

// Notifier sends reports according to the notify settings.
type Notifier struct {
	cfg       *config.Config
	transport Transport
	renderer  export.Renderer
	client    *http.Client
	clock     satori.Clock
}

// New returns a Notifier. renderer may be nil, in which case no PDF is
// attached.
func New(cfg *config.Config, transport Transport, renderer export.Renderer, clock satori.Clock) *Notifier {
	if clock == nil {
		clock = satori.SystemClock{}
	}
	return &Notifier{
		cfg:       cfg,
		transport: transport,
		renderer:  renderer,
		client:    &http.Client{Timeout: WebhookTimeout},
		clock:     clock,
	}
}

// WithHTTPClient replaces the webhook client.
func (n *Notifier) WithHTTPClient(c *http.Client) *Notifier {
	n.client = c
	return n
}

// Subject formats the report subject line.
func Subject(siteName, reason string) string {
	return fmt.Sprintf("%s %s – %s", SubjectPrefix, siteName, capitalize(reason))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return cases.Upper(language.Und).String(string(r)) + s[size:]
}

// Body formats the plain-text summary.
func Body(r *report.Report) string {
	var b strings.Builder
	b.WriteString("Attached: service log (PDF/MD/JSON).\n\nSummary:\n")
	fmt.Fprintf(&b, "- Total score: %d/%d\n", r.Scores.Total, scoring.MaxTotal)
	b.WriteString("- Key actions:\n  • ")
	b.WriteString(strings.Join(r.KeyActions(report.MaxKeyActions), "\n  • "))
	return b.String()
}

// SendReport emails r to the safelisted notify recipients and posts the
// webhook. It reports whether an email was handed to the transport. No
// recipients (none configured, or all blocked by the safelist) is a
// logged no-op.
func (n *Notifier) SendReport(ctx context.Context, r *report.Report, reason string) (bool, error) {
	to := PreviewRecipients(n.cfg)
	if len(to) == 0 {
		slog.Info("No eligible recipients, skipping report email", "reason", reason, "enforce_safelist", n.cfg.Notify.EnforceSafelist)
		return false, nil
	}

	msg := Message{
		ID:          uuid.NewString(),
		From:        n.cfg.Service.ContactEmail,
		To:          to,
		Subject:     Subject(r.ServiceDetails.SiteName, reason),
		Body:        Body(r),
		Attachments: n.attachments(ctx, r),
		CreatedAt:   n.clock.Now().UTC(),
	}
	if err := n.transport.Send(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to send report email: %w", err)
	}
	slog.Info("Report email queued", "reason", reason, "recipients", len(to), "attachments", len(msg.Attachments))

	if n.cfg.Notify.Webhook != "" {
		if err := n.postWebhook(ctx, msg, r, reason); err != nil {
			slog.Warn("Webhook notification failed", "error", err)
		}
	}
	return true, nil
}

func (n *Notifier) attachments(ctx context.Context, r *report.Report) []Attachment {
	opts := export.OptionsFromConfig(n.cfg, n.clock)
	var out []Attachment

	if html, err := export.HTML(r, opts); err != nil {
		slog.Warn("Skipping PDF attachment", "error", err)
	} else if pdf, ok := export.PDF(ctx, n.renderer, html, opts.PageSize, opts.Orientation); ok {
		out = append(out, Attachment{Filename: "satori-audit.pdf", ContentType: "application/pdf", Data: pdf})
	}

	out = append(out, Attachment{Filename: "satori-audit.md", ContentType: "text/markdown", Data: []byte(export.Markdown(r))})

	if js, err := export.JSON(r); err != nil {
		slog.Warn("Skipping JSON attachment", "error", err)
	} else {
		out = append(out, Attachment{Filename: "satori-audit.json", ContentType: "application/json", Data: js})
	}
	return out
}

type webhookPayload struct {
	Text   string `json:"text"`
	Score  int    `json:"score"`
	Site   string `json:"site"`
	Reason string `json:"reason"`
}

func (n *Notifier) postWebhook(ctx context.Context, msg Message, r *report.Report, reason string) error {
	body, err := json.Marshal(webhookPayload{
		Text:   msg.Subject + "\n" + msg.Body,
		Score:  r.Scores.Total,
		Site:   r.ServiceDetails.SiteURL,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Notify.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// TestSubject is the subject of the recipient preview email.
const TestSubject = SubjectPrefix + " Test email (preview recipients)"

// SendTest mails a recipient preview to me only. It returns the addresses
// a real report would go to.
func (n *Notifier) SendTest(ctx context.Context, me string) ([]string, error) {
	preview := PreviewRecipients(n.cfg)
	list := strings.Join(preview, ", ")
	if list == "" {
		list = "[none – blocked by safelist or no recipients configured]"
	}
	if me == "" {
		me = n.cfg.Notify.AdminEmail
	}
	if me == "" {
		return preview, fmt.Errorf("no address to send the test email to")
	}

	msg := Message{
		ID:      uuid.NewString(),
		From:    n.cfg.Service.ContactEmail,
		To:      []string{me},
		Subject: TestSubject,
		Body: "Hello!\n\nThis is a test message from SATORI Audit.\n\n" +
			"If a real report were sent right now, it would go to (after safelist):\n" + list +
			"\n\nNo client emails were contacted.",
		CreatedAt: n.clock.Now().UTC(),
	}
	if err := n.transport.Send(ctx, msg); err != nil {
		return preview, fmt.Errorf("failed to send test email: %w", err)
	}
	return preview, nil
}

// LogTransport only logs messages. It backs dry runs without a broker.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, msg Message) error {
	slog.Info("Email not sent (log transport)", "to", strings.Join(msg.To, ","), "subject", msg.Subject, "attachments", len(msg.Attachments))
	return nil
}
