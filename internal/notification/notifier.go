package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"

	"course-billing/internal/models"
	"course-billing/internal/util"

	"go.uber.org/zap"
)

// ErrNoRecipient is returned for events that carry no email address
var ErrNoRecipient = errors.New("event has no recipient email")

var templates = template.Must(template.New("success").Parse(`Hi {{.FirstName}},

Your payment was received and your enrollment is confirmed.

Reference: {{.PaymentReference}}
Amount: {{.Amount}}
{{range .SessionTitles}}  - {{.}}
{{end}}
You can find your sessions under My Purchases.
`))

func init() {
	template.Must(templates.New("failed").Parse(`Hi {{.FirstName}},

We could not confirm your payment, so no session was enrolled.

Reference: {{.PaymentReference}}
Reason: {{.Reason}}
{{range .SessionTitles}}  - {{.}}
{{end}}
If you were charged, reply to this email with the reference above.
`))
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier emails users the outcome of their payment
type Notifier struct {
	from     string
	fromName string
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
	send     SendFunc
	logger   *zap.Logger
}

// NewNotifier creates an SMTP notifier
func NewNotifier(from, fromName, smtpHost, smtpPort, smtpUser, smtpPass string) *Notifier {
	return &Notifier{
		from:     from,
		fromName: fromName,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		smtpUser: smtpUser,
		smtpPass: smtpPass,
		send:     smtp.SendMail,
		logger:   util.GetLogger(),
	}
}

// Render builds the subject and body for a reconciled payment
func Render(event *models.PaymentReconciledEvent) (subject, body string, err error) {
	name := "failed"
	subject = "Payment failed - " + event.PaymentReference
	if event.Status == models.SubscriptionStatusSuccess {
		name = "success"
		subject = "Payment confirmed - " + event.PaymentReference
	}

	data := *event
	if data.FirstName == "" {
		data.FirstName = "there"
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, &data); err != nil {
		return "", "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return subject, buf.String(), nil
}

// NotifyPaymentReconciled sends the outcome email for event
func (n *Notifier) NotifyPaymentReconciled(ctx context.Context, event *models.PaymentReconciledEvent) error {
	if event.Email == "" {
		return ErrNoRecipient
	}

	subject, body, err := Render(event)
	if err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", n.fromName, n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", event.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n" + body)

	var auth smtp.Auth
	if n.smtpUser != "" && n.smtpPass != "" {
		auth = smtp.PlainAuth("", n.smtpUser, n.smtpPass, n.smtpHost)
	}

	addr := n.smtpHost + ":" + n.smtpPort
	if err := n.send(addr, auth, n.from, []string{event.Email}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", event.Email, err)
	}

	n.logger.Info("Payment email sent",
		zap.String("reference", event.PaymentReference),
		zap.String("status", event.Status))
	return nil
}
