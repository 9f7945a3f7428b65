package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"sync"

	"formhook/internal/platform/config"
	"formhook/internal/platform/metrics"
	"formhook/internal/platform/models"

	"github.com/rs/zerolog/log"
)

// Message is a single email to send.
type Message struct {
	To      []string
	Subject string
	HTML    string
}

// SendFunc delivers one message. The SMTP implementation is the default.
type SendFunc func(msg Message) error

type Mailer struct {
	cfg  config.SMTPConfig
	send SendFunc
	wg   sync.WaitGroup
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	m := &Mailer{cfg: cfg}
	m.send = m.sendSMTP
	return m
}

// WithSender replaces the transport, mainly for tests.
func (m *Mailer) WithSender(send SendFunc) *Mailer {
	m.send = send
	return m
}

func (m *Mailer) Enabled() bool {
	return m.cfg.Host != ""
}

var notificationTmpl = template.Must(template.New("notification").Parse(`<h2>Neue Webhook-Antwort erhalten</h2>
<p>Es wurde eine neue Antwort für den Webhook "{{.Name}}" empfangen.</p>
<p>Fallnummer: {{.CaseNumber}}</p>
<h3>Details:</h3>
<pre>{{.Payload}}</pre>
`))

// BuildNotification renders the new-response email for webhook.
func BuildNotification(webhook *models.Webhook, resp *models.Response) (Message, error) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.ResponseData, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(resp.ResponseData)
	}

	var html bytes.Buffer
	err := notificationTmpl.Execute(&html, struct {
		Name       string
		CaseNumber string
		Payload    string
	}{webhook.Name, resp.CaseNumber, pretty.String()})
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:      webhook.NotifyEmailAddresses,
		Subject: fmt.Sprintf("Neue Antwort für %s", webhook.Name),
		HTML:    html.String(),
	}, nil
}

// NotifyAsync emails the webhook's recipients in the background. Failures
// are logged and counted, never returned.
func (m *Mailer) NotifyAsync(webhook *models.Webhook, resp *models.Response) {
	if !m.Enabled() || !webhook.NotifyEmail || len(webhook.NotifyEmailAddresses) == 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.Notifications.WithLabelValues("failed").Inc()
				log.Error().Interface("panic", r).Int64("webhook_id", webhook.ID).Msg("notification panicked")
			}
		}()

		msg, err := BuildNotification(webhook, resp)
		if err == nil {
			err = m.send(msg)
		}
		if err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Int64("webhook_id", webhook.ID).Int64("response_id", resp.ID).Msg("failed to send notification email")
			return
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
		log.Info().Int64("webhook_id", webhook.ID).Int("recipients", len(msg.To)).Msg("notification email sent")
	}()
}

// Wait blocks until queued notifications finish.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

func (m *Mailer) sendSMTP(msg Message) error {
	port := m.cfg.Port
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, port)

	from := m.cfg.FromAddress
	if from == "" {
		from = m.cfg.Username
	}
	fromHeader := from
	if m.cfg.FromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.cfg.FromName), from)
	}

	var body bytes.Buffer
	body.WriteString("MIME-Version: 1.0\r\n")
	body.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	body.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	body.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	body.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	body.WriteString("\r\n")
	body.WriteString(msg.HTML)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, from, msg.To, body.Bytes())
}
