package notify

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"formhook/internal/platform/config"
	"formhook/internal/platform/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWebhook() *models.Webhook {
	return &models.Webhook{
		ID:                   5,
		Name:                 "Kontakt <Form>",
		NotifyEmail:          true,
		NotifyEmailAddresses: []string{"ops@example.com", "sales@example.com"},
	}
}

func sampleResponse() *models.Response {
	return &models.Response{
		ID:           11,
		WebhookID:    5,
		CaseNumber:   "evt-1",
		ResponseData: json.RawMessage(`{"form_response":{"answers":[{"text":"<b>hi</b>"}]}}`),
	}
}

func TestBuildNotification(t *testing.T) {
	msg, err := BuildNotification(sampleWebhook(), sampleResponse())
	require.NoError(t, err)

	assert.Equal(t, "Neue Antwort für Kontakt <Form>", msg.Subject)
	assert.Equal(t, []string{"ops@example.com", "sales@example.com"}, msg.To)
	assert.Contains(t, msg.HTML, "Kontakt &lt;Form&gt;")
	assert.Contains(t, msg.HTML, "evt-1")
	assert.NotContains(t, msg.HTML, "<b>hi</b>", "payload must be escaped")
	assert.True(t, strings.Contains(msg.HTML, "\n  &#34;form_response&#34;"), "payload is pretty printed")
}

type recorder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recorder) send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func TestNotifyAsync(t *testing.T) {
	rec := &recorder{}
	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com"}).WithSender(rec.send)

	m.NotifyAsync(sampleWebhook(), sampleResponse())
	m.Wait()

	require.Len(t, rec.sent, 1)
	assert.Len(t, rec.sent[0].To, 2)
}

func TestNotifyAsync_SkipsWhenDisabled(t *testing.T) {
	rec := &recorder{}

	unconfigured := NewMailer(config.SMTPConfig{}).WithSender(rec.send)
	unconfigured.NotifyAsync(sampleWebhook(), sampleResponse())
	unconfigured.Wait()

	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com"}).WithSender(rec.send)
	off := sampleWebhook()
	off.NotifyEmail = false
	m.NotifyAsync(off, sampleResponse())
	m.Wait()

	assert.Empty(t, rec.sent)
}

func TestNotifyAsync_FailureIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("connection refused")}
	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com"}).WithSender(rec.send)

	m.NotifyAsync(sampleWebhook(), sampleResponse())
	m.Wait()

	assert.Len(t, rec.sent, 1)
}

func TestNotifyAsync_RecoversPanic(t *testing.T) {
	m := NewMailer(config.SMTPConfig{Host: "smtp.example.com"}).WithSender(func(Message) error {
		panic("boom")
	})

	m.NotifyAsync(sampleWebhook(), sampleResponse())
	m.Wait()
}
