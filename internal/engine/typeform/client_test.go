package typeform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"formhook/internal/platform/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, secret string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.TypeformConfig{
		BaseURL:   srv.URL + "/",
		APIToken:  "tfp_test",
		Timeout:   time.Second,
		VerifySSL: true,
	}, secret)
}

func TestCreateWebhook(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/forms/ABC123/webhooks/formhook-ABC123", r.URL.Path)
		assert.Equal(t, "Bearer tfp_test", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"wh1","form_id":"ABC123","tag":"formhook-ABC123","url":"https://hooks.example.com/api/webhooks/ABC123/receive","enabled":true,"verify_ssl":true}`))
	}, "shh")

	remote, err := client.CreateWebhook(context.Background(), "ABC123", Tag("ABC123"), "https://hooks.example.com/api/webhooks/ABC123/receive")
	require.NoError(t, err)

	assert.Equal(t, "wh1", remote.ID)
	assert.True(t, remote.Enabled)
	assert.Equal(t, "https://hooks.example.com/api/webhooks/ABC123/receive", got["url"])
	assert.Equal(t, true, got["verify_ssl"])
	assert.Equal(t, "shh", got["secret"])
}

func TestDeleteWebhook(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		if calls == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"NOT_FOUND","description":"webhook not found"}`))
	}, "")

	require.NoError(t, client.DeleteWebhook(context.Background(), "ABC123", Tag("ABC123")))
	require.NoError(t, client.DeleteWebhook(context.Background(), "ABC123", Tag("ABC123")), "already gone is fine")
	assert.Equal(t, 2, calls)
}

func TestListWebhooks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/ABC123/webhooks", r.URL.Path)
		w.Write([]byte(`{"items":[{"id":"1","tag":"formhook-ABC123"},{"id":"2","tag":"other"}]}`))
	}, "")

	hooks, err := client.ListWebhooks(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "formhook-ABC123", hooks[0].Tag)
}

func TestFormExists(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forms/ABC123":
			w.Write([]byte(`{"id":"ABC123"}`))
		case "/forms/NOPE":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code":"SERVER_ERROR","description":"try later"}`))
		}
	}, "")
	ctx := context.Background()

	ok, err := client.FormExists(ctx, "ABC123")
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = client.FormExists(ctx, "NOPE")
	assert.False(t, ok)
	assert.NoError(t, err)

	_, err = client.FormExists(ctx, "BROKEN")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "try later", apiErr.Description)
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(config.TypeformConfig{BaseURL: "http://127.0.0.1:1"}, "")
	assert.False(t, client.Configured())

	_, err := client.FormExists(context.Background(), "ABC123")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
