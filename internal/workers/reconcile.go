package workers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"formhook/internal/engine/typeform"
	"formhook/internal/platform/metrics"
	"formhook/internal/platform/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type WebhookLister interface {
	ListAll(ctx context.Context) ([]*models.Webhook, error)
}

type RemoteWebhooks interface {
	ListWebhooks(ctx context.Context, formID string) ([]typeform.RemoteWebhook, error)
	CreateWebhook(ctx context.Context, formID, tag, targetURL string) (*typeform.RemoteWebhook, error)
}

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	Checked     int
	Repaired    int
	MissingForm int
	Failed      int
}

// Reconciler makes sure every stored webhook is still registered at the
// provider, enabled and pointing at this server.
type Reconciler struct {
	webhooks    WebhookLister
	remote      RemoteWebhooks
	publicURL   string
	concurrency int
}

func NewReconciler(webhooks WebhookLister, remote RemoteWebhooks, publicURL string, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Reconciler{
		webhooks:    webhooks,
		remote:      remote,
		publicURL:   strings.TrimRight(publicURL, "/"),
		concurrency: concurrency,
	}
}

func (r *Reconciler) receiveURL(formID string) string {
	return r.publicURL + "/api/webhooks/" + formID + "/receive"
}

// Run reconciles immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reconciliation pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce checks every webhook. Per-webhook failures are counted, not returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	webhooks, err := r.webhooks.ListAll(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, w := range webhooks {
		g.Go(func() error {
			result := r.reconcile(gctx, w)
			metrics.Reconciled.WithLabelValues(result).Inc()

			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			switch result {
			case "repaired":
				summary.Repaired++
			case "missing_form":
				summary.MissingForm++
			case "failed":
				summary.Failed++
			}
			return nil
		})
	}
	g.Wait()

	log.Info().
		Int("checked", summary.Checked).
		Int("repaired", summary.Repaired).
		Int("missing_form", summary.MissingForm).
		Int("failed", summary.Failed).
		Dur("duration", time.Since(start)).
		Msg("reconciliation pass complete")
	return summary, ctx.Err()
}

func (r *Reconciler) reconcile(ctx context.Context, w *models.Webhook) string {
	logger := log.With().Int64("webhook_id", w.ID).Str("form_id", w.TypeformID).Logger()
	tag := typeform.Tag(w.TypeformID)
	want := r.receiveURL(w.TypeformID)

	remote, err := r.remote.ListWebhooks(ctx, w.TypeformID)
	if err != nil {
		var apiErr *typeform.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			logger.Warn().Msg("form no longer exists at typeform")
			return "missing_form"
		}
		logger.Error().Err(err).Msg("failed to list remote webhooks")
		return "failed"
	}

	for _, hook := range remote {
		if hook.Tag == tag && hook.Enabled && hook.URL == want {
			return "ok"
		}
	}

	if _, err := r.remote.CreateWebhook(ctx, w.TypeformID, tag, want); err != nil {
		logger.Error().Err(err).Msg("failed to re-register remote webhook")
		return "failed"
	}
	logger.Info().Str("url", want).Msg("re-registered remote webhook")
	return "repaired"
}
