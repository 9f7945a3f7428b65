package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"formhook/internal/engine/live"
	"formhook/internal/engine/webhooks"
	"formhook/internal/platform/metrics"
	"formhook/internal/platform/models"

	"github.com/rs/zerolog/log"
)

type Registry interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Webhook, error)
}

type Store interface {
	Append(ctx context.Context, webhookID int64, raw json.RawMessage, caseNumber string) (*models.Response, error)
	// AppendIfAbsent must check and insert atomically.
	AppendIfAbsent(ctx context.Context, webhookID int64, raw json.RawMessage, caseNumber string) (*models.Response, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev live.Event) live.Report
}

type Notifier interface {
	NotifyAsync(webhook *models.Webhook, resp *models.Response)
}

type Options struct {
	// SigningSecret turns on Typeform-Signature verification.
	SigningSecret string
	// DedupeByCaseNumber answers repeated event ids with the stored record.
	DedupeByCaseNumber bool
	Now                func() time.Time
}

// Delivery is one inbound provider call.
type Delivery struct {
	FormID    string
	Body      []byte
	Signature string
}

type Result struct {
	Webhook  *models.Webhook
	Response *models.Response
	// Duplicate is set when dedup matched an existing record; nothing new
	// was written or published.
	Duplicate bool
}

type Service struct {
	registry  Registry
	store     Store
	publisher Publisher
	notifier  Notifier
	opts      Options

	wg sync.WaitGroup
}

// NewService wires the pipeline. publisher and notifier may be nil.
func NewService(registry Registry, store Store, publisher Publisher, notifier Notifier, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		registry:  registry,
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
	}
}

// Receive validates, routes and durably stores d, then fans the new record
// out in the background. Nothing is written unless every check passes.
func (s *Service) Receive(ctx context.Context, d Delivery) (*Result, error) {
	res, err := s.receive(ctx, d)

	outcome := Outcome(err)
	if res != nil && res.Duplicate {
		outcome = "duplicate"
	}
	metrics.IngestDeliveries.WithLabelValues(outcome).Inc()

	if err != nil {
		ev := log.Warn()
		if errors.Is(err, ErrStorageUnavailable) {
			ev = log.Error()
		}
		ev.Err(err).Str("form_id", d.FormID).Str("outcome", outcome).Msg("inbound delivery rejected")
	}
	return res, err
}

func (s *Service) receive(ctx context.Context, d Delivery) (*Result, error) {
	if s.opts.SigningSecret != "" {
		if err := webhooks.Verify(s.opts.SigningSecret, d.Body, d.Signature); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	webhook, err := s.registry.FindByExternalID(ctx, d.FormID)
	if err != nil {
		return nil, fmt.Errorf("lookup form %q: %w", d.FormID, err)
	}
	if webhook == nil {
		return nil, fmt.Errorf("%w: form %q", ErrUnknownWebhook, d.FormID)
	}

	eventID, err := parseEnvelope(d.Body)
	if err != nil {
		return nil, err
	}
	caseNo := caseNumber(eventID, s.opts.Now())

	var resp *models.Response
	if s.opts.DedupeByCaseNumber && eventID != "" {
		var inserted bool
		resp, inserted, err = s.store.AppendIfAbsent(ctx, webhook.ID, json.RawMessage(d.Body), caseNo)
		if err != nil {
			return nil, err
		}
		if !inserted {
			log.Info().Int64("webhook_id", webhook.ID).Str("case_number", caseNo).Msg("duplicate delivery ignored")
			return &Result{Webhook: webhook, Response: resp, Duplicate: true}, nil
		}
	} else {
		resp, err = s.store.Append(ctx, webhook.ID, json.RawMessage(d.Body), caseNo)
		if err != nil {
			return nil, err
		}
	}

	log.Info().
		Int64("webhook_id", webhook.ID).
		Int64("response_id", resp.ID).
		Str("case_number", resp.CaseNumber).
		Msg("response stored")

	s.fanOut(ctx, webhook, resp)
	return &Result{Webhook: webhook, Response: resp}, nil
}

// fanOut runs after the write has committed. It must not influence the reply.
func (s *Service) fanOut(ctx context.Context, webhook *models.Webhook, resp *models.Response) {
	if s.publisher != nil {
		bg := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			report := s.publisher.Publish(bg, live.NewResponseEvent(webhook.ID, resp.ResponseData))
			log.Debug().
				Int64("webhook_id", webhook.ID).
				Int("delivered", report.Delivered).
				Int("skipped", report.Skipped).
				Int("failed", report.Failed).
				Msg("live event published")
		}()
	}

	if s.notifier != nil && webhook.NotifyEmail {
		s.notifier.NotifyAsync(webhook, resp)
	}
}

// Wait blocks until in-flight publications finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
