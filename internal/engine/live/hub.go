package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"formhook/internal/platform/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Relay forwards events between server instances.
type Relay interface {
	// Publish sends a locally originated event to the other instances.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe blocks until ctx is done, calling deliver for each event
	// originated by another instance.
	Subscribe(ctx context.Context, deliver func(payload []byte)) error
}

type Options struct {
	SendTimeout time.Duration
	// Concurrency bounds the number of in-flight sends per broadcast.
	Concurrency int
	Relay       Relay
}

// Hub owns the set of live connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}

	sendTimeout time.Duration
	concurrency int
	relay       Relay
}

func NewHub(opts Options) *Hub {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Hub{
		conns:       make(map[*Conn]struct{}),
		sendTimeout: opts.SendTimeout,
		concurrency: opts.Concurrency,
		relay:       opts.Relay,
	}
}

// Run subscribes to the relay (if any) and blocks until ctx is done, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay != nil {
		go func() {
			err := h.relay.Subscribe(ctx, func(payload []byte) {
				metrics.RelayMessages.WithLabelValues("in").Inc()
				h.broadcastPayload(ctx, payload)
			})
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("live relay subscription ended")
			}
		}()
	}

	<-ctx.Done()
	h.CloseAll()
	return nil
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = struct{}{}
		metrics.LiveConnections.Inc()
	}
	h.mu.Unlock()

	log.Debug().Str("conn_id", c.ID).Str("remote", c.Remote).Msg("live connection registered")
}

// Unregister removes and closes c. Calling it more than once is harmless.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
		metrics.LiveConnections.Dec()
	}
	h.mu.Unlock()

	c.Close()
	if ok {
		log.Debug().Str("conn_id", c.ID).Msg("live connection unregistered")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) CloseAll() {
	for _, c := range h.snapshot() {
		h.Unregister(c)
	}
}

// Publish delivers ev to local connections and forwards it to the relay.
func (h *Hub) Publish(ctx context.Context, ev Event) Report {
	payload, err := jsonEvent(ev)
	if err != nil {
		return Report{}
	}

	report := h.broadcastPayload(ctx, payload)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, payload); err != nil {
			log.Warn().Err(err).Msg("live relay publish failed")
		} else {
			metrics.RelayMessages.WithLabelValues("out").Inc()
		}
	}
	return report
}

// Broadcast delivers ev to local connections only.
func (h *Hub) Broadcast(ctx context.Context, ev Event) Report {
	payload, err := jsonEvent(ev)
	if err != nil {
		return Report{}
	}
	return h.broadcastPayload(ctx, payload)
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// broadcastPayload sends to each connection present at call time exactly
// once. A failed send evicts that connection and nothing else.
func (h *Hub) broadcastPayload(ctx context.Context, payload []byte) Report {
	start := time.Now()
	conns := h.snapshot()

	var delivered, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(h.concurrency)

	for _, c := range conns {
		c := c
		if ctx.Err() != nil {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if c.State() != StateOpen {
				skipped.Add(1)
				return nil
			}
			if err := c.Send(payload, h.sendTimeout); err != nil {
				if errors.Is(err, ErrNotOpen) {
					skipped.Add(1)
					return nil
				}
				failed.Add(1)
				log.Warn().Err(err).Str("conn_id", c.ID).Str("remote", c.Remote).Msg("live send failed, dropping connection")
				h.Unregister(c)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	g.Wait()

	report := Report{
		Delivered: int(delivered.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	metrics.LiveSends.WithLabelValues("delivered").Add(float64(report.Delivered))
	metrics.LiveSends.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.LiveSends.WithLabelValues("failed").Add(float64(report.Failed))
	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	return report
}

func jsonEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("failed to encode live event")
	}
	return payload, err
}
