package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	writeErr error
	block    chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	if f.block != nil {
		<-f.block
	}
	if f.closed.Load() {
		return errors.New("use of closed connection")
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		if f.block != nil {
			close(f.block)
		}
	})
	return nil
}

func (f *fakeTransport) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]Event, 0, len(f.messages))
	for _, m := range f.messages {
		var ev Event
		json.Unmarshal(m, &ev)
		events = append(events, ev)
	}
	return events
}

func openConn(t *testing.T, h *Hub, tr *fakeTransport) *Conn {
	t.Helper()
	c := NewConn(tr, "test")
	require.True(t, c.Open())
	h.Register(c)
	return c
}

func testHub() *Hub {
	return NewHub(Options{SendTimeout: 100 * time.Millisecond, Concurrency: 4})
}

func TestBroadcast_DeliversToAllOpen(t *testing.T) {
	h := testHub()
	a, b := &fakeTransport{}, &fakeTransport{}
	openConn(t, h, a)
	openConn(t, h, b)

	ev := NewResponseEvent(7, json.RawMessage(`{"form_response":{"answers":[]}}`))
	report := h.Broadcast(context.Background(), ev)

	assert.Equal(t, Report{Delivered: 2}, report)
	for _, tr := range []*fakeTransport{a, b} {
		got := tr.received()
		require.Len(t, got, 1)
		assert.Equal(t, EventNewResponse, got[0].Type)
		assert.Equal(t, int64(7), got[0].WebhookID)
		assert.JSONEq(t, `{"form_response":{"answers":[]}}`, string(got[0].ResponseData))
	}
}

func TestBroadcast_WireShape(t *testing.T) {
	h := testHub()
	tr := &fakeTransport{}
	openConn(t, h, tr)

	h.Broadcast(context.Background(), NewResponseEvent(3, json.RawMessage(`{"form_response":{}}`)))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.messages, 1)
	assert.JSONEq(t, `{"type":"newResponse","webhookId":3,"responseData":{"form_response":{}}}`, string(tr.messages[0]))
}

func TestBroadcast_SkipsConnectionsNotOpen(t *testing.T) {
	h := testHub()
	open := &fakeTransport{}
	openConn(t, h, open)

	connecting := &fakeTransport{}
	h.Register(NewConn(connecting, "connecting"))

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})

	assert.Equal(t, Report{Delivered: 1, Skipped: 1}, report)
	assert.Empty(t, connecting.received())
	assert.Equal(t, 2, h.ClientCount(), "skipped connections stay registered")
}

func TestBroadcast_FailureIsIsolated(t *testing.T) {
	h := testHub()
	good1, good2 := &fakeTransport{}, &fakeTransport{}
	bad := &fakeTransport{writeErr: errors.New("broken pipe")}
	openConn(t, h, good1)
	badConn := openConn(t, h, bad)
	openConn(t, h, good2)

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})

	assert.Equal(t, Report{Delivered: 2, Failed: 1}, report)
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)
	assert.Equal(t, StateClosed, badConn.State())
	assert.Equal(t, 2, h.ClientCount())
}

func TestBroadcast_ForciblyClosedConnection(t *testing.T) {
	h := testHub()
	alive := &fakeTransport{}
	gone := &fakeTransport{}
	openConn(t, h, alive)
	openConn(t, h, gone)

	// Peer vanished without the hub noticing yet.
	gone.Close()

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, alive.received(), 1)
	assert.Equal(t, 1, h.ClientCount())
}

func TestBroadcast_SlowConnectionIsEvicted(t *testing.T) {
	h := NewHub(Options{SendTimeout: 50 * time.Millisecond, Concurrency: 1})
	slow := &fakeTransport{block: make(chan struct{})}
	fast := &fakeTransport{}
	slowConn := openConn(t, h, slow)
	openConn(t, h, fast)

	start := time.Now()
	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "a stalled client must not hold up the broadcast")
	assert.Equal(t, Report{Delivered: 1, Failed: 1}, report)
	assert.Len(t, fast.received(), 1)
	assert.Equal(t, StateClosed, slowConn.State())
	assert.Equal(t, 1, h.ClientCount())
}

func TestHandshake_GreetingFirstThenBroadcasts(t *testing.T) {
	h := testHub()
	tr := &fakeTransport{}
	c := NewConn(tr, "joining")
	h.Register(c)

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})
	assert.Equal(t, Report{Skipped: 1}, report, "connecting channels are visible but skipped")

	hello, err := jsonEvent(Event{Type: EventConnected})
	require.NoError(t, err)
	require.NoError(t, c.Handshake(hello, time.Second))
	assert.Equal(t, StateOpen, c.State())

	report = h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 2})
	assert.Equal(t, Report{Delivered: 1}, report)

	got := tr.received()
	require.Len(t, got, 2)
	assert.Equal(t, EventConnected, got[0].Type)
	assert.Equal(t, int64(2), got[1].WebhookID)

	assert.ErrorIs(t, c.Handshake(hello, time.Second), ErrNotOpen, "handshake happens once")
}

func TestHandshake_ConcurrentBroadcastNeverPrecedesGreeting(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := testHub()
		tr := &fakeTransport{}
		c := NewConn(tr, "racing")
		h.Register(c)

		hello, _ := jsonEvent(Event{Type: EventConnected})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 9})
		}()
		require.NoError(t, c.Handshake(hello, time.Second))
		wg.Wait()

		got := tr.received()
		require.NotEmpty(t, got)
		assert.Equal(t, EventConnected, got[0].Type)
	}
}

func TestBroadcast_LateJoinerSeesNothingPast(t *testing.T) {
	h := testHub()
	early := &fakeTransport{}
	openConn(t, h, early)

	h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})

	late := &fakeTransport{}
	openConn(t, h, late)

	assert.Len(t, early.received(), 1)
	assert.Empty(t, late.received())
}

func TestUnregister_Idempotent(t *testing.T) {
	h := testHub()
	tr := &fakeTransport{}
	c := openConn(t, h, tr)

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, tr.closed.Load())
	assert.ErrorIs(t, c.Send([]byte("x"), time.Second), ErrNotOpen)
}

func TestHub_ConcurrentMembershipAndBroadcast(t *testing.T) {
	h := NewHub(Options{SendTimeout: 100 * time.Millisecond, Concurrency: 8})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := NewConn(&fakeTransport{}, "churn")
			c.Open()
			h.Register(c)
			h.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast(ctx, Event{Type: EventNewResponse, WebhookID: 1})
		}()
	}

	stable := &fakeTransport{}
	openConn(t, h, stable)
	wg.Wait()

	h.Broadcast(ctx, Event{Type: EventNewResponse, WebhookID: 2})
	got := stable.received()
	require.NotEmpty(t, got)
	assert.Equal(t, int64(2), got[len(got)-1].WebhookID)

	// Each broadcast reaches a connection at most once.
	seen := map[int64]int{}
	for _, ev := range got {
		seen[ev.WebhookID]++
	}
	assert.Equal(t, 1, seen[2])
}

func TestRun_ClosesConnectionsOnShutdown(t *testing.T) {
	h := testHub()
	tr := &fakeTransport{}
	c := openConn(t, h, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, StateClosed, c.State())
}

// memoryBus stands in for a pub/sub channel shared by several instances.
type memoryBus struct {
	mu   sync.Mutex
	subs []chan string
}

func (b *memoryBus) subscribe() chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, 16)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *memoryBus) publish(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch <- msg
	}
}

type memoryRelay struct {
	bus   *memoryBus
	id    string
	ready chan struct{}
}

func newMemoryRelay(bus *memoryBus, id string) *memoryRelay {
	return &memoryRelay{bus: bus, id: id, ready: make(chan struct{})}
}

func (r *memoryRelay) Publish(_ context.Context, payload []byte) error {
	msg, err := encodeRelayMessage(r.id, payload)
	if err != nil {
		return err
	}
	r.bus.publish(msg)
	return nil
}

func (r *memoryRelay) Subscribe(ctx context.Context, deliver func([]byte)) error {
	ch := r.bus.subscribe()
	close(r.ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if payload, ok := decodeRelayMessage(r.id, msg); ok {
				deliver(payload)
			}
		}
	}
}

func TestPublish_RelaysBetweenInstances(t *testing.T) {
	bus := &memoryBus{}
	relayA, relayB := newMemoryRelay(bus, "a"), newMemoryRelay(bus, "b")
	hubA := NewHub(Options{SendTimeout: 100 * time.Millisecond, Concurrency: 2, Relay: relayA})
	hubB := NewHub(Options{SendTimeout: 100 * time.Millisecond, Concurrency: 2, Relay: relayB})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hubA.Run(ctx)
	go hubB.Run(ctx)
	<-relayA.ready
	<-relayB.ready

	onA, onB := &fakeTransport{}, &fakeTransport{}
	openConn(t, hubA, onA)
	openConn(t, hubB, onB)

	report := hubA.Publish(context.Background(), NewResponseEvent(9, json.RawMessage(`{"form_response":{}}`)))
	assert.Equal(t, 1, report.Delivered)

	require.Eventually(t, func() bool { return len(onB.received()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(9), onB.received()[0].WebhookID)

	// Give A's subscriber time to see its own echo; it must be dropped.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, onA.received(), 1)
}

func TestDecodeRelayMessage(t *testing.T) {
	msg, err := encodeRelayMessage("self", []byte(`{"type":"newResponse","webhookId":1}`))
	require.NoError(t, err)

	_, ok := decodeRelayMessage("self", msg)
	assert.False(t, ok, "own messages are dropped")

	payload, ok := decodeRelayMessage("other", msg)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"newResponse","webhookId":1}`, string(payload))

	_, ok = decodeRelayMessage("other", "not json")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
	} {
		assert.Equal(t, want, s.String())
	}
	assert.Equal(t, fmt.Sprintf("state(%d)", 9), State(9).String())
}
