// Package bus owns the single persistent event stream from the agent
// server.
//
// One background loop opens the SSE connection, decodes data blocks
// into events, and dispatches each event synchronously to every
// registered listener in registration order. The loop reconnects with
// a fixed delay after any disconnect or connect failure and runs until
// Close; it never surfaces errors to listeners. Malformed data blocks
// are dropped without aborting the stream.
package bus

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/HyphaGroup/conduit/internal/event"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/metrics"
)

const (
	reconnectDelay = 3 * time.Second
	// chanBuffer bounds per-subscription channels; a consumer that
	// falls this far behind loses events rather than stalling dispatch.
	chanBuffer = 256
)

// ConnectFunc opens one event stream connection. It is called again
// after every disconnect.
type ConnectFunc func(ctx context.Context) (io.ReadCloser, error)

// Listener receives every decoded event.
type Listener func(*event.Event)

type subscription struct {
	mu       sync.Mutex
	listener Listener
	closed   bool
	onClose  func() // closes the delivery channel for channel subscriptions
}

func (s *subscription) dispatch(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.listener(ev)
	}
}

// close marks the subscription dead and runs onClose once, reporting
// whether this call was the one that closed it. The closed flag and
// dispatch share a lock, so no dispatch can be mid-delivery when
// onClose runs.
func (s *subscription) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return true
}

// Bus is the event fan-out hub. Lifetime is the host lifetime.
type Bus struct {
	connect ConnectFunc
	limiter *rate.Limiter
	delay   time.Duration

	mu      sync.Mutex
	subs    []*subscription
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a bus that connects through connect.
func New(connect ConnectFunc) *Bus {
	return &Bus{
		connect: connect,
		delay:   reconnectDelay,
		// The fixed delay already paces reconnects; the limiter is a
		// backstop against a server that accepts and instantly drops
		// connections faster than the delay alone would allow.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		done:    make(chan struct{}),
	}
}

// Start begins the background connect/consume loop. Idempotent: only
// the first call starts the loop.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	go b.run(ctx)
}

// Close stops the loop, tears down the connection, and closes every
// live subscription channel so blocked consumers observe the end of
// the stream. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	cancel := b.cancel
	started := b.started
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-b.done
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.close() {
			metrics.BusListeners.Dec()
		}
	}
}

// Subscribe registers a listener for every event. The returned
// function removes it; calling it more than once is harmless.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	return b.add(&subscription{listener: fn})
}

func (b *Bus) add(sub *subscription) (unsubscribe func()) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	metrics.BusListeners.Inc()

	return func() {
		if !sub.close() {
			return
		}
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		metrics.BusListeners.Dec()
	}
}

// SubscribeChan registers a filtered subscription delivered over a
// channel, turning push dispatch into a pull sequence. The channel is
// closed by unsubscribe or by Bus.Close, whichever comes first. Events
// arriving while the buffer is full are dropped with a log line rather
// than blocking dispatch.
func (b *Bus) SubscribeChan(filter func(*event.Event) bool) (<-chan *event.Event, func()) {
	ch := make(chan *event.Event, chanBuffer)

	sub := &subscription{
		onClose: func() { close(ch) },
	}
	sub.listener = func(ev *event.Event) {
		if filter != nil && !filter(ev) {
			return
		}
		select {
		case ch <- ev:
		default:
			logger.Error("event subscription buffer full, dropping %s", ev.Type)
		}
	}

	return ch, b.add(sub)
}

// run is the reconnect/consume loop.
func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}

		stream, err := b.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Debug("event stream connect failed: %v", err)
			metrics.BusReconnects.Inc()
			if !sleep(ctx, b.delay) {
				return
			}
			continue
		}

		b.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		logger.Debug("event stream closed, reconnecting in %s", b.delay)
		metrics.BusReconnects.Inc()
		if !sleep(ctx, b.delay) {
			return
		}
	}
}

// consume reads SSE blocks until the stream ends. Consecutive data
// lines accumulate until a blank line terminates one JSON event.
func (b *Bus) consume(ctx context.Context, stream io.Reader) {
	// Tear the socket down as soon as the context is cancelled so a
	// blocked Read returns.
	if closer, ok := stream.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				b.dispatch(data.String())
				data.Reset()
			}
			continue
		}

		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
		}
		// Other SSE fields (event:, id:, retry:, comments) are unused
		// by the server and ignored here.
	}

	if data.Len() > 0 {
		b.dispatch(data.String())
	}
}

func (b *Bus) dispatch(data string) {
	ev, err := event.Decode([]byte(data))
	if err != nil {
		logger.Debug("dropping malformed event: %v", err)
		return
	}
	metrics.BusEvents.WithLabelValues(ev.Type).Inc()

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.dispatch(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
