package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/pscheid92/relaypulse/internal/domain"
	"github.com/pscheid92/relaypulse/internal/metrics"
)

// Wildcard targets every live session instead of a single channel.
const Wildcard = "*"

const (
	stopTimeout = 10 * time.Second

	breakerConsecutiveFailures = 5
	breakerOpenDuration        = 30 * time.Second
)

// ErrShuttingDown is returned by Enqueue once Shutdown has been requested.
// Items accepted before that point are still drained.
var ErrShuttingDown = errors.New("broadcaster is shutting down")

// Resolver supplies recipient snapshots for a queue item. Implemented by the
// session registry.
type Resolver interface {
	SubscribersOf(channel string) []string
	AllSessions() []string
}

type queueItem struct {
	channel  string
	envelope domain.Envelope
}

// Broadcaster decouples message ingestion from fan-out delivery. Producers
// append to an unbounded FIFO queue and never wait on network sends; a single
// worker goroutine drains the queue, resolves recipients per item, and pushes
// the encoded payload through the sink once per recipient.
//
// Per-session circuit breakers isolate sessions whose sends keep failing:
// after a run of consecutive failures the breaker opens and further sends to
// that session fail fast until it half-opens again.
type Broadcaster struct {
	mu       sync.Mutex
	queue    []queueItem
	stopping bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	resolver Resolver
	sink     domain.Sink
	clock    clockwork.Clock

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

func NewBroadcaster(resolver Resolver, sink domain.Sink, clock clockwork.Clock) *Broadcaster {
	b := &Broadcaster{
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		resolver: resolver,
		sink:     sink,
		clock:    clock,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	go b.run()
	return b
}

// Enqueue appends an envelope for the given channel and wakes the worker.
// Never blocks on delivery.
func (b *Broadcaster) Enqueue(channel string, envelope domain.Envelope) error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.queue = append(b.queue, queueItem{channel: channel, envelope: envelope})
	metrics.BroadcastQueueDepth.Set(float64(len(b.queue)))
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// EnqueueGlobal appends an envelope addressed to every live session.
func (b *Broadcaster) EnqueueGlobal(envelope domain.Envelope) error {
	return b.Enqueue(Wildcard, envelope)
}

// Shutdown stops accepting new items, lets the worker drain the queue, and
// waits for it to exit. Waiting is bounded by a timeout so a stuck sink can
// never wedge process shutdown.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	alreadyStopping := b.stopping
	b.stopping = true
	b.mu.Unlock()

	if !alreadyStopping {
		close(b.stop)
	}

	timer := b.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Broadcaster stop timeout exceeded", "timeout", stopTimeout)
	}
}

// Forget drops the delivery breaker for a session. Wired to the registry's
// removal hooks.
func (b *Broadcaster) Forget(sessionID string) {
	b.breakerMu.Lock()
	defer b.breakerMu.Unlock()
	delete(b.breakers, sessionID)
}

func (b *Broadcaster) run() {
	defer close(b.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
		}
	}()

	for {
		item, ok, drained := b.next()
		if ok {
			b.deliver(item)
			continue
		}
		if drained {
			return
		}

		select {
		case <-b.notify:
		case <-b.stop:
		}
	}
}

// next pops the oldest queue item. drained is true only once shutdown has
// been requested and the queue is empty.
func (b *Broadcaster) next() (item queueItem, ok bool, drained bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) > 0 {
		item = b.queue[0]
		b.queue = b.queue[1:]
		metrics.BroadcastQueueDepth.Set(float64(len(b.queue)))
		return item, true, false
	}
	return queueItem{}, false, b.stopping
}

func (b *Broadcaster) deliver(item queueItem) {
	start := b.clock.Now()
	defer func() {
		metrics.FanoutDuration.Observe(b.clock.Since(start).Seconds())
	}()

	payload, err := json.Marshal(item.envelope)
	if err != nil {
		slog.Error("Failed to marshal broadcast envelope", "channel", item.channel, "error", err)
		return
	}

	var recipients []string
	if item.channel == Wildcard {
		recipients = b.resolver.AllSessions()
	} else {
		recipients = b.resolver.SubscribersOf(item.channel)
	}

	for _, sessionID := range recipients {
		if err := b.send(sessionID, payload); err != nil {
			metrics.DeliveryFailuresTotal.Inc()
			slog.Warn("Delivery failed", "session_id", sessionID, "channel", item.channel, "error", err)
			continue
		}
		metrics.MessagesDeliveredTotal.Inc()
	}
}

func (b *Broadcaster) send(sessionID string, payload []byte) error {
	breaker := b.breakerFor(sessionID)
	_, err := breaker.Execute(func() (any, error) {
		return nil, b.sink.Send(sessionID, payload)
	})
	return err
}

func (b *Broadcaster) breakerFor(sessionID string) *gobreaker.CircuitBreaker {
	b.breakerMu.Lock()
	defer b.breakerMu.Unlock()

	breaker, exists := b.breakers[sessionID]
	if !exists {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "delivery:" + sessionID,
			Timeout: breakerOpenDuration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					metrics.DeliveryBreakerOpensTotal.Inc()
					slog.Warn("Delivery circuit opened", "breaker", name)
				}
			},
		})
		b.breakers[sessionID] = breaker
	}
	return breaker
}
