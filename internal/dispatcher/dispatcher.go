package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrQueueFull is returned by Post when the loop queue has no free slot.
var ErrQueueFull = errors.New("dispatcher queue full")

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 1024

const syncCommand = "dispatcher.sync"

// Event is a unit of work for the loop: a host signal, a fetch result or
// a public API call.
type Event struct {
	Command   string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type reply struct {
	result any
	err    error
}

type queued struct {
	e     Event
	reply chan reply
}

// Dispatcher serializes every registered handler onto a single loop
// goroutine. Handlers never run concurrently with each other once Serve
// is running.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   Logger
	queue    chan queued

	// OTEL metrics
	queueSize    metric.Int64ObservableGauge
	processed    metric.Int64Counter
	dropped      metric.Int64Counter
	registration metric.Registration
	closeOnce    sync.Once
}

// New creates a new Dispatcher with the given logger and queue capacity.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger, queueSize int) (*Dispatcher, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		queue:    make(chan queued, queueSize),
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events waiting for the loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	d.registration, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(d.queueSize, int64(len(d.queue)))
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.handlers[syncCommand] = func(Event) (any, error) { return nil, nil }

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	d.mu.Lock()
	d.handlers[command] = handler
	d.mu.Unlock()
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Dispatch runs the handler for e on the calling goroutine. It is meant
// for the loop itself and for tests; everything else goes through Post,
// PostWait or Call.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

// Post enqueues e without blocking.
func (d *Dispatcher) Post(e Event) error {
	stamp(&e)
	select {
	case d.queue <- queued{e: e}:
		return nil
	default:
		d.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", e.Command)))
		d.logger.Error("event dropped", "command", e.Command, "error", ErrQueueFull)
		return fmt.Errorf("%w: %s", ErrQueueFull, e.Command)
	}
}

// PostWait enqueues e, waiting for a free slot until ctx is done.
func (d *Dispatcher) PostWait(ctx context.Context, e Event) error {
	stamp(&e)
	select {
	case d.queue <- queued{e: e}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call enqueues e and waits for the loop to run its handler. It must not
// be used from inside a handler.
func (d *Dispatcher) Call(ctx context.Context, e Event) (any, error) {
	stamp(&e)
	q := queued{e: e, reply: make(chan reply, 1)}
	select {
	case d.queue <- q:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-q.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sync returns once every event queued before the call has been handled.
func (d *Dispatcher) Sync(ctx context.Context) error {
	_, err := d.Call(ctx, Event{Command: syncCommand})
	return err
}

// Close unregisters the queue gauge callback. The dispatcher must not be
// served afterwards.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.registration != nil {
			err = d.registration.Unregister()
		}
	})
	return err
}

// Pending reports the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Serve runs the loop until ctx is done.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-d.queue:
			result, err := d.Dispatch(q.e)
			if q.e.Command != syncCommand {
				d.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("command", q.e.Command)))
			}
			if q.reply != nil {
				q.reply <- reply{result: result, err: err}
			} else if err != nil {
				d.logger.Error("event failed", "command", q.e.Command, "error", err)
			}
		}
	}
}

func stamp(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", fmt.Sprintf("%T", e.Payload))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
