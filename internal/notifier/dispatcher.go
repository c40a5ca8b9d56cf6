package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fleetguard/internal/telemetry"
)

const (
	StatusSent        = "sent"
	StatusFailed      = "failed"
	StatusRateLimited = "rate_limited"
	StatusDropped     = "dropped"
)

// Result reports one delivery attempt on one channel.
type Result struct {
	Message Message
	Channel string
	Status  string
	Err     error
	At      time.Time
}

type DispatcherOptions struct {
	QueueSize      int
	PerMinute      int
	Burst          int
	AttemptTimeout time.Duration
}

// Dispatcher delivers messages asynchronously and best-effort: one attempt
// per enabled channel, no retries. Dispatch never blocks the caller.
type Dispatcher struct {
	channels []Notifier
	queue    chan Message
	limiter  *rate.Limiter
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	onResult []func(Result)
}

func NewDispatcher(channels []Notifier, logger *slog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = 30
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		queue:    make(chan Message, opts.QueueSize),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), opts.Burst),
		timeout:  opts.AttemptTimeout,
		log:      logger,
		now:      time.Now,
	}
}

// OnResult registers a hook called after every delivery attempt.
func (d *Dispatcher) OnResult(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = append(d.onResult, fn)
}

func (d *Dispatcher) Enabled() bool {
	for _, n := range d.channels {
		if n.Enabled() {
			return true
		}
	}
	return false
}

// Dispatch enqueues msg. It returns false when no channel is configured or
// the queue is full.
func (d *Dispatcher) Dispatch(msg Message) bool {
	if !d.Enabled() {
		d.log.Debug("notification skipped, no channel configured", "subject", msg.Subject)
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.log.Warn("notification queue full, dropping", "subject", msg.Subject)
		d.emit(Result{Message: msg, Channel: "queue", Status: StatusDropped, At: d.now().UTC()})
		return false
	}
}

// Run delivers queued messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	if !d.limiter.Allow() {
		d.log.Warn("notification rate limited", "subject", msg.Subject)
		d.emit(Result{Message: msg, Channel: "limiter", Status: StatusRateLimited, At: d.now().UTC()})
		return
	}
	for _, n := range d.channels {
		if !n.Enabled() {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Notify(attemptCtx, msg)
		cancel()
		r := Result{Message: msg, Channel: n.Name(), Status: StatusSent, At: d.now().UTC()}
		if err != nil {
			r.Status = StatusFailed
			r.Err = err
			d.log.Warn("notify failed", "channel", n.Name(), "subject", msg.Subject, "err", err)
		}
		d.emit(r)
	}
}

func (d *Dispatcher) emit(r Result) {
	telemetry.Notifications.WithLabelValues(r.Channel, r.Status).Inc()
	d.mu.RLock()
	hooks := append([]func(Result){}, d.onResult...)
	d.mu.RUnlock()
	for _, fn := range hooks {
		fn(r)
	}
}
