package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qmsportal/qms-realtime/internal/realtime"
)

const (
	// DefaultPublishTimeout bounds a single publish.
	DefaultPublishTimeout = 2 * time.Second

	// DefaultQueueSize is the number of updates buffered ahead of the publisher.
	DefaultQueueSize = 1024
)

// Publisher abstracts the Redis publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DepartmentChannel returns the channel for updates scoped to a department.
func DepartmentChannel(prefix, departmentID string) string {
	return prefix + ":department:" + departmentID
}

// UserChannel returns the channel for updates scoped to a user.
func UserChannel(prefix, userID string) string {
	return prefix + ":user:" + userID
}

// BroadcastChannel returns the channel for unscoped updates.
func BroadcastChannel(prefix string) string {
	return prefix + ":broadcast"
}

// ChannelFor picks the most specific channel for u.
func ChannelFor(prefix string, u realtime.Update) string {
	switch {
	case u.DepartmentID != "":
		return DepartmentChannel(prefix, u.DepartmentID)
	case u.UserID != "":
		return UserChannel(prefix, u.UserID)
	default:
		return BroadcastChannel(prefix)
	}
}

// Stats counts relay activity.
type Stats struct {
	Published int64
	Errors    int64
	Dropped   int64
	Pending   int
}

// Option configures a Relay.
type Option func(*Relay)

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// Relay publishes each update's original frame to Redis. Updates are queued by
// Handle and published by a background worker started with Start.
type Relay struct {
	pub       Publisher
	prefix    string
	timeout   time.Duration
	queueSize int
	logger    *slog.Logger

	queue    chan realtime.Update
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published atomic.Int64
	errors    atomic.Int64
	dropped   atomic.Int64
}

// New creates a Relay publishing under prefix.
func New(pub Publisher, prefix string, logger *slog.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		pub:       pub,
		prefix:    prefix,
		timeout:   DefaultPublishTimeout,
		queueSize: DefaultQueueSize,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan realtime.Update, r.queueSize)
	return r
}

// Subscribe registers the relay for every update type.
func (r *Relay) Subscribe(reg *realtime.Registry) *realtime.Subscription {
	return reg.Subscribe(realtime.AnyUpdate, r.Handle)
}

// Start launches the publish worker.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop publishes what is already queued and waits for the worker to exit, or
// for ctx to be done.
func (r *Relay) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle queues u for publishing. It never blocks: when the queue is full the
// update is dropped and counted.
func (r *Relay) Handle(u realtime.Update) error {
	select {
	case r.queue <- u:
	default:
		dropped := r.dropped.Add(1)
		// Log the first drop and then every 1000th.
		if dropped%1000 == 1 {
			r.logger.Warn("relay queue full, dropping update",
				"type", u.Type,
				"queue_size", r.queueSize,
				"total_dropped", dropped,
			)
		}
	}
	return nil
}

// Stats returns relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Errors:    r.errors.Load(),
		Dropped:   r.dropped.Load(),
		Pending:   len(r.queue),
	}
}

func (r *Relay) run() {
	defer r.wg.Done()

	for {
		select {
		case u := <-r.queue:
			r.publish(u)
		case <-r.stop:
			for {
				select {
				case u := <-r.queue:
					r.publish(u)
				default:
					return
				}
			}
		}
	}
}

// publish sends one update. Failures are logged and counted.
func (r *Relay) publish(u realtime.Update) {
	channel := ChannelFor(r.prefix, u)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.pub.Publish(ctx, channel, u.Raw); err != nil {
		r.errors.Add(1)
		r.logger.Warn("relay publish failed",
			"channel", channel,
			"type", u.Type,
			"error", err,
		)
		return
	}

	r.published.Add(1)
}
