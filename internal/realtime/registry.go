package realtime

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives a dispatched update. A returned error is logged and does not
// stop delivery to other handlers.
type Handler func(Update) error

// Subscription is a registry entry. It is the identity used to unsubscribe.
type Subscription struct {
	registry   *Registry
	updateType UpdateType
	handler    Handler
	active     atomic.Bool
}

// Type returns the tag this subscription listens on.
func (s *Subscription) Type() UpdateType {
	return s.updateType
}

// Cancel removes the subscription from its registry.
func (s *Subscription) Cancel() bool {
	return s.registry.Unsubscribe(s)
}

// Registry maps update tags to ordered subscriber lists.
type Registry struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[UpdateType][]*Subscription

	failures atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		subs:   make(map[UpdateType][]*Subscription),
	}
}

// Subscribe appends h to the list for t. Registering the same handler twice
// delivers twice.
func (r *Registry) Subscribe(t UpdateType, h Handler) *Subscription {
	s := &Subscription{
		registry:   r,
		updateType: t,
		handler:    h,
	}
	s.active.Store(true)

	r.mu.Lock()
	r.subs[t] = append(r.subs[t], s)
	r.mu.Unlock()

	return s
}

// Unsubscribe removes s. It returns false if s was not registered.
// Takes effect immediately, including for a dispatch already in progress.
func (r *Registry) Unsubscribe(s *Subscription) bool {
	if s == nil {
		return false
	}
	s.active.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[s.updateType]
	for i, existing := range list {
		if existing != s {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, s.updateType)
		} else {
			r.subs[s.updateType] = next
		}
		return true
	}
	return false
}

// Len returns the number of subscriptions for t.
func (r *Registry) Len(t UpdateType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[t])
}

// Failures returns how many handler invocations errored or panicked.
func (r *Registry) Failures() int64 {
	return r.failures.Load()
}

// Dispatch delivers u to every subscriber of u.Type, then to every AnyUpdate
// subscriber, in registration order. It returns the number of handlers invoked.
func (r *Registry) Dispatch(u Update) int {
	r.mu.RLock()
	exact := r.subs[u.Type]
	generic := r.subs[AnyUpdate]
	targets := make([]*Subscription, 0, len(exact)+len(generic))
	targets = append(targets, exact...)
	if u.Type != AnyUpdate {
		targets = append(targets, generic...)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if !s.active.Load() {
			continue
		}
		r.invoke(s, u)
		delivered++
	}
	return delivered
}

// invoke runs one handler, containing errors and panics.
func (r *Registry) invoke(s *Subscription, u Update) {
	defer func() {
		if p := recover(); p != nil {
			r.failures.Add(1)
			r.logger.Error("update handler panicked",
				"type", u.Type,
				"subscription", s.updateType,
				"panic", fmt.Sprint(p),
			)
		}
	}()

	if err := s.handler(u); err != nil {
		r.failures.Add(1)
		r.logger.Warn("update handler failed",
			"type", u.Type,
			"subscription", s.updateType,
			"error", err,
		)
	}
}

// On subscribes fn to the tag of P, decoding each update's data as P first.
// Decode failures count as handler failures.
func On[P Payload](r *Registry, fn func(Update, P) error) *Subscription {
	var zero P
	return r.Subscribe(zero.UpdateType(), func(u Update) error {
		p, err := DecodePayload[P](u)
		if err != nil {
			return err
		}
		return fn(u, p)
	})
}
