// Package relay implements a bounded, multi-reader broadcast channel.
//
// A Relay holds at most Capacity unread items. Every Receiver keeps its own
// cursor, so each reader observes the full stream independently. What happens
// when the slowest reader falls Capacity items behind depends on the Policy:
// with PolicyDropOldest the producer keeps going and the lagging reader's
// oldest items are evicted (its next Recv reports a *LaggedError); with
// PolicyBlock the producer waits until the reader catches up. PolicyBlock
// bounds the relay only; a producer that sends from many goroutines must cap
// them itself to bound its own memory.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10000

// Policy selects what Send does when the relay is full.
type Policy string

// Supported overflow policies.
const (
	PolicyDropOldest Policy = "drop-oldest"
	PolicyBlock      Policy = "block"
)

var (
	// ErrClosed is returned by Recv once the relay is closed and drained, and by Send after Close.
	ErrClosed = errors.New("relay closed")
	// ErrNoActiveReceivers is returned by Send when nobody is subscribed.
	ErrNoActiveReceivers = errors.New("relay has no active receivers")
)

// LaggedError tells a receiver that Skipped items were evicted before it read them.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged by %d items", e.Skipped)
}

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyDropOldest, PolicyBlock:
		return Policy(name), nil
	case "":
		return PolicyDropOldest, nil
	default:
		return "", fmt.Errorf("unknown relay policy %q", name)
	}
}

// Relay is a bounded broadcast channel. It is safe for concurrent use.
type Relay[T any] struct {
	mu        sync.Mutex
	buf       []T
	capacity  uint64
	policy    Policy
	head      uint64
	tail      uint64
	receivers map[*Receiver[T]]struct{}
	closed    bool
	wake      chan struct{}
}

// New builds a Relay holding at most capacity unread items.
func New[T any](capacity int, policy Policy) *Relay[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if policy == "" {
		policy = PolicyDropOldest
	}
	return &Relay[T]{
		buf:       make([]T, capacity),
		capacity:  uint64(capacity),
		policy:    policy,
		receivers: make(map[*Receiver[T]]struct{}),
		wake:      make(chan struct{}),
	}
}

// Capacity reports the configured buffer size.
func (r *Relay[T]) Capacity() int {
	return int(r.capacity)
}

// Policy reports the configured overflow policy.
func (r *Relay[T]) Policy() Policy {
	return r.policy
}

// Subscribe registers a new Receiver that observes every item sent from now on.
func (r *Relay[T]) Subscribe() *Receiver[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	rx := &Receiver[T]{relay: r, next: r.tail}
	r.receivers[rx] = struct{}{}
	return rx
}

// Send publishes v to every receiver. Under PolicyBlock it waits while the
// slowest receiver has Capacity unread items; under PolicyDropOldest it never
// waits.
func (r *Relay[T]) Send(ctx context.Context, v T) error {
	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if len(r.receivers) == 0 {
			r.mu.Unlock()
			return ErrNoActiveReceivers
		}
		if r.policy != PolicyBlock || r.tail-r.head < r.capacity {
			break
		}
		wake := r.wake
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay send canceled: %w", ctx.Err())
		case <-wake:
		}
		r.mu.Lock()
	}

	r.buf[r.tail%r.capacity] = v
	r.tail++
	if r.tail-r.head > r.capacity {
		r.head = r.tail - r.capacity
	}
	r.broadcast()
	r.mu.Unlock()
	return nil
}

// Close ends production. Receivers drain what is retained and then see ErrClosed.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.broadcast()
}

// Len reports how many retained items the slowest receiver has not read yet.
func (r *Relay[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// ReceiverCount reports the number of subscribed receivers.
func (r *Relay[T]) ReceiverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receivers)
}

// broadcast wakes every waiter. Callers hold mu.
func (r *Relay[T]) broadcast() {
	close(r.wake)
	r.wake = make(chan struct{})
}

// release drops slots every receiver has already read so their payloads can
// be collected. Callers hold mu.
func (r *Relay[T]) release() {
	low := r.tail
	for rx := range r.receivers {
		if rx.next < low {
			low = rx.next
		}
	}
	if low <= r.head {
		return
	}
	var zero T
	for ; r.head < low; r.head++ {
		r.buf[r.head%r.capacity] = zero
	}
	r.broadcast()
}

// Receiver is one independent reader of a Relay.
type Receiver[T any] struct {
	relay  *Relay[T]
	next   uint64
	closed bool
}

// Recv returns the next item. It blocks until an item arrives, the relay is
// closed and drained (ErrClosed), items were evicted (*LaggedError), or ctx
// ends. After a *LaggedError the following Recv resumes at the oldest item
// still retained.
func (rx *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	r := rx.relay
	r.mu.Lock()
	for {
		if rx.closed {
			r.mu.Unlock()
			return zero, ErrClosed
		}
		if rx.next < r.head {
			skipped := r.head - rx.next
			rx.next = r.head
			r.mu.Unlock()
			return zero, &LaggedError{Skipped: skipped}
		}
		if rx.next < r.tail {
			v := r.buf[rx.next%r.capacity]
			rx.next++
			r.release()
			r.mu.Unlock()
			return v, nil
		}
		if r.closed {
			r.mu.Unlock()
			return zero, ErrClosed
		}
		wake := r.wake
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("relay receive canceled: %w", ctx.Err())
		case <-wake:
		}
		r.mu.Lock()
	}
}

// Close unsubscribes the receiver. Items it had not read are released.
func (rx *Receiver[T]) Close() {
	r := rx.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	if rx.closed {
		return
	}
	rx.closed = true
	delete(r.receivers, rx)
	r.release()
	r.broadcast()
}
