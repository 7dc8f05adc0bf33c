package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned for work submitted after Close.
var ErrDispatcherClosed = errors.New("browser dispatcher closed")

const (
	// defaultCallTimeout bounds one submitted call. Page navigation and
	// human-speed UI waits dominate, so this is generous.
	defaultCallTimeout = 5 * time.Minute

	defaultQueueDepth = 16
)

type job struct {
	id   string
	fn   func(context.Context) error
	done chan error
}

// dispatcher funnels all page operations through one consumer goroutine. The
// underlying automation driver is not safe for concurrent calls, so callers
// enqueue work and block on its result.
type dispatcher struct {
	jobs    chan *job
	log     *zap.Logger
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	drained   chan struct{}
}

func newDispatcher(log *zap.Logger) *dispatcher {
	d := &dispatcher{
		jobs:    make(chan *job, defaultQueueDepth),
		log:     log,
		timeout: defaultCallTimeout,
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.drained)
	for {
		select {
		case <-d.closed:
			// Fail whatever is still queued.
			for {
				select {
				case j := <-d.jobs:
					j.done <- ErrDispatcherClosed
				default:
					return
				}
			}
		case j := <-d.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := j.fn(ctx)
			cancel()
			j.done <- err
		}
	}
}

// Do runs fn on the consumer goroutine and waits for its result. The caller's
// context only bounds the wait; an accepted job always runs to completion so
// the page is never left mid-gesture.
func (d *dispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	j := &job{id: uuid.NewString(), fn: fn, done: make(chan error, 1)}
	select {
	case <-d.closed:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	case d.jobs <- j:
	}
	select {
	case err := <-j.done:
		return err
	case <-d.drained:
		// The consumer exited between the enqueue and the pickup.
		select {
		case err := <-j.done:
			return err
		default:
			return ErrDispatcherClosed
		}
	case <-ctx.Done():
		d.log.Warn("abandoning in-flight page call", zap.String("job", j.id))
		return fmt.Errorf("page call %s: %w", j.id, ctx.Err())
	}
}

// Close stops the consumer. Queued jobs fail with ErrDispatcherClosed.
func (d *dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	<-d.drained
}
