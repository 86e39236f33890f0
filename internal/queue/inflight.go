package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultPrefetch       = 1
	defaultHandlerTimeout = 20 * time.Second
	ackTimeout            = 5 * time.Second
)

// inflight bounds how many deliveries are handled at once. A slot is taken
// before fetching and released once the delivery has been acked or left for
// redelivery, so fetching never runs ahead of processing.
type inflight struct {
	slots *semaphore.Weighted
	wg    sync.WaitGroup
}

func newInflight(limit int) *inflight {
	if limit <= 0 {
		limit = defaultPrefetch
	}
	return &inflight{slots: semaphore.NewWeighted(int64(limit))}
}

func (f *inflight) acquire(ctx context.Context) error {
	return f.slots.Acquire(ctx, 1)
}

func (f *inflight) release() {
	f.slots.Release(1)
}

// spawn runs fn on its own goroutine and frees the slot held by the caller
// when fn returns.
func (f *inflight) spawn(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.release()
		fn()
	}()
}

func (f *inflight) wait() {
	f.wg.Wait()
}

// handlerContext detaches a delivery from the consume loop's cancellation so
// shutdown lets in-flight work finish, bounded by timeout.
func handlerContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

func settleContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), ackTimeout)
}
