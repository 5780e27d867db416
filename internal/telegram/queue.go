package telegram

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kalambet/bazar/internal/dialogue"
)

type job struct {
	in         dialogue.Inbound
	callbackID string
}

// queues runs one goroutine per user with pending work, so a user's events
// are handled in arrival order while different users proceed independently.
// The semaphore caps handlers running at once.
type queues struct {
	mu      sync.Mutex
	pending map[int64][]job
	sem     *semaphore.Weighted
	run     func(context.Context, job)
	wg      sync.WaitGroup
}

func newQueues(workers int, run func(context.Context, job)) *queues {
	return &queues{
		pending: map[int64][]job{},
		sem:     semaphore.NewWeighted(int64(workers)),
		run:     run,
	}
}

// push appends j to its user's queue, starting a drainer if none is active.
func (q *queues) push(ctx context.Context, j job) {
	uid := j.in.UserID
	q.mu.Lock()
	defer q.mu.Unlock()
	_, active := q.pending[uid]
	q.pending[uid] = append(q.pending[uid], j)
	if active {
		return
	}
	q.wg.Add(1)
	go q.drain(ctx, uid)
}

// drain serves uid's queue until it is empty. An entry in pending marks the
// user as having an active drainer.
func (q *queues) drain(ctx context.Context, uid int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[uid]
		if len(jobs) == 0 {
			delete(q.pending, uid)
			q.mu.Unlock()
			return
		}
		j := jobs[0]
		q.pending[uid] = jobs[1:]
		q.mu.Unlock()

		if err := q.sem.Acquire(ctx, 1); err != nil {
			q.mu.Lock()
			delete(q.pending, uid)
			q.mu.Unlock()
			return
		}
		q.run(ctx, j)
		q.sem.Release(1)
	}
}

// wait blocks until every drainer has returned.
func (q *queues) wait() { q.wg.Wait() }
