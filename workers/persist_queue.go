package workers

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"hexbattle-server/services"
)

type persistJob struct {
	key string
	op  string
	fn  func(ctx context.Context) error
}

var _ services.DurableWriter = (*PersistQueue)(nil)

// PersistQueue runs durable writes off the request path. Jobs are sharded by
// key onto a fixed set of workers, so writes for one match land in the order
// they were queued while other matches proceed in parallel. A full shard drops
// the job; the reaper's next checkpoint repairs the durable copy.
type PersistQueue struct {
	shards  []chan persistJob
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewPersistQueue(workers, size int, timeout time.Duration) *PersistQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &PersistQueue{
		shards:  make([]chan persistJob, workers),
		timeout: timeout,
	}
	for i := range q.shards {
		q.shards[i] = make(chan persistJob, size)
	}
	return q
}

// Start launches one goroutine per shard.
func (q *PersistQueue) Start() {
	log.Infof("[PERSIST] 🔁 starting %d durable-write worker(s)", len(q.shards))
	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.run(i, ch)
	}
}

func (q *PersistQueue) run(shard int, ch <-chan persistJob) {
	defer q.wg.Done()
	for j := range ch {
		q.exec(shard, j)
	}
}

func (q *PersistQueue) exec(shard int, j persistJob) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	if err := j.fn(ctx); err != nil {
		q.failed.Add(1)
		log.Errorf("[PERSIST] ❌ shard=%d %s (%s) failed: %v", shard, j.op, j.key, err)
	}
}

// Enqueue implements services.DurableWriter.
func (q *PersistQueue) Enqueue(key, op string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		log.Warnf("[PERSIST] ⚠️ queue closed, dropping %s (%s)", op, key)
		return false
	}

	select {
	case q.shards[q.shardFor(key)] <- persistJob{key: key, op: op, fn: fn}:
		return true
	default:
		q.dropped.Add(1)
		log.Warnf("[PERSIST] ⚠️ shard full, dropping %s (%s)", op, key)
		return false
	}
}

func (q *PersistQueue) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Close stops accepting jobs and waits for queued ones to finish, or for ctx.
func (q *PersistQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, ch := range q.shards {
			close(ch)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infof("[PERSIST] ⏹️ drained (dropped=%d failed=%d)", q.dropped.Load(), q.failed.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *PersistQueue) Dropped() uint64 { return q.dropped.Load() }
func (q *PersistQueue) Failed() uint64  { return q.failed.Load() }
