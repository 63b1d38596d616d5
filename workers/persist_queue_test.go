package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistQueue_KeepsOrderPerKey(t *testing.T) {
	q := NewPersistQueue(4, 512, time.Second)
	q.Start()

	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)
	for i := 0; i < 100; i++ {
		for _, key := range []string{"m1", "m2", "m3"} {
			i, key := i, key
			require.True(t, q.Enqueue(key, "write", func(ctx context.Context) error {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
				return nil
			}))
		}
	}
	require.NoError(t, q.Close(context.Background()))

	for _, key := range []string{"m1", "m2", "m3"} {
		require.Len(t, got[key], 100)
		for i, v := range got[key] {
			assert.Equal(t, i, v, "key %s out of order", key)
		}
	}
}

func TestPersistQueue_DropsWhenShardFull(t *testing.T) {
	q := NewPersistQueue(1, 2, 0)
	ran := 0
	job := func(ctx context.Context) error { ran++; return nil }

	assert.True(t, q.Enqueue("m1", "a", job))
	assert.True(t, q.Enqueue("m1", "b", job))
	assert.False(t, q.Enqueue("m1", "c", job))
	assert.Equal(t, uint64(1), q.Dropped())

	q.Start()
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 2, ran)
}

func TestPersistQueue_RejectsAfterClose(t *testing.T) {
	q := NewPersistQueue(2, 8, 0)
	q.Start()
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()), "closing twice is safe")

	assert.False(t, q.Enqueue("m1", "late", func(ctx context.Context) error { return nil }))
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestPersistQueue_CountsFailuresAndAppliesTimeout(t *testing.T) {
	q := NewPersistQueue(1, 8, 50*time.Millisecond)
	q.Start()

	var deadline bool
	q.Enqueue("m1", "boom", func(ctx context.Context) error { return errors.New("boom") })
	q.Enqueue("m1", "check", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, uint64(1), q.Failed())
	assert.True(t, deadline)
}

func TestPersistQueue_CloseHonoursContext(t *testing.T) {
	q := NewPersistQueue(1, 8, 0)
	q.Start()
	release := make(chan struct{})
	defer close(release)
	q.Enqueue("m1", "slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestPersistQueue_ShardForIsStable(t *testing.T) {
	q := NewPersistQueue(8, 1, 0)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("match-%d", i)
		assert.Equal(t, q.shardFor(key), q.shardFor(key))
		assert.Less(t, q.shardFor(key), 8)
	}
}
