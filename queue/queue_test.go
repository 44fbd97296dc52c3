package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New(3)
	ctx := context.Background()

	for i := byte(0); i < 3; i++ {
		require.True(t, q.TryPush([]byte{i}))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Cap())

	for i := byte(0); i < 3; i++ {
		b, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte{i}, b)
	}
}

func TestDropWhenFull(t *testing.T) {
	q := New(2)
	assert.True(t, q.TryPush([]byte{1}))
	assert.True(t, q.TryPush([]byte{2}))
	assert.False(t, q.TryPush([]byte{3}))
	assert.False(t, q.TryPush([]byte{4}))

	assert.Equal(t, Stats{Pushed: 2, Dropped: 2}, q.Stats())

	// The oldest items are kept.
	b, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, b)
}

func TestPopTimeout(t *testing.T) {
	q := New(1)
	start := time.Now()
	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	assert.Equal(t, ErrTimeout, err)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestPopCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pop(ctx, time.Minute)
	assert.Equal(t, context.Canceled, err)
}

func TestPopPrefersQueuedItemsOverCancellation(t *testing.T) {
	q := New(1)
	q.TryPush([]byte{9})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, err := q.Pop(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, b)
}

func TestCloseDrains(t *testing.T) {
	q := New(4)
	q.TryPush([]byte{1})
	q.TryPush([]byte{2})
	q.Close()
	q.Close()

	ctx := context.Background()
	for _, want := range []byte{1, 2} {
		b, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte{want}, b)
	}
	_, err := q.Pop(ctx, time.Second)
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, uint64(2), q.Stats().Popped)
}

func TestPopWakesOnPush(t *testing.T) {
	q := New(1)
	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	var err error
	go func() {
		defer wg.Done()
		got, err = q.Pop(context.Background(), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	q.TryPush([]byte{7})
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got)
}
