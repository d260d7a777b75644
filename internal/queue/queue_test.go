package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	stop := make(chan struct{})
	v, ok := q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	q.Push(2)
	dropped := q.Push(3)
	assert.True(t, dropped)
	assert.EqualValues(t, 1, q.Dropped())

	stop := make(chan struct{})
	v, ok := q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestPopBlocksUntilStop(t *testing.T) {
	q := New[int](4)
	stop := make(chan struct{})

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(stop)
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before an item was pushed or stop fired")
	case <-time.After(20 * time.Millisecond):
	}

	close(stop)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after stop fired")
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := New[int](4)
	q.Push(1)
	q.Close()

	stop := make(chan struct{})
	v, ok := q.Pop(stop)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.Pop(stop)
	assert.False(t, ok)
}

func TestPushAfterCloseIsNoop(t *testing.T) {
	q := New[int](4)
	q.Close()
	dropped := q.Push(1)
	assert.False(t, dropped)
	assert.Equal(t, 0, q.Len())
}
