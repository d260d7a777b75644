package seestar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorDeliverMatchesPending(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Close()

	id := c.NextID()
	p := c.Register(id, "get_pointing", time.Time{})
	c.Deliver(Response{ID: id, Result: []byte(`{"ok":true}`)})

	resp, err := c.Await(context.Background(), p)
	require.NoError(t, err)
	assert.NoError(t, resp.Err)
	assert.Equal(t, id, resp.ID)
}

func TestCorrelatorDeliverUnknownIDIsSilentlyDropped(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Close()

	assert.NotPanics(t, func() {
		c.Deliver(Response{ID: 999})
	})
	assert.Equal(t, 0, c.Len())
}

func TestCorrelatorReapTimesOutExpired(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Close()

	id := c.NextID()
	p := c.Register(id, "slow_method", time.Now().Add(-time.Millisecond))

	resp, err := c.Await(context.Background(), p)
	require.NoError(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, resp.Err, &timeoutErr)
	assert.Equal(t, "slow_method", timeoutErr.Method)
}

func TestCorrelatorDrainAllCompletesEveryPendingWithGivenError(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Close()

	id1 := c.NextID()
	id2 := c.NextID()
	p1 := c.Register(id1, "m1", time.Time{})
	p2 := c.Register(id2, "m2", time.Time{})

	drainErr := &DisconnectedError{}
	c.DrainAll(drainErr)

	resp1, err := c.Await(context.Background(), p1)
	require.NoError(t, err)
	assert.Same(t, drainErr, resp1.Err)

	resp2, err := c.Await(context.Background(), p2)
	require.NoError(t, err)
	assert.Same(t, drainErr, resp2.Err)

	assert.Equal(t, 0, c.Len())
}

func TestCorrelatorAwaitCancelledByCallerContext(t *testing.T) {
	c := NewCorrelator(nil)
	defer c.Close()

	id := c.NextID()
	p := c.Register(id, "never_replies", time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Await(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Len())
}

func TestPendingRequestCompleteIsExactlyOnce(t *testing.T) {
	p := &pendingRequest{id: 1, completer: make(chan Response, 1)}
	assert.True(t, p.complete(Response{ID: 1}))
	assert.False(t, p.complete(Response{ID: 1}))
}
