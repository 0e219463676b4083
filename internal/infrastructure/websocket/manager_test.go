package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clientClosed(c *Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSendToUserSurvivesReconnect(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	first := NewClient("u1", nil)
	m.Register <- first

	// Hammer the user's stream while the same user reconnects, so the
	// replaced client's queue closes underneath in-flight emits.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.SendToUser("u1", []byte("frame"))
		}
	}()

	second := NewClient("u1", nil)
	m.Register <- second
	wg.Wait()

	assert.Eventually(t, func() bool { return clientClosed(first) }, time.Second, 10*time.Millisecond)
	assert.False(t, first.trySend([]byte("late")))

	for len(second.send) > 0 {
		<-second.send
	}
	assert.True(t, second.trySend([]byte("still open")))
}

func TestUnregisterClosesQueue(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	client := NewClient("u1", nil)
	m.Register <- client
	m.Unregister <- client

	assert.Eventually(t, func() bool { return clientClosed(client) }, time.Second, 10*time.Millisecond)

	// An emit racing the disconnect is dropped, never delivered to a closed
	// queue.
	m.SendToUser("u1", []byte("late"))
	assert.False(t, client.trySend([]byte("late")))
}

func TestStaleUnregisterKeepsReplacement(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	first := NewClient("u1", nil)
	m.Register <- first
	second := NewClient("u1", nil)
	m.Register <- second

	// The replaced connection's read loop unregisters late; the live
	// replacement must not be torn down by it.
	m.Unregister <- first

	assert.Eventually(t, func() bool { return clientClosed(first) }, time.Second, 10*time.Millisecond)
	assert.False(t, clientClosed(second))

	m.SendToUser("u1", []byte("frame"))
	assert.Equal(t, 1, len(second.send))
}
