package connpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/InSimo/fastbuild/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestDialAndExchange(t *testing.T) {
	var mu sync.Mutex
	var serverReceived, clientReceived []wire.Message

	serverPool := New(Callbacks{
		OnReceive: func(c *Connection, frame wire.Frame) {
			mu.Lock()
			serverReceived = append(serverReceived, frame.Message)
			mu.Unlock()
			c.Send(wire.MsgNoJobAvailable{}, nil)
		},
	})

	const addr = "127.0.0.1:18081"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverPool.Listen(ctx, addr) }()
	time.Sleep(50 * time.Millisecond) // let the listener bind before dialing

	clientPool := New(Callbacks{
		OnReceive: func(c *Connection, frame wire.Frame) {
			mu.Lock()
			clientReceived = append(clientReceived, frame.Message)
			mu.Unlock()
		},
	})

	conn, err := clientPool.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Send(wire.MsgRequestJob{}, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(clientReceived) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, serverReceived, 1)
	require.Equal(t, wire.MsgRequestJob{}, serverReceived[0])
	require.Equal(t, wire.MsgNoJobAvailable{}, clientReceived[0])
}

func TestSendQueueFullReturnsError(t *testing.T) {
	c := &Connection{
		ID:       1,
		sendCh:   make(chan outgoing, 1),
		closedCh: make(chan struct{}),
	}
	require.NoError(t, c.Send(wire.MsgRequestJob{}, nil))
	require.Error(t, c.Send(wire.MsgRequestJob{}, nil))
}
