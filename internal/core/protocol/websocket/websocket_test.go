package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/crdtsync/internal/core/observability/log"
)

func TestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0", DefaultConfig(), log.Nop())
	require.NoError(t, err)
	defer l.Close()

	client, err := NewDialer(DefaultConfig()).Dial(ctx, l.URL())
	require.NoError(t, err)
	defer client.Close()

	server, err := l.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.Send(ctx, []byte{1, 2, 3}))
	frame, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, frame)

	require.NoError(t, server.Send(ctx, []byte("ack")))
	frame, err = client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(frame))
}

func TestReceiveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0", DefaultConfig(), log.Nop())
	require.NoError(t, err)
	defer l.Close()

	client, err := NewDialer(DefaultConfig()).Dial(ctx, l.URL())
	require.NoError(t, err)
	defer client.Close()

	short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
	defer stop()
	_, err = client.Receive(short)
	assert.Error(t, err)
}
