package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialAcceptExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n := NewNetwork()
	l, err := n.Listen("hub")
	require.NoError(t, err)
	defer l.Close()

	client, err := n.Dialer().Dial(ctx, "hub")
	require.NoError(t, err)
	server, err := l.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Send(ctx, []byte("ping")))
	frame, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(frame))

	require.NoError(t, server.Send(ctx, []byte("pong")))
	frame, err = client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(frame))
}

func TestCloseEndsBothSides(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	l, err := n.Listen("hub")
	require.NoError(t, err)

	client, err := n.Dialer().Dial(ctx, "hub")
	require.NoError(t, err)
	server, err := l.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Close())
	_, err = server.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, server.Send(ctx, []byte("x")), ErrClosed)
}

func TestDialUnknownEndpoint(t *testing.T) {
	_, err := NewNetwork().Dialer().Dial(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestDuplicateFaultDeliversTwice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n := NewNetwork()
	l, _ := n.Listen("hub")
	client, err := n.Dialer().Dial(ctx, "hub")
	require.NoError(t, err)
	server, _ := l.Accept(ctx)

	n.Duplicate(true)
	require.NoError(t, client.Send(ctx, []byte("d")))
	for range 2 {
		frame, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "d", string(frame))
	}
}

func TestListenNameTaken(t *testing.T) {
	n := NewNetwork()
	_, err := n.Listen("hub")
	require.NoError(t, err)
	_, err = n.Listen("hub")
	assert.Error(t, err)
}
