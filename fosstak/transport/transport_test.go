package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

func TestTCPLoopback(t *testing.T) {
	tr := TCP()
	require.Equal(t, "tcp", tr.Name())

	ln, err := tr.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := tr.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()
	require.Equal(t, client.LocalAddr().String(), server.RemoteAddr().String())

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestTCPListenFailure(t *testing.T) {
	_, err := TCP().Listen("127.0.0.1:99999")
	require.ErrorIs(t, err, errs.ErrListener)
}

func TestTCPDialFailure(t *testing.T) {
	ln, err := TCP().Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = TCP().Dial(context.Background(), addr)
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestTCPAcceptAfterClose(t *testing.T) {
	ln, err := TCP().Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = ln.Accept(context.Background())
	require.ErrorIs(t, err, errs.ErrListener)
	require.True(t, IsClosed(err))
}

func TestTCPAcceptContextCancel(t *testing.T) {
	ln, err := TCP().Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ln.Accept(ctx)
	require.ErrorIs(t, err, errs.ErrListener)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
