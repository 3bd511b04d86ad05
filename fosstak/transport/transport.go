// Package transport abstracts the reliable, ordered byte streams that
// fosstak streams run on. TCP is the default; package quic provides an
// alternative that carries each peer connection on one QUIC stream.
package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

// Conn is one raw bidirectional byte stream to a peer.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener yields inbound Conns.
type Listener interface {
	// Accept blocks until a peer connects, ctx is done or the listener is
	// closed. After Close it returns an error wrapping net.ErrClosed.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Transport creates Listeners and outbound Conns.
type Transport interface {
	Name() string
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// IsClosed reports whether err comes from using a closed listener or conn.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

type tcpTransport struct {
	lc net.ListenConfig
	d  net.Dialer
}

// TCP returns the default transport.
func TCP() Transport { return &tcpTransport{} }

func (t *tcpTransport) Name() string { return "tcp" }

func (t *tcpTransport) Listen(addr string) (Listener, error) {
	ln, err := t.lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.ErrListener, "tcp listen "+addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (t *tcpTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	c, err := t.d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "tcp dial "+addr, err)
	}
	return c, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	if ctx.Done() == nil {
		c, err := l.ln.Accept()
		if err != nil {
			return nil, errs.Wrap(errs.ErrListener, "tcp accept", err)
		}
		return c, nil
	}

	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errs.Wrap(errs.ErrListener, "tcp accept", r.err)
		}
		return r.c, nil
	case <-ctx.Done():
		// The pending Accept may still complete; close whatever it yields.
		go func() {
			if r := <-ch; r.c != nil {
				_ = r.c.Close()
			}
		}()
		return nil, errs.Wrap(errs.ErrListener, "tcp accept", ctx.Err())
	}
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }
