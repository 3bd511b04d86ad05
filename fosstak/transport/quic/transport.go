// Package quic carries fosstak connections over QUIC. Each peer
// connection maps to exactly one bidirectional QUIC stream, so the
// fosstak stream on top sees the same ordered byte pipe TCP would give it.
package quic

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/fosstak/fosstak/errs"
	"github.com/TheusHen/fosstak/fosstak/transport"
)

const (
	DefaultKeepAlive   = 15 * time.Second
	DefaultIdleTimeout = time.Minute
	DefaultLinger      = 250 * time.Millisecond

	// streamAcceptTimeout bounds how long an accepted QUIC connection may
	// take to open its stream.
	streamAcceptTimeout = 10 * time.Second
)

// Options tune the QUIC transport. Zero values select the defaults.
type Options struct {
	KeepAlive   time.Duration
	IdleTimeout time.Duration
	// Linger is how long a closed Conn keeps the QUIC connection up so
	// queued stream data (such as a final Close record) can drain.
	Linger time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Linger <= 0 {
		o.Linger = DefaultLinger
	}
	return o
}

type quicTransport struct {
	opts Options
}

// New returns a QUIC transport.
func New(opts Options) transport.Transport {
	return &quicTransport{opts: opts.withDefaults()}
}

func (t *quicTransport) Name() string { return "quic" }

func (t *quicTransport) config() *q.Config {
	return &q.Config{
		KeepAlivePeriod: t.opts.KeepAlive,
		MaxIdleTimeout:  t.opts.IdleTimeout,
	}
}

func (t *quicTransport) Listen(addr string) (transport.Listener, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, errs.Wrap(errs.ErrListener, "quic listen "+addr, err)
	}
	ln, err := q.ListenAddr(addr, tlsConf, t.config())
	if err != nil {
		return nil, errs.Wrap(errs.ErrListener, "quic listen "+addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{
		inner:  ln,
		linger: t.opts.Linger,
		conns:  make(chan *conn),
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (t *quicTransport) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "quic dial "+addr, err)
	}
	qc, err := q.DialAddr(ctx, addr, tlsConf, t.config())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "quic dial "+addr, err)
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		return nil, errs.Wrap(errs.ErrTransport, "quic open stream", err)
	}
	return newConn(qc, st, t.opts.Linger), nil
}

type listener struct {
	inner  *q.Listener
	linger time.Duration
	conns  chan *conn
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// acceptLoop accepts QUIC connections and waits for each one's stream in
// its own goroutine, so a peer that never opens a stream cannot stall
// the others.
func (l *listener) acceptLoop() {
	defer l.wg.Done()
	for {
		qc, err := l.inner.Accept(l.ctx)
		if err != nil {
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(l.ctx, streamAcceptTimeout)
			defer cancel()
			st, err := qc.AcceptStream(ctx)
			if err != nil {
				_ = qc.CloseWithError(0, "no stream")
				return
			}
			c := newConn(qc, st, l.linger)
			select {
			case l.conns <- c:
			case <-l.closed:
				_ = c.Close()
			}
		}()
	}
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errs.Wrap(errs.ErrListener, "quic accept", net.ErrClosed)
	case <-ctx.Done():
		return nil, errs.Wrap(errs.ErrListener, "quic accept", ctx.Err())
	}
}

func (l *listener) Addr() net.Addr { return l.inner.Addr() }

func (l *listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
		err = l.inner.Close()
		l.wg.Wait()
	})
	return err
}

// conn adapts one QUIC stream to transport.Conn.
type conn struct {
	qc     q.Connection
	st     q.Stream
	linger time.Duration

	closeOnce sync.Once
}

func newConn(qc q.Connection, st q.Stream, linger time.Duration) *conn {
	return &conn{qc: qc, st: st, linger: linger}
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.st.Read(p)
	return n, normalize(err)
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.st.Write(p)
	return n, normalize(err)
}

func (c *conn) LocalAddr() net.Addr  { return c.qc.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

// Close ends the send side, stops local reads and tears the QUIC
// connection down after the linger period.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.st.Close()
		c.st.CancelRead(0)
		time.AfterFunc(c.linger, func() {
			_ = c.qc.CloseWithError(0, "")
		})
	})
	return err
}

// normalize reports locally initiated teardown as net.ErrClosed, matching
// what a closed TCP socket returns.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var appErr *q.ApplicationError
	if errors.As(err, &appErr) && !appErr.Remote {
		return net.ErrClosed
	}
	var streamErr *q.StreamError
	if errors.As(err, &streamErr) && !streamErr.Remote {
		return net.ErrClosed
	}
	return err
}
