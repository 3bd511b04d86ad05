package fosstak

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
	"github.com/TheusHen/fosstak/fosstak/packet"
	"github.com/TheusHen/fosstak/fosstak/stream"
	"github.com/TheusHen/fosstak/fosstak/transport"
)

var ErrManagerClosed = fmt.Errorf("%w: manager closed", errs.ErrListener)

// PeerError is one target's failure inside an aggregated Send or Close
// error. Use multierr.Errors to list them and errors.As to reach one.
type PeerError struct {
	Addr string
	Err  error
}

func (e *PeerError) Error() string { return fmt.Sprintf("peer %s: %v", e.Addr, e.Err) }

func (e *PeerError) Unwrap() error { return e.Err }

// Manager owns a listener and a registry of Streams keyed by peer address.
type Manager struct {
	engine *crypto.Engine
	opts   options
	log    *slog.Logger
	ln     transport.Listener

	mu      sync.Mutex
	streams map[string]*stream.Stream
	closed  bool

	ctx       context.Context
	cancel    context.CancelFunc
	openOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Bind listens on addr. Nothing is accepted until Open is called.
func Bind(addr string, engine *crypto.Engine, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ln, err := o.transport.Listen(addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		engine:  engine,
		opts:    o,
		ln:      ln,
		streams: map[string]*stream.Stream{},
		ctx:     ctx,
		cancel:  cancel,
	}
	m.log = o.logger.With("local", m.Addr(), "transport", o.transport.Name())
	m.log.Info("listening")
	return m, nil
}

// Addr is the bound listener address.
func (m *Manager) Addr() string { return m.ln.Addr().String() }

// Open starts accepting peers in the background. Calling it again has no
// effect.
func (m *Manager) Open() {
	m.openOnce.Do(func() {
		m.wg.Add(1)
		go m.acceptLoop()
	})
}

// acceptLoop runs until Close. Failed accepts are retried after a delay
// that doubles per consecutive failure.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	var delay time.Duration
	for {
		conn, err := m.ln.Accept(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil || transport.IsClosed(err) {
				return
			}
			if delay == 0 {
				delay = m.opts.backoffMin
			} else if delay *= 2; delay > m.opts.backoffMax {
				delay = m.opts.backoffMax
			}
			m.log.Warn("accept failed", "err", err, "retry_in", delay)
			select {
			case <-time.After(delay):
				continue
			case <-m.ctx.Done():
				return
			}
		}
		delay = 0

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s, err := stream.New(m.ctx, conn, m.engine, stream.Options{Logger: m.opts.logger})
			if err != nil {
				m.log.Warn("inbound connection rejected", "peer", conn.RemoteAddr().String(), "err", err)
				return
			}
			m.register(s)
		}()
	}
}

// Connect dials addr and registers the resulting Stream. It returns the
// address the Stream is registered under, which is the connection's
// resolved remote address and can differ from addr (a hostname dials to
// an IP, for one). Send and Recv must target the returned address.
func (m *Manager) Connect(ctx context.Context, addr string) (string, error) {
	if m.isClosed() {
		return "", ErrManagerClosed
	}
	conn, err := m.opts.transport.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	s, err := stream.New(ctx, conn, m.engine, stream.Options{Logger: m.opts.logger})
	if err != nil {
		return "", err
	}
	if !m.register(s) {
		return "", ErrManagerClosed
	}
	return s.RemoteAddr(), nil
}

// register inserts s, shutting down any Stream it replaces. It reports
// false, after shutting s down, when the Manager is already closed.
func (m *Manager) register(s *stream.Stream) bool {
	addr := s.RemoteAddr()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Shutdown()
		return false
	}
	old := m.streams[addr]
	m.streams[addr] = s
	m.mu.Unlock()

	if old != nil {
		if err := old.Shutdown(); err != nil {
			m.log.Warn("replaced stream shutdown failed", "peer", addr, "err", err)
		}
	}
	m.log.Info("peer registered", "peer", addr)
	return true
}

// snapshot returns the registered Streams whose address is in targets,
// or all of them when targets is nil.
func (m *Manager) snapshot(targets []string) map[string]*stream.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*stream.Stream)
	if targets == nil {
		for addr, s := range m.streams {
			out[addr] = s
		}
		return out
	}
	for _, addr := range targets {
		if s, ok := m.streams[addr]; ok {
			out[addr] = s
		}
	}
	return out
}

// Send delivers data to every registered target (all peers when targets
// is nil). Addresses with no registered Stream are skipped. A failing
// target never prevents delivery to the others: failures come back
// together as *PeerError values combined with multierr.
func (m *Manager) Send(targets []string, data []byte) error {
	var err error
	for addr, s := range m.snapshot(targets) {
		if serr := s.Send(data); serr != nil {
			err = multierr.Append(err, &PeerError{Addr: addr, Err: serr})
		}
	}
	return err
}

// SendMessage encodes msg once and sends it like Send.
func (m *Manager) SendMessage(targets []string, msg packet.Message) error {
	data, err := packet.Encode(msg, packet.Options{Compress: m.opts.compress})
	if err != nil {
		return err
	}
	return m.Send(targets, data)
}

// Recv drains the packets queued on every matching Stream. Streams with
// nothing queued are left out of the result. It never blocks.
func (m *Manager) Recv(targets []string) map[string][]stream.Packet {
	out := make(map[string][]stream.Packet)
	for addr, s := range m.snapshot(targets) {
		if pkts := s.Drain(); len(pkts) > 0 {
			out[addr] = pkts
		}
	}
	return out
}

// Connections lists registered peer addresses in sorted order.
func (m *Manager) Connections() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.streams))
	for addr := range m.streams {
		out = append(out, addr)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Stream returns the Stream registered under addr.
func (m *Manager) Stream(addr string) (*stream.Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[addr]
	return s, ok
}

// Remove shuts down and unregisters one peer. Unknown addresses are a
// no-op.
func (m *Manager) Remove(addr string) error {
	m.mu.Lock()
	s, ok := m.streams[addr]
	delete(m.streams, addr)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.log.Info("peer removed", "peer", addr)
	if err := s.Shutdown(); err != nil {
		return &PeerError{Addr: addr, Err: err}
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close shuts down every Stream, stops accepting and closes the listener.
// Per-peer failures are aggregated like Send's. Later calls return the
// first call's result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		streams := m.streams
		m.streams = map[string]*stream.Stream{}
		m.mu.Unlock()

		var err error
		for addr, s := range streams {
			if serr := s.Shutdown(); serr != nil {
				err = multierr.Append(err, &PeerError{Addr: addr, Err: serr})
			}
		}

		m.cancel()
		if lerr := m.ln.Close(); lerr != nil && !transport.IsClosed(lerr) {
			err = multierr.Append(err, errs.Wrap(errs.ErrListener, "close listener", lerr))
		}
		m.wg.Wait()
		m.closeErr = err
		m.log.Info("manager closed")
	})
	return m.closeErr
}
