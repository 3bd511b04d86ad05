package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
	"github.com/TheusHen/fosstak/fosstak/identity"
	"github.com/TheusHen/fosstak/fosstak/logging"
	"github.com/TheusHen/fosstak/fosstak/protocol"
	"github.com/TheusHen/fosstak/fosstak/transport"
)

const bufferSize = 32 << 10

// State of a Stream.
type State int32

const (
	Active State = iota
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Packet is one decrypted TRANSMIT record.
type Packet struct {
	Action    protocol.Action
	Payload   []byte
	Timestamp time.Time
	Sender    crypto.PublicKeys
}

// Options configure a Stream.
type Options struct {
	// Logger defaults to logging.Default().
	Logger *slog.Logger
}

// Stream is a secure, framed channel to one peer.
type Stream struct {
	conn   transport.Conn
	engine *crypto.Engine
	remote string
	log    *slog.Logger

	rmu sync.Mutex
	r   *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	state    atomic.Int32
	lastSeen atomic.Int64

	keyMu sync.RWMutex
	peer  crypto.PublicKeys

	qmu   sync.Mutex
	queue []Packet

	errMu sync.Mutex
	err   error

	closeOnce    sync.Once
	shutdownOnce sync.Once
	done         chan struct{}
}

// New exchanges key announcements over conn, starts the background reader
// and pings the peer. If ctx ends before the announcements complete, conn
// is closed and the context error returned. On any failure conn is closed.
func New(ctx context.Context, conn transport.Conn, engine *crypto.Engine, opts Options) (*Stream, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	remote := conn.RemoteAddr().String()
	s := &Stream{
		conn:   conn,
		engine: engine,
		remote: remote,
		log:    logger.With("peer", remote),
		r:      bufio.NewReaderSize(conn, bufferSize),
		w:      bufio.NewWriterSize(conn, bufferSize),
		done:   make(chan struct{}),
	}
	s.lastSeen.Store(time.Now().UnixNano())

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	peer, err := s.exchangeKeys()
	if !stop() {
		_ = conn.Close()
		return nil, errs.Wrap(errs.ErrTransport, "key exchange with "+remote, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.peer = peer

	go s.readLoop()

	if err := s.send(protocol.ActionPing, nil); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.log.Info("stream established", "peer_keys", identity.Fingerprint(peer))
	return s, nil
}

// exchangeKeys writes our announcement while reading the peer's, so two
// sides on an unbuffered pipe cannot block each other.
func (s *Stream) exchangeKeys() (crypto.PublicKeys, error) {
	ours, err := protocol.NewAnnounce(s.engine)
	if err != nil {
		return crypto.PublicKeys{}, err
	}

	werr := make(chan error, 1)
	go func() {
		s.wmu.Lock()
		defer s.wmu.Unlock()
		if err := protocol.WriteAnnounce(s.w, ours); err != nil {
			werr <- err
			return
		}
		if err := s.w.Flush(); err != nil {
			werr <- errs.Wrap(errs.ErrTransport, "flush announce", err)
			return
		}
		werr <- nil
	}()

	s.rmu.Lock()
	theirs, rerr := protocol.ReadAnnounce(s.r)
	s.rmu.Unlock()
	if rerr != nil {
		_ = s.conn.Close()
		<-werr
		return crypto.PublicKeys{}, rerr
	}
	if err := <-werr; err != nil {
		return crypto.PublicKeys{}, err
	}
	return theirs.Verify()
}

// Send seals data in a TRANSMIT record for the peer.
func (s *Stream) Send(data []byte) error {
	return s.send(protocol.ActionTransmit, data)
}

func (s *Stream) send(action protocol.Action, payload []byte) error {
	if s.State() != Active {
		return errs.Wrap(errs.ErrStreamNotAlive, s.remote, nil)
	}
	rec, err := protocol.Seal(s.engine, s.PeerKeys().Encryption, action, payload)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	// A CLOSE may have been written while this record was being sealed.
	// Nothing may follow it on the wire.
	if s.State() != Active {
		return errs.Wrap(errs.ErrStreamNotAlive, s.remote, nil)
	}
	if action == protocol.ActionClose {
		// Runs before the deferred unlock.
		defer s.state.Store(int32(Closed))
	}
	if err := protocol.WriteRecord(s.w, rec); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return errs.Wrap(errs.ErrTransport, "flush record", err)
	}
	s.log.Debug("record sent", "action", action, "bytes", len(payload))
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer s.conn.Close()

	s.rmu.Lock()
	defer s.rmu.Unlock()
	for {
		rec, err := protocol.ReadRecord(s.r)
		if err != nil {
			s.terminate(err)
			return
		}
		md, payload, err := protocol.Open(s.engine, rec)
		if err != nil {
			s.terminate(err)
			return
		}
		s.lastSeen.Store(time.Now().UnixNano())
		s.refreshPeerKeys(md.Sender)

		switch md.Action {
		case protocol.ActionTransmit:
			s.qmu.Lock()
			s.queue = append(s.queue, Packet{
				Action:    md.Action,
				Payload:   payload,
				Timestamp: md.Timestamp,
				Sender:    md.Sender,
			})
			s.qmu.Unlock()
			s.log.Debug("record queued", "bytes", len(payload))
		case protocol.ActionPing:
			s.log.Debug("ping received")
		case protocol.ActionClose:
			s.state.Store(int32(Closed))
			s.log.Info("peer closed stream")
			return
		}
	}
}

// terminate ends the stream after a read or decrypt failure. Failures seen
// after the stream was already closed locally are the expected result of
// tearing the connection down and are not recorded.
func (s *Stream) terminate(err error) {
	if State(s.state.Swap(int32(Closed))) == Closed {
		s.log.Debug("reader stopped", "err", err)
		return
	}
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.log.Warn("stream terminated", "err", err)
}

func (s *Stream) refreshPeerKeys(sender crypto.PublicKeys) {
	s.keyMu.RLock()
	same := s.peer.Equal(sender)
	s.keyMu.RUnlock()
	if same {
		return
	}
	s.keyMu.Lock()
	s.peer = sender
	s.keyMu.Unlock()
	s.log.Info("peer keys changed", "peer_keys", identity.Fingerprint(sender))
}

// Read pops the oldest queued packet without blocking.
func (s *Stream) Read() (Packet, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return Packet{}, false
	}
	p := s.queue[0]
	s.queue[0] = Packet{}
	s.queue = s.queue[1:]
	return p, true
}

// Drain pops every queued packet, oldest first. It returns nil when the
// queue is empty.
func (s *Stream) Drain() []Packet {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	return out
}

// Close sends a CLOSE record if the stream is still active and marks it
// closed. The state flips while the write lock is still held, so no send
// can slip a record in after CLOSE. Only the first call writes anything.
// A stream that closed underneath the call is not an error.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.State() == Active {
			err = s.send(protocol.ActionClose, nil)
			if errors.Is(err, errs.ErrStreamNotAlive) {
				err = nil
			}
		}
		s.state.Store(int32(Closed))
	})
	return err
}

// Shutdown closes the stream, closes the connection and waits for the
// reader goroutine to exit.
func (s *Stream) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Close()
		if cerr := s.conn.Close(); cerr != nil && !transport.IsClosed(cerr) {
			err = multierr.Append(err, errs.Wrap(errs.ErrTransport, "close connection", cerr))
		}
		<-s.done
		s.log.Debug("stream shut down")
	})
	return err
}

func (s *Stream) State() State { return State(s.state.Load()) }

// RemoteAddr is the peer address the stream is registered under.
func (s *Stream) RemoteAddr() string { return s.remote }

// PeerKeys returns the peer's most recently seen public keys.
func (s *Stream) PeerKeys() crypto.PublicKeys {
	s.keyMu.RLock()
	defer s.keyMu.RUnlock()
	return s.peer
}

// LastSeen is when the peer's last record arrived.
func (s *Stream) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Done is closed once the reader goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the failure that terminated the reader, if any. It is nil
// for streams closed by either side in an orderly way.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
