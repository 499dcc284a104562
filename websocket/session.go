package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// messageBacklog bounds how many reassembled messages Messages() will
// buffer ahead of a slow consumer before the reader goroutine blocks
// feeding the channel.
const messageBacklog = 20

// Received is one item delivered by Session.Messages(): either a
// reassembled Message, or a terminal Err. Once Err is non-nil the channel
// is closed after this item; there are no further sends.
type Received struct {
	Message Message
	Err     error
}

// Session is one live WebSocket connection, server- or client-side. It
// owns the Duplex for its lifetime, runs exactly one reader goroutine
// (started by newSession), and exposes a channel-fed message sequence
// plus a synchronous send API backed by the shared writer.
//
// Session deliberately has no ReadMessage/NextReader pair: the reader
// goroutine is the only thing ever allowed to call reader.next, so the
// public surface is Messages (the sequence it feeds) and Send/SendPing/
// Close (which go straight to the shared writer, the same object the
// reader goroutine uses to answer Ping/Close inline).
type Session struct {
	id   string
	d    Duplex
	role Role
	cfg  SessionConfig

	w *writer
	r *reader

	out chan Received

	closeOnce sync.Once
	closeErr  error

	peerClosed chan struct{} // closed once the reader observes a Close frame
	peerClose  CloseError
}

// newSession wires a Duplex and a negotiated configuration into a running
// Session: it builds the outbound/inbound DeflateContext pair (if
// compression was negotiated), the shared writer, the reader, and starts
// the single reader goroutine.
func newSession(d Duplex, cfg SessionConfig) *Session {
	var outDeflate, inDeflate *DeflateContext
	if cfg.Extension.PermessageDeflate {
		outDeflate = newOutboundDeflateContext(cfg.Role, cfg.Extension, cfg.compressionLevel())
		inDeflate = newInboundDeflateContext(cfg.Role, cfg.Extension)
	}

	w := newWriter(d, cfg, outDeflate)
	s := &Session{
		id:         uuid.New().String(),
		d:          d,
		role:       cfg.Role,
		cfg:        cfg,
		w:          w,
		r:          newReader(d, cfg, w, inDeflate),
		out:        make(chan Received, messageBacklog),
		peerClosed: make(chan struct{}),
	}

	go s.readLoop()
	return s
}

// ID returns the session's unique identifier, generated once at
// construction and stable for the session's lifetime.
func (s *Session) ID() string {
	return s.id
}

// Role reports whether this session is acting as the server or client
// side of the connection.
func (s *Session) Role() Role {
	return s.role
}

func (s *Session) readLoop() {
	defer close(s.out)
	for {
		msg, err := s.r.next()
		if err != nil {
			var ce *CloseError
			if asCloseError(err, &ce) {
				s.peerClose = *ce
				close(s.peerClosed)
			} else {
				s.abort(err)
			}
			_ = s.d.Close()
			s.out <- Received{Err: err}
			return
		}
		s.out <- Received{Message: msg}
	}
}

// abortCloseTimeout bounds the best-effort Close write in abort, so a peer
// that has stopped reading can't wedge the reader goroutine on its way out.
const abortCloseTimeout = time.Second

// abort sends a best-effort Close frame describing err before the duplex
// is torn down, so a peer that is still reading learns why the session
// ended. Transport failures get no Close; the peer is unreachable anyway.
func (s *Session) abort(err error) {
	code := closeCodeForError(err)
	if code == 0 {
		return
	}
	_ = s.d.SetWriteDeadline(time.Now().Add(abortCloseTimeout))
	if cerr := s.w.sendClose(code, ""); cerr == nil {
		s.cfg.logf("websocket: sent close %d after read error: %v", code, err)
	}
	_ = s.d.SetWriteDeadline(time.Time{})
}

func asCloseError(err error, target **CloseError) bool {
	ce, ok := err.(*CloseError)
	if ok {
		*target = ce
	}
	return ok
}

// Messages returns the channel the reader goroutine feeds. Every
// reassembled message is delivered in order; the channel is closed after
// exactly one Received with a non-nil Err (a *CloseError once the close
// handshake completes, or a *ProtocolError/transport error otherwise).
// Callers range over it; there is no separate "done" signal to check.
func (s *Session) Messages() <-chan Received {
	return s.out
}

// Send writes one Text or Binary message, blocking until it has been
// written (or fragmented and written) to the underlying Duplex.
func (s *Session) Send(msg Message) error {
	return s.w.send(msg)
}

// SendPing writes a Ping control frame carrying payload (at most 125
// bytes; RFC 6455, section 5.5).
func (s *Session) SendPing(payload []byte) error {
	return s.w.sendPing(payload)
}

// Close performs an active close: it sends a Close frame with the given
// status code and reason, waits up to the configured close grace period
// for the peer's answering Close to be observed by the reader goroutine,
// and then closes the Duplex. It is idempotent; calling it more than
// once, or after the peer has already closed, is a no-op beyond the
// first call.
func (s *Session) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.w.sendClose(code, reason)
		s.waitPeerClose(s.cfg.closeGrace())
		_ = s.d.Close()
	})
	return s.closeErr
}

func (s *Session) waitPeerClose(grace time.Duration) {
	if grace <= 0 {
		return
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	select {
	case <-s.peerClosed:
	case <-deadline.C:
	}
}

// Underlying returns the Duplex backing this session, for callers that
// need direct transport access (e.g. to inspect TLS connection state).
func (s *Session) Underlying() Duplex {
	return s.d
}

// MessageSource is the read-only half of a Session, returned by Split for
// callers that want to hand reading and writing to different goroutines
// without exposing the other half's API.
type MessageSource interface {
	Messages() <-chan Received
}

// MessageSink is the write-only half of a Session, returned by Split.
type MessageSink interface {
	Send(msg Message) error
	SendPing(payload []byte) error
	Close(code int, reason string) error
}

// Split returns the Session's read and write halves as narrower
// interfaces. The Session itself already satisfies both; Split exists so
// a caller can hand each half to a different goroutine without granting
// access to the other's methods.
func (s *Session) Split() (MessageSource, MessageSink) {
	return s, s
}
