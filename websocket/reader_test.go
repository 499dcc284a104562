package websocket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readerHarness wires a reader (as the server side) to a net.Pipe, with a
// peer-side FrameWriter/FrameReader (as the client) to drive frames in and
// observe whatever the reader's shared writer emits (Pong/Close answers).
type readerHarness struct {
	r      *reader
	peerW  *FrameWriter
	peerR  *FrameReader
	local  net.Conn
	remote net.Conn
}

func newReaderHarness(t *testing.T, cfg SessionConfig) *readerHarness {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })

	cfg.Role = RoleServer
	d := NewPlainDuplex(local)
	w := newWriter(d, cfg, nil)
	r := newReader(d, cfg, w, nil)

	peerDuplex := NewPlainDuplex(remote)
	return &readerHarness{
		r:      r,
		peerW:  NewFrameWriter(peerDuplex, RoleClient),
		peerR:  NewFrameReader(peerDuplex, RoleClient, 0, false, time.Second),
		local:  local,
		remote: remote,
	}
}

func TestReaderDeliversSingleFrameTextMessage(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpText, Payload: []byte("hi")})
	}()

	msg, err := h.r.next()
	require.NoError(t, err)
	assert.Equal(t, OpText, msg.OpCode)
	assert.Equal(t, "hi", string(msg.Payload))
}

func TestReaderReassemblesFragmentedMessage(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: false, OpCode: OpBinary, Payload: []byte("part1-")})
		_ = h.peerW.WriteFrame(Frame{Final: false, OpCode: OpContinuation, Payload: []byte("part2-")})
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpContinuation, Payload: []byte("part3")})
	}()

	msg, err := h.r.next()
	require.NoError(t, err)
	assert.Equal(t, OpBinary, msg.OpCode)
	assert.Equal(t, "part1-part2-part3", string(msg.Payload))
}

func TestReaderRejectsOrphanContinuation(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpContinuation, Payload: []byte("x")})
	}()

	_, err := h.r.next()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrOrphanContinuation)
}

func TestReaderRejectsUnexpectedDataFrameMidFragment(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: false, OpCode: OpText, Payload: []byte("first")})
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpBinary, Payload: []byte("second")})
	}()

	_, err := h.r.next()
	assert.ErrorIs(t, err, ErrUnexpectedDataFrame)
}

func TestReaderRejectsInvalidUTF8(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpText, Payload: []byte{0xff, 0xfe, 0xfd}})
	}()

	_, err := h.r.next()
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestReaderAcceptsMessageAtExactMaxSize(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{MaxMessageSize: 7})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpBinary, Payload: []byte("exactly")})
	}()

	msg, err := h.r.next()
	require.NoError(t, err)
	assert.Len(t, msg.Payload, 7)
}

func TestReaderEnforcesMaxMessageSize(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{MaxMessageSize: 4})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpBinary, Payload: []byte("toolong")})
	}()

	_, err := h.r.next()
	assert.ErrorIs(t, err, ErrMaxMessageSizeExceeded)
}

// nextResult carries one r.next() outcome out of the goroutine that must
// drive the reader while the test's own goroutine plays the peer —
// net.Pipe is synchronous, so the reader has to be mid-next() before the
// peer can observe the Pong/Close it writes back.
type nextResult struct {
	msg Message
	err error
}

func nextAsync(r *reader) <-chan nextResult {
	out := make(chan nextResult, 1)
	go func() {
		msg, err := r.next()
		out <- nextResult{msg: msg, err: err}
	}()
	return out
}

func TestReaderAnswersPingWithPong(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	results := nextAsync(h.r)

	require.NoError(t, h.peerW.WriteFrame(Frame{Final: true, OpCode: OpPing, Payload: []byte("ping-payload")}))

	pong, err := h.peerR.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpPong, pong.OpCode)
	assert.Equal(t, "ping-payload", string(pong.Payload))

	require.NoError(t, h.peerW.WriteFrame(Frame{Final: true, OpCode: OpText, Payload: []byte("after")}))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "after", string(res.msg.Payload))
}

func TestReaderInvokesOnPongHook(t *testing.T) {
	var got []byte
	h := newReaderHarness(t, SessionConfig{OnPong: func(p []byte) { got = p }})
	go func() {
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpPong, Payload: []byte("pong-data")})
		_ = h.peerW.WriteFrame(Frame{Final: true, OpCode: OpText, Payload: []byte("after")})
	}()

	_, err := h.r.next()
	require.NoError(t, err)
	assert.Equal(t, "pong-data", string(got))
}

func TestReaderAnswersCloseAndReturnsCloseError(t *testing.T) {
	h := newReaderHarness(t, SessionConfig{})
	results := nextAsync(h.r)

	require.NoError(t, h.peerW.WriteFrame(Frame{Final: true, OpCode: OpClose, Payload: FormatCloseMessage(CloseNormalClosure, "bye")}))

	answer, err := h.peerR.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, OpClose, answer.OpCode)

	res := <-results
	var ce *CloseError
	require.ErrorAs(t, res.err, &ce)
	assert.Equal(t, CloseNormalClosure, ce.Code)
	assert.Equal(t, "bye", ce.Text)
}

func TestParseClosePayloadShortPayload(t *testing.T) {
	code, text := parseClosePayload(nil)
	assert.Equal(t, CloseNoStatusReceived, code)
	assert.Equal(t, "", text)

	code, text = parseClosePayload([]byte{0x03, 0xe8, 'h', 'i'})
	assert.Equal(t, 1000, code)
	assert.Equal(t, "hi", text)
}
