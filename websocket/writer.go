package websocket

import "sync"

// Message is one reassembled (or, for the writer, not-yet-fragmented)
// logical WebSocket message: either Text or Binary.
type Message struct {
	OpCode  OpCode // OpText or OpBinary
	Payload []byte
}

// Text constructs a text Message.
func Text(s string) Message { return Message{OpCode: OpText, Payload: []byte(s)} }

// Binary constructs a binary Message.
func Binary(b []byte) Message { return Message{OpCode: OpBinary, Payload: b} }

// writer is the C6 writer pipeline: it owns the write half of the Duplex
// (through a FrameWriter) and the outbound DeflateContext, and serializes
// every write — both messages submitted through the public Session.Send
// path and Pong/Close frames emitted by the reader pipeline when it
// observes a Ping or a Close. This single shared object is what lets the
// reader answer control frames without a second, competing owner of the
// write half.
type writer struct {
	mu           sync.Mutex
	fw           *FrameWriter
	role         Role
	maxFrameSize int64 // chunk size for fragmentation; 0 means unbounded
	maxMsgSize   int64 // 0 means unbounded
	deflate      *DeflateContext
	closeSent    bool
	writeErr     error
}

func newWriter(d Duplex, cfg SessionConfig, deflate *DeflateContext) *writer {
	return &writer{
		fw:           NewFrameWriter(d, cfg.Role),
		role:         cfg.Role,
		maxFrameSize: cfg.maxFrameSize(),
		maxMsgSize:   cfg.maxMessageSize(),
		deflate:      deflate,
	}
}

// shouldCompress decides, per message, whether compression is worth
// attempting. See SessionConfig's compressThreshold note: below the
// threshold the per-message DEFLATE overhead isn't worth paying, but this
// never changes RSV1 semantics on its own — a message that IS compressed
// always gets rsv1=1 on its first frame, full stop.
func (w *writer) shouldCompress(payload []byte) bool {
	return w.deflate != nil && len(payload) > compressThreshold
}

// send writes one logical message: it enforces the message size cap,
// compresses when negotiated and worthwhile, splits the (possibly
// compressed) payload into frames of at most maxFrameSize, and writes
// them under the shared mutex.
func (w *writer) send(msg Message) error {
	if msg.OpCode != OpText && msg.OpCode != OpBinary {
		return wrapErr(KindProtocol, 0, ErrInvalidMessageType)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeErr != nil {
		return w.writeErr
	}
	if w.maxMsgSize > 0 && int64(len(msg.Payload)) > w.maxMsgSize {
		return wrapErr(KindFraming, CloseMessageTooBig, ErrMaxMessageSizeExceeded)
	}

	payload := msg.Payload
	compress := w.shouldCompress(payload)
	if compress {
		out, err := w.deflate.Encode(payload)
		if err != nil {
			w.writeErr = err
			return err
		}
		payload = out
	}

	frames := w.chunk(payload)
	for i, chunk := range frames {
		f := Frame{Payload: chunk}
		switch {
		case len(frames) == 1:
			f.Final = true
			f.OpCode = msg.OpCode
			f.RSV1 = compress
		case i == 0:
			f.Final = false
			f.OpCode = msg.OpCode
			f.RSV1 = compress
		case i == len(frames)-1:
			f.Final = true
			f.OpCode = OpContinuation
		default:
			f.Final = false
			f.OpCode = OpContinuation
		}
		if err := w.fw.WriteFrame(f); err != nil {
			w.writeErr = err
			return err
		}
	}
	return nil
}

// chunk splits payload into pieces no larger than maxFrameSize. An empty
// payload still yields exactly one (empty) chunk, so zero-length messages
// produce one frame rather than none.
func (w *writer) chunk(payload []byte) [][]byte {
	if w.maxFrameSize <= 0 || int64(len(payload)) <= w.maxFrameSize {
		return [][]byte{payload}
	}
	var chunks [][]byte
	for int64(len(payload)) > w.maxFrameSize {
		chunks = append(chunks, payload[:w.maxFrameSize])
		payload = payload[w.maxFrameSize:]
	}
	chunks = append(chunks, payload)
	return chunks
}

// sendControl writes a single, never-fragmented, never-compressed control
// frame: Ping, Pong, or Close.
func (w *writer) sendControl(opcode OpCode, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sendControlLocked(opcode, payload)
}

func (w *writer) sendControlLocked(opcode OpCode, payload []byte) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	if len(payload) > maxControlFramePayloadSize {
		return wrapErr(KindFraming, 0, ErrControlFramePayloadTooBig)
	}
	return w.fw.WriteFrame(Frame{Final: true, OpCode: opcode, Payload: payload})
}

// sendPing emits a single unfragmented, uncompressed Ping frame.
func (w *writer) sendPing(payload []byte) error {
	return w.sendControl(OpPing, payload)
}

// sendPong emits a single unfragmented, uncompressed Pong frame. Used by
// the reader pipeline to answer an incoming Ping.
func (w *writer) sendPong(payload []byte) error {
	return w.sendControl(OpPong, payload)
}

// sendClose emits a Close frame with the given status code and reason,
// unless one has already been sent, in which case it is a no-op — this
// is what makes close_connection idempotent.
func (w *writer) sendClose(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closeSent {
		return nil
	}
	w.closeSent = true
	payload := FormatCloseMessage(code, reason)
	err := w.sendControlLocked(OpClose, payload)
	w.writeErr = ErrCloseSent
	return err
}

// sendPrepared writes a PreparedMessage's cached encoding for this
// writer's role and compression state, building it on first use.
func (w *writer) sendPrepared(pm *PreparedMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeErr != nil {
		return w.writeErr
	}

	frame, err := pm.frame(preparedKey{role: w.role, compress: w.deflate != nil})
	if err != nil {
		w.writeErr = err
		return err
	}
	if err := w.fw.WriteRaw(frame); err != nil {
		w.writeErr = err
		return err
	}
	return nil
}

// FormatCloseMessage formats closeCode and text as a WebSocket close
// message per RFC 6455, section 5.5.1.
func FormatCloseMessage(closeCode int, text string) []byte {
	if closeCode == 0 || closeCode == CloseNoStatusReceived {
		return nil
	}
	buf := make([]byte, 2+len(text))
	buf[0] = byte(closeCode >> 8)
	buf[1] = byte(closeCode)
	copy(buf[2:], text)
	return buf
}
