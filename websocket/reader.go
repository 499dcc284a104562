package websocket

import "unicode/utf8"

// fragmentBuffer is the private reassembly state for one inbound message
// under construction. It is empty (inProgress == false) at session start
// and after every completed or aborted message.
type fragmentBuffer struct {
	inProgress  bool
	opcode      OpCode
	compressed  bool
	accumulated []byte
}

func (b *fragmentBuffer) reset() {
	b.inProgress = false
	b.opcode = 0
	b.compressed = false
	b.accumulated = nil
}

// reader is the C5 reader pipeline. It owns the read half of the Duplex
// (through a FrameReader), the inbound DeflateContext, and the
// fragmentation state machine, and answers control frames inline through
// the shared writer. It is driven exclusively by the Session's reader
// goroutine; nothing else calls next().
type reader struct {
	fr         *FrameReader
	w          *writer
	deflate    *DeflateContext
	maxMsgSize int64 // 0 means unbounded
	onPong     func(payload []byte)
	frag       fragmentBuffer
}

func newReader(d Duplex, cfg SessionConfig, w *writer, deflate *DeflateContext) *reader {
	return &reader{
		fr: NewFrameReader(d, cfg.Role, cfg.maxFrameSize(), cfg.Extension.PermessageDeflate,
			cfg.frameReadTimeout()),
		w:          w,
		deflate:    deflate,
		maxMsgSize: cfg.maxMessageSize(),
		onPong:     cfg.OnPong,
	}
}

// next blocks until one complete message has been reassembled, a control
// frame has been answered and the loop should continue (handled
// internally — next never returns for a Ping/Pong it handled itself), or
// a terminal condition is reached: a protocol/transport error, or a
// *CloseError once the close exchange has been observed. Once next
// returns a non-nil error, the reader must not be called again.
func (r *reader) next() (Message, error) {
	for {
		f, err := r.fr.ReadFrame()
		if err != nil {
			return Message{}, err
		}

		switch f.OpCode {
		case OpPing:
			if err := r.w.sendPong(f.Payload); err != nil {
				return Message{}, err
			}
			continue
		case OpPong:
			if r.onPong != nil {
				r.onPong(f.Payload)
			}
			continue
		case OpClose:
			code, text := parseClosePayload(f.Payload)
			_ = r.w.sendClose(code, text)
			return Message{}, &CloseError{Code: code, Text: text}
		}

		if !r.frag.inProgress {
			switch {
			case f.OpCode == OpContinuation:
				return Message{}, wrapErr(KindProtocol, CloseProtocolError, ErrOrphanContinuation)
			case f.Final:
				return r.deliver(f.OpCode, f.Payload, f.RSV1)
			default:
				r.frag = fragmentBuffer{
					inProgress:  true,
					opcode:      f.OpCode,
					compressed:  f.RSV1,
					accumulated: append([]byte(nil), f.Payload...),
				}
				if err := r.checkSize(); err != nil {
					r.frag.reset()
					return Message{}, err
				}
				continue
			}
		}

		// A message is already in progress.
		if f.OpCode != OpContinuation {
			r.frag.reset()
			return Message{}, wrapErr(KindProtocol, CloseProtocolError, ErrUnexpectedDataFrame)
		}

		r.frag.accumulated = append(r.frag.accumulated, f.Payload...)
		if err := r.checkSize(); err != nil {
			r.frag.reset()
			return Message{}, err
		}
		if !f.Final {
			continue
		}

		opcode, compressed, payload := r.frag.opcode, r.frag.compressed, r.frag.accumulated
		r.frag.reset()
		return r.deliver(opcode, payload, compressed)
	}
}

// deliver decompresses payload if rsv1/compressed is set, validates UTF-8
// for Text messages, and returns the completed Message.
func (r *reader) deliver(opcode OpCode, payload []byte, compressed bool) (Message, error) {
	if r.maxMsgSize > 0 && int64(len(payload)) > r.maxMsgSize {
		return Message{}, wrapErr(KindFraming, CloseMessageTooBig, ErrMaxMessageSizeExceeded)
	}
	if compressed {
		if r.deflate == nil {
			return Message{}, wrapErr(KindFraming, CloseProtocolError, ErrReservedBits)
		}
		decoded, err := r.deflate.Decode(payload)
		if err != nil {
			return Message{}, wrapErr(KindCompression, CloseInternalServerErr, err)
		}
		payload = decoded
	}
	if opcode == OpText && !utf8.Valid(payload) {
		return Message{}, wrapErr(KindProtocol, CloseInvalidFramePayloadData, ErrInvalidUTF8)
	}
	return Message{OpCode: opcode, Payload: payload}, nil
}

func (r *reader) checkSize() error {
	if r.maxMsgSize > 0 && int64(len(r.frag.accumulated)) > r.maxMsgSize {
		return wrapErr(KindFraming, CloseMessageTooBig, ErrMaxMessageSizeExceeded)
	}
	return nil
}

// parseClosePayload splits a Close frame's payload into its optional
// 2-byte big-endian status code and UTF-8 reason, per RFC 6455, section
// 5.5.1. A payload shorter than 2 bytes carries no status code.
func parseClosePayload(payload []byte) (code int, text string) {
	if len(payload) < 2 {
		return CloseNoStatusReceived, ""
	}
	return int(payload[0])<<8 | int(payload[1]), string(payload[2:])
}
