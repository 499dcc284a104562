package websocket

import "sync"

// PreparedMessage caches the on-the-wire encoding of one message payload,
// keyed by the (role, compressed) combinations it has actually been sent
// under, so that broadcasting the same payload to many sessions repeats
// neither the compression nor the masking/framing work per recipient.
type PreparedMessage struct {
	opcode OpCode
	data   []byte

	mu     sync.Mutex
	frames map[preparedKey][]byte
}

type preparedKey struct {
	role     Role
	compress bool
}

// NewPreparedMessage returns a PreparedMessage for a Text or Binary
// payload.
func NewPreparedMessage(opcode OpCode, data []byte) (*PreparedMessage, error) {
	if opcode != OpText && opcode != OpBinary {
		return nil, wrapErr(KindProtocol, 0, ErrInvalidMessageType)
	}
	return &PreparedMessage{opcode: opcode, data: data, frames: make(map[preparedKey][]byte)}, nil
}

func (pm *PreparedMessage) frame(key preparedKey) ([]byte, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if f, ok := pm.frames[key]; ok {
		return f, nil
	}

	payload := pm.data
	if key.compress {
		// Each recipient gets an independent one-shot compression: a
		// PreparedMessage has no per-session history to seed context
		// takeover with, so it always compresses as if
		// reset_each_message were true.
		dc := newDeflateContext(maxWindowBits, true, defaultCompressionLevel)
		compressed, err := dc.Encode(payload)
		if err != nil {
			return nil, err
		}
		payload = compressed
	}

	frame := buildPreparedFrame(pm.opcode, payload, key.role == RoleClient, key.compress)
	pm.frames[key] = frame
	return frame, nil
}

// buildPreparedFrame serializes a single, final, unfragmented frame the
// same way FrameWriter.WriteFrame does, but directly into a cacheable
// byte slice rather than through a live Duplex.
func buildPreparedFrame(opcode OpCode, data []byte, masked, compressed bool) []byte {
	header := make([]byte, maxFrameHeaderSize)
	headerLen := 2

	b0 := byte(opcode) | finalBit
	if compressed {
		b0 |= rsv1Bit
	}
	header[0] = b0

	payloadLen := len(data)
	switch {
	case payloadLen <= 125:
		header[1] = byte(payloadLen)
	case payloadLen <= 65535:
		header[1] = payloadLen16
		header[2] = byte(payloadLen >> 8)
		header[3] = byte(payloadLen)
		headerLen = 4
	default:
		header[1] = payloadLen64
		header[2] = byte(payloadLen >> 56)
		header[3] = byte(payloadLen >> 48)
		header[4] = byte(payloadLen >> 40)
		header[5] = byte(payloadLen >> 32)
		header[6] = byte(payloadLen >> 24)
		header[7] = byte(payloadLen >> 16)
		header[8] = byte(payloadLen >> 8)
		header[9] = byte(payloadLen)
		headerLen = 10
	}

	if masked {
		header[1] |= maskBit
		mask := make([]byte, 4)
		_, _ = randReader.Read(mask)
		copy(header[headerLen:], mask)
		headerLen += 4

		maskedData := make([]byte, len(data))
		copy(maskedData, data)
		maskBytes(mask, 0, maskedData)
		data = maskedData
	}

	frame := make([]byte, headerLen+len(data))
	copy(frame, header[:headerLen])
	copy(frame[headerLen:], data)
	return frame
}

// SendPrepared writes pm to the session, reusing its cached encoding for
// this session's (role, compression) combination if one already exists.
func (s *Session) SendPrepared(pm *PreparedMessage) error {
	return s.w.sendPrepared(pm)
}
