// Compression support for the WebSocket permessage-deflate extension
// (RFC 7692). This extension uses the DEFLATE algorithm (RFC 1951) to
// compress message payloads.
package websocket

import (
	"bytes"
	"compress/flate"
	"io"
)

// Compression level constants for DEFLATE (RFC 1951).
const (
	minCompressionLevel     = -2
	maxCompressionLevel     = 9
	defaultCompressionLevel = 1

	// maxWindowBits is the largest window compress/flate supports; it has
	// no parameter to request a smaller one (see the package-level note
	// below), so this is also the ceiling used when clamping a
	// negotiated window_bits into a history length.
	maxWindowBits = 15
	minWindowBits = 8
)

// suffixBytes is the RFC 7692, section 7.2.1 empty DEFLATE block marker:
// senders strip it from their compressed output, receivers append it
// before inflating.
var suffixBytes = []byte{0x00, 0x00, 0xff, 0xff}

// DeflateContext implements one direction (encode or decode) of the
// permessage-deflate pipeline for a session. A session holds two: an
// outbound context governing what it compresses, and an inbound context
// governing what it decompresses — per RFC 7692 these are configured from
// different halves of the negotiated ExtensionParams (see
// newOutboundDeflateContext / newInboundDeflateContext below).
//
// Window-bits caveat: Go's compress/flate always operates with a fixed
// 32 KiB (2^15) window and has no parameter to shrink it. window_bits is
// still fully negotiated, validated, and recorded (historyLimit below),
// but a context built with window_bits < 15 behaves identically to one
// built with 15 other than the length of plaintext history it retains for
// its own dictionary seeding. This is safe: RFC 7692 only requires that a
// side not exceed its *own* advertised window when compressing, and a
// decoder that can address more history than the encoder used decodes
// correctly regardless.
//
// Context takeover: compress/flate's *flate.Writer/*flate.Reader are
// stream objects that don't support suspending mid-stream across
// independently-buffered messages without a live, blocking pipe for the
// life of the session. Instead, each message is compressed/decompressed
// with a fresh flate.Writer/Reader seeded via NewWriterDict/NewReaderDict
// with an explicit dictionary: the trailing window of plaintext bytes
// seen so far. This reproduces the same LZ77 back-reference behavior a
// genuinely continuous stream would have (the dictionary IS the sliding
// window DEFLATE back-references address) while keeping the call shape
// one-shot per message, matching how the writer/reader pipelines already
// process one message at a time. When reset_each_message is true, the
// dictionary is cleared after every message instead of extended.
type DeflateContext struct {
	windowBits       int
	resetEachMessage bool
	level            int // only meaningful for an outbound (encoding) context
	history          []byte
}

func newDeflateContext(windowBits int, resetEachMessage bool, level int) *DeflateContext {
	if windowBits < minWindowBits || windowBits > maxWindowBits {
		windowBits = maxWindowBits
	}
	return &DeflateContext{windowBits: windowBits, resetEachMessage: resetEachMessage, level: level}
}

// newOutboundDeflateContext builds the context used to compress this
// side's outgoing messages. Per the data model, the parameters are this
// side's own: client_* if we are the client, server_* if we are the
// server.
func newOutboundDeflateContext(role Role, ext ExtensionParams, level int) *DeflateContext {
	if role == RoleClient {
		return newDeflateContext(ext.ClientMaxWindowBits, ext.ClientNoContextTakeover, level)
	}
	return newDeflateContext(ext.ServerMaxWindowBits, ext.ServerNoContextTakeover, level)
}

// newInboundDeflateContext builds the context used to decompress the
// peer's incoming messages. Per the data model, the parameters are the
// peer's: client_* if we are the server, server_* if we are the client.
func newInboundDeflateContext(role Role, ext ExtensionParams) *DeflateContext {
	if role == RoleClient {
		return newDeflateContext(ext.ServerMaxWindowBits, ext.ServerNoContextTakeover, 0)
	}
	return newDeflateContext(ext.ClientMaxWindowBits, ext.ClientNoContextTakeover, 0)
}

func (c *DeflateContext) historyLimit() int {
	limit := 1 << uint(c.windowBits)
	if limit > 1<<maxWindowBits {
		limit = 1 << maxWindowBits
	}
	return limit
}

// Encode compresses one complete message payload per RFC 7692, section
// 7.2.1, returning the tail-stripped DEFLATE stream.
func (c *DeflateContext) Encode(data []byte) ([]byte, error) {
	var dict []byte
	if !c.resetEachMessage {
		dict = c.history
	}

	var buf bytes.Buffer
	fw, err := flate.NewWriterDict(&buf, c.level, dict)
	if err != nil {
		return nil, wrapErr(KindCompression, 0, err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, wrapErr(KindCompression, 0, err)
	}
	if err := fw.Flush(); err != nil {
		return nil, wrapErr(KindCompression, 0, err)
	}

	out := buf.Bytes()
	if len(out) >= 4 && bytes.Equal(out[len(out)-4:], suffixBytes) {
		out = out[:len(out)-4]
	}

	result := make([]byte, len(out))
	copy(result, out)

	c.updateHistory(data)
	return result, nil
}

// Decode decompresses one complete, reassembled compressed message
// payload per RFC 7692, section 7.2.2: it appends the empty-block
// trailer and inflates until input exhaustion.
func (c *DeflateContext) Decode(data []byte) ([]byte, error) {
	var dict []byte
	if !c.resetEachMessage {
		dict = c.history
	}

	src := make([]byte, 0, len(data)+len(suffixBytes))
	src = append(src, data...)
	src = append(src, suffixBytes...)

	fr := flate.NewReaderDict(bytes.NewReader(src), dict)
	defer fr.Close()

	// A sync-flushed message ends on a non-final block, so running out of
	// input is the normal end of the message rather than a failure.
	out, err := io.ReadAll(fr)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, wrapErr(KindCompression, 0, err)
	}

	c.updateHistory(out)
	return out, nil
}

// Reset drops any retained dictionary, as if reset_each_message were
// true for the next call only. The session pipelines do not call it; a
// context built with reset_each_message already clears its history after
// every message in updateHistory.
func (c *DeflateContext) Reset() {
	c.history = nil
}

func (c *DeflateContext) updateHistory(plaintext []byte) {
	if c.resetEachMessage {
		c.history = nil
		return
	}
	limit := c.historyLimit()
	combined := append(c.history, plaintext...)
	if len(combined) > limit {
		combined = combined[len(combined)-limit:]
	}
	c.history = combined
}
