package websocket

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeflateContextRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("Hello, WebSocket!")},
		{name: "repeated text", input: bytes.Repeat([]byte("hello"), 100)},
		{name: "binary data", input: []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}},
		{name: "empty", input: []byte{}},
		{name: "large text", input: bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog. "), 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newDeflateContext(maxWindowBits, true, defaultCompressionLevel)
			dec := newDeflateContext(maxWindowBits, true, 0)

			compressed, err := enc.Encode(tt.input)
			require.NoError(t, err)

			decompressed, err := dec.Decode(compressed)
			require.NoError(t, err)

			assert.Equal(t, tt.input, decompressed)
		})
	}
}

func TestDeflateContextContextTakeover(t *testing.T) {
	enc := newDeflateContext(maxWindowBits, false, defaultCompressionLevel)
	dec := newDeflateContext(maxWindowBits, false, 0)

	messages := [][]byte{
		[]byte("the quick brown fox jumps over the lazy dog"),
		[]byte("the quick brown fox jumps over the lazy dog again"),
		[]byte("the quick brown fox strikes once more"),
	}

	for _, msg := range messages {
		compressed, err := enc.Encode(msg)
		require.NoError(t, err)

		decompressed, err := dec.Decode(compressed)
		require.NoError(t, err)
		assert.Equal(t, msg, decompressed)
	}

	assert.NotEmpty(t, enc.history)
	assert.NotEmpty(t, dec.history)
}

func TestDeflateContextNoContextTakeoverResets(t *testing.T) {
	enc := newDeflateContext(maxWindowBits, true, defaultCompressionLevel)

	_, err := enc.Encode([]byte("first message establishes no history"))
	require.NoError(t, err)
	assert.Empty(t, enc.history)
}

func TestDeflateContextHistoryLimit(t *testing.T) {
	c := newDeflateContext(8, false, defaultCompressionLevel)
	assert.Equal(t, 1<<8, c.historyLimit())

	big := bytes.Repeat([]byte{0x42}, 1<<10)
	c.updateHistory(big)
	assert.LessOrEqual(t, len(c.history), c.historyLimit())
}

func TestNewDeflateContextDefaultsOutOfRangeWindowBits(t *testing.T) {
	c := newDeflateContext(3, false, 0)
	assert.Equal(t, maxWindowBits, c.windowBits)

	c = newDeflateContext(30, false, 0)
	assert.Equal(t, maxWindowBits, c.windowBits)
}

func TestOutboundInboundDeflateContextPickRole(t *testing.T) {
	ext := ExtensionParams{
		PermessageDeflate:       true,
		ClientNoContextTakeover: true,
		ServerNoContextTakeover: false,
		ClientMaxWindowBits:     10,
		ServerMaxWindowBits:     12,
	}

	out := newOutboundDeflateContext(RoleClient, ext, defaultCompressionLevel)
	assert.Equal(t, 10, out.windowBits)
	assert.True(t, out.resetEachMessage)

	in := newInboundDeflateContext(RoleClient, ext)
	assert.Equal(t, 12, in.windowBits)
	assert.False(t, in.resetEachMessage)

	out = newOutboundDeflateContext(RoleServer, ext, defaultCompressionLevel)
	assert.Equal(t, 12, out.windowBits)
	assert.False(t, out.resetEachMessage)

	in = newInboundDeflateContext(RoleServer, ext)
	assert.Equal(t, 10, in.windowBits)
	assert.True(t, in.resetEachMessage)
}
