package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPreparedMessage(t *testing.T) {
	tests := []struct {
		name      string
		opcode    OpCode
		data      []byte
		expectErr bool
	}{
		{name: "valid text message", opcode: OpText, data: []byte("hello")},
		{name: "valid binary message", opcode: OpBinary, data: []byte{0x01, 0x02, 0x03}},
		{name: "invalid opcode", opcode: OpPing, data: []byte("ping"), expectErr: true},
		{name: "empty data", opcode: OpText, data: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, err := NewPreparedMessage(tt.opcode, tt.data)
			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMessageType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.opcode, pm.opcode)
			assert.Equal(t, tt.data, pm.data)
		})
	}
}

func TestPreparedMessageFrameCachesPerKey(t *testing.T) {
	pm, err := NewPreparedMessage(OpText, []byte("hello prepared world"))
	require.NoError(t, err)

	key := preparedKey{role: RoleServer, compress: false}
	first, err := pm.frame(key)
	require.NoError(t, err)

	second, err := pm.frame(key)
	require.NoError(t, err)

	assert.Same(t, &first[0], &second[0])
}

func TestBuildPreparedFrameMasksForClientRole(t *testing.T) {
	unmasked := buildPreparedFrame(OpText, []byte("hi"), false, false)
	masked := buildPreparedFrame(OpText, []byte("hi"), true, false)

	assert.Equal(t, byte(OpText)|finalBit, unmasked[0])
	assert.Equal(t, byte(2), unmasked[1])

	assert.Equal(t, byte(OpText)|finalBit, masked[0])
	assert.Equal(t, byte(2)|maskBit, masked[1])
	assert.Len(t, masked, len(unmasked)+4)
}

func TestBuildPreparedFrameSetsRSV1WhenCompressed(t *testing.T) {
	frame := buildPreparedFrame(OpBinary, []byte{1, 2, 3}, false, true)
	assert.NotZero(t, frame[0]&rsv1Bit)
}

func TestPreparedMessageCompressedFrameSetsRSV1(t *testing.T) {
	pm, err := NewPreparedMessage(OpText, []byte("the quick brown fox jumps over the lazy dog"))
	require.NoError(t, err)

	frame, err := pm.frame(preparedKey{role: RoleServer, compress: true})
	require.NoError(t, err)
	assert.NotZero(t, frame[0]&rsv1Bit)
}
