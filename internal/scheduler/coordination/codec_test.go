package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Identity string `json:"identity"`
	Count    int    `json:"count"`
}

func TestEncodeDecodeValue_RoundTrips(t *testing.T) {
	original := payload{Identity: "w1", Count: 3}

	frame, err := encodeValue(original)
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, decodeValue(frame, &decoded))
	assert.Equal(t, original, decoded)
}

func TestEncodeValue_FrameLayout(t *testing.T) {
	frame, err := encodeValue(payload{Identity: "w1", Count: 1})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(frame), 5)
	assert.Equal(t, byte(frameVersion1), frame[0])

	length := uint32(frame[1])<<24 | uint32(frame[2])<<16 | uint32(frame[3])<<8 | uint32(frame[4])
	assert.Equal(t, len(frame)-5, int(length))
}

func TestDecodeValue_RejectsShortFrame(t *testing.T) {
	err := decodeValue([]byte{1, 0, 0}, &payload{})
	assert.Error(t, err)
}

func TestDecodeValue_RejectsUnsupportedVersion(t *testing.T) {
	frame, err := encodeValue(payload{Identity: "w1"})
	require.NoError(t, err)
	frame[0] = 99

	err = decodeValue(frame, &payload{})
	assert.Error(t, err)
}

func TestDecodeValue_RejectsTruncatedPayload(t *testing.T) {
	frame, err := encodeValue(payload{Identity: "w1", Count: 1})
	require.NoError(t, err)

	truncated := frame[:len(frame)-1]
	err = decodeValue(truncated, &payload{})
	assert.Error(t, err)
}

func TestDecodeValue_RejectsMalformedJSON(t *testing.T) {
	frame := []byte{frameVersion1, 0, 0, 0, 1, '{'}
	err := decodeValue(frame, &payload{})
	assert.Error(t, err)
}
