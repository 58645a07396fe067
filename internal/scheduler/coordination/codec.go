package coordination

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// frameVersion1 is the only framing version this client writes or accepts.
// Node values are encoded as [1 byte version][4 byte big-endian length][JSON
// payload] — a neutral, portable substitute for the source system's
// language-tagged pickle encoding (spec §6 requires documenting the choice).
const frameVersion1 = 1

// encodeValue frames v as a versioned, length-prefixed JSON payload.
func encodeValue(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("coordination: marshal node value: %w", err)
	}
	frame := make([]byte, 1+4+len(payload))
	frame[0] = frameVersion1
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)
	return frame, nil
}

// decodeValue unframes data and unmarshals the JSON payload into v.
func decodeValue(data []byte, v interface{}) error {
	if len(data) < 5 {
		return fmt.Errorf("coordination: frame too short (%d bytes)", len(data))
	}
	version := data[0]
	if version != frameVersion1 {
		return fmt.Errorf("coordination: unsupported frame version %d", version)
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if int(5+length) > len(data) {
		return fmt.Errorf("coordination: frame length %d exceeds buffer", length)
	}
	payload := data[5 : 5+length]
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("coordination: unmarshal node value: %w", err)
	}
	return nil
}
