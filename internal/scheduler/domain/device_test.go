package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceEquality(t *testing.T) {
	a := NewDevice(1)
	b := &Device{ID: 1, MsgCount: 999}
	c := NewDevice(2)

	assert.True(t, a.Equal(b), "devices with the same id are equal regardless of telemetry")
	assert.False(t, a.Equal(c))
}

func TestDeviceResetTelemetry(t *testing.T) {
	d := &Device{ID: 1, MsgCount: 10, ProcTime: 2.5, LoadIndex: 0.4}
	d.ResetTelemetry()
	assert.Equal(t, int64(0), d.MsgCount)
	assert.Equal(t, 0.0, d.ProcTime)
	assert.Equal(t, 0.0, d.LoadIndex)
}

func TestDeviceByLoadThenID(t *testing.T) {
	low := &Device{ID: 5, LoadIndex: 0.1}
	high := &Device{ID: 1, LoadIndex: 0.9}
	assert.True(t, DeviceByLoadThenID(low, high))
	assert.False(t, DeviceByLoadThenID(high, low))

	tieLowID := &Device{ID: 1, LoadIndex: 0.5}
	tieHighID := &Device{ID: 2, LoadIndex: 0.5}
	assert.True(t, DeviceByLoadThenID(tieLowID, tieHighID))
}

func TestDeviceSetEqual(t *testing.T) {
	a := NewDeviceSet([]int64{1, 2, 3})
	b := NewDeviceSet([]int64{3, 2, 1})
	c := NewDeviceSet([]int64{1, 2})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNewDeviceSetStartsWithZeroedTelemetry(t *testing.T) {
	set := NewDeviceSet([]int64{1})
	assert.Equal(t, int64(0), set[1].MsgCount)
	assert.Equal(t, 0.0, set[1].LoadIndex)
}
