package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerAddDeviceAccumulatesLoad(t *testing.T) {
	w := NewWorker("w1")
	w.AddDevice(&Device{ID: 1, LoadIndex: 0.3})
	w.AddDevice(&Device{ID: 2, LoadIndex: 0.2})

	assert.Equal(t, 2, w.DeviceCount())
	assert.InDelta(t, 0.5, w.LoadIndex, 1e-9)
	assert.True(t, w.Contains(1))
	assert.False(t, w.Contains(3))
}

func TestWorkerResetAssignment(t *testing.T) {
	w := NewWorker("w1")
	w.AddDevice(&Device{ID: 1, LoadIndex: 0.5})
	w.ResetAssignment()

	assert.Equal(t, 0, w.DeviceCount())
	assert.Equal(t, 0.0, w.LoadIndex)
}

func TestWorkerMinDeviceID(t *testing.T) {
	w := NewWorker("w1")
	assert.Equal(t, int64(0), w.MinDeviceID(), "empty worker reports 0, not an error")

	w.AddDevice(&Device{ID: 5})
	w.AddDevice(&Device{ID: 2})
	w.AddDevice(&Device{ID: 9})
	assert.Equal(t, int64(2), w.MinDeviceID())
}

func TestWorkerSetEqualityIsByIdentityOnly(t *testing.T) {
	a := NewWorkerSet([]string{"w1", "w2"})
	b := NewWorkerSet([]string{"w2", "w1"})
	assert.True(t, a.Equal(b))

	a["w1"].AddDevice(&Device{ID: 1})
	assert.True(t, a.Equal(b), "membership changes don't affect set identity")

	c := NewWorkerSet([]string{"w1"})
	assert.False(t, a.Equal(c))
}

func TestWorkerByLoadThenCountAscending(t *testing.T) {
	light := &Worker{Identity: "w1", LoadIndex: 0.1, Devices: DeviceSet{1: {}}}
	heavy := &Worker{Identity: "w2", LoadIndex: 0.9, Devices: DeviceSet{}}
	assert.True(t, WorkerByLoadThenCountAscending(light, heavy))

	tieA := &Worker{Identity: "w1", LoadIndex: 0.5, Devices: DeviceSet{1: {}}}
	tieB := &Worker{Identity: "w2", LoadIndex: 0.5, Devices: DeviceSet{1: {}, 2: {}}}
	assert.True(t, WorkerByLoadThenCountAscending(tieA, tieB))
}

func TestWorkerByCountThenMinIDDescending(t *testing.T) {
	more := &Worker{Identity: "w1", Devices: DeviceSet{1: {}, 2: {}}}
	fewer := &Worker{Identity: "w2", Devices: DeviceSet{3: {}}}
	assert.True(t, WorkerByCountThenMinIDDescending(more, fewer))

	tieHighMin := &Worker{Identity: "w1", Devices: DeviceSet{5: {}}}
	tieLowMin := &Worker{Identity: "w2", Devices: DeviceSet{1: {}}}
	assert.True(t, WorkerByCountThenMinIDDescending(tieHighMin, tieLowMin))
}
