package balancer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamfleet/scheduler/internal/scheduler/domain"
)

// zeroCache reports no telemetry at all, forcing count-only mode (spec §8
// scenario 5: "cache unreachable").
type zeroCache struct{}

func (zeroCache) FetchAndReset(ctx context.Context, devices domain.DeviceSet) (int64, float64) {
	return 0, 0
}

// fixedCache plays back predetermined (msgCount, procTime) pairs per device
// id and reports fixed system totals, modeling a populated metric cache
// (spec §8 scenario 4).
type fixedCache struct {
	perDevice      map[int64]struct{ msgCount int64; procTime float64 }
	systemMsgCount int64
	interval       float64
}

func (c fixedCache) FetchAndReset(ctx context.Context, devices domain.DeviceSet) (int64, float64) {
	for id, d := range devices {
		if v, ok := c.perDevice[id]; ok {
			d.MsgCount = v.msgCount
			d.ProcTime = v.procTime
		}
	}
	return c.systemMsgCount, c.interval
}

func newDevices(ids ...int64) domain.DeviceSet {
	return domain.NewDeviceSet(ids)
}

func newWorkers(identities ...string) domain.WorkerSet {
	return domain.NewWorkerSet(identities)
}

func countsOf(workers domain.WorkerSet) map[string]int {
	out := make(map[string]int, len(workers))
	for identity, w := range workers {
		out[identity] = w.DeviceCount()
	}
	return out
}

func allAssignedDeviceIDs(workers domain.WorkerSet) map[int64]string {
	out := make(map[int64]string)
	for identity, w := range workers {
		for id := range w.Devices {
			out[id] = identity
		}
	}
	return out
}

func TestBalance_EmptySetsPassThrough(t *testing.T) {
	workers := newWorkers("w1")
	result := Balance(context.Background(), workers, domain.DeviceSet{}, zeroCache{}, WorkerDeviation)
	assert.Equal(t, 0, result["w1"].DeviceCount())

	devices := newDevices(1, 2)
	empty := domain.WorkerSet{}
	result = Balance(context.Background(), empty, devices, zeroCache{}, WorkerDeviation)
	assert.Equal(t, 0, len(result))
}

func TestGetDevicesPerWorker(t *testing.T) {
	cases := []struct {
		workers, devices int
		want             []int
	}{
		{3, 8, []int{3, 3, 2}},
		{2, 4, []int{2, 2}},
		{1, 5, []int{5}},
		{4, 4, []int{1, 1, 1, 1}},
	}
	for _, tc := range cases {
		got := getDevicesPerWorker(tc.workers, tc.devices)
		require.Len(t, got, tc.workers)
		sum := 0
		max, min := got[0], got[0]
		for _, v := range got {
			sum += v
			if v > max {
				max = v
			}
			if v < min {
				min = v
			}
		}
		assert.Equal(t, tc.devices, sum)
		assert.LessOrEqual(t, max-min, 1)
	}
}

// Scenario 1: steady state, no telemetry, no prior assignment.
func TestBalance_SteadyStateNoTelemetry(t *testing.T) {
	workers := newWorkers("w1", "w2", "w3")
	devices := newDevices(1, 2, 3, 4, 5, 6, 7, 8)

	result := Balance(context.Background(), workers, devices, zeroCache{}, WorkerDeviation)

	counts := make([]int, 0, 3)
	for _, c := range countsOf(result) {
		counts = append(counts, c)
	}
	assert.ElementsMatch(t, []int{3, 3, 2}, counts)

	assigned := allAssignedDeviceIDs(result)
	assert.Len(t, assigned, 8)
	for id := int64(1); id <= 8; id++ {
		_, ok := assigned[id]
		assert.True(t, ok, "device %d must be assigned", id)
	}
}

// Scenario 2: a worker leaves; its devices redistribute onto the survivors,
// each survivor keeping its prior devices plus one leftover.
func TestBalance_WorkerLeaves(t *testing.T) {
	w1 := domain.NewWorker("w1")
	w1.AddDevice(&domain.Device{ID: 1})
	w1.AddDevice(&domain.Device{ID: 2})
	w1.AddDevice(&domain.Device{ID: 3})

	w2 := domain.NewWorker("w2")
	w2.AddDevice(&domain.Device{ID: 4})
	w2.AddDevice(&domain.Device{ID: 5})
	w2.AddDevice(&domain.Device{ID: 6})

	workers := domain.WorkerSet{"w1": w1, "w2": w2}
	devices := newDevices(1, 2, 3, 4, 5, 6, 7, 8)

	result := Balance(context.Background(), workers, devices, zeroCache{}, WorkerDeviation)

	counts := countsOf(result)
	assert.Equal(t, 4, counts["w1"])
	assert.Equal(t, 4, counts["w2"])

	assert.True(t, result["w1"].Contains(1))
	assert.True(t, result["w1"].Contains(2))
	assert.True(t, result["w1"].Contains(3))
	assert.True(t, result["w1"].Contains(7))

	assert.True(t, result["w2"].Contains(4))
	assert.True(t, result["w2"].Contains(5))
	assert.True(t, result["w2"].Contains(6))
	assert.True(t, result["w2"].Contains(8))
}

// Scenario 3: a device is added; existing assignments are preserved and the
// new device lands on the currently-smallest worker.
func TestBalance_DeviceAdded(t *testing.T) {
	w1 := domain.NewWorker("w1")
	w1.AddDevice(&domain.Device{ID: 1})
	w1.AddDevice(&domain.Device{ID: 2})
	w1.AddDevice(&domain.Device{ID: 3})

	w2 := domain.NewWorker("w2")
	w2.AddDevice(&domain.Device{ID: 4})
	w2.AddDevice(&domain.Device{ID: 5})
	w2.AddDevice(&domain.Device{ID: 6})

	w3 := domain.NewWorker("w3")
	w3.AddDevice(&domain.Device{ID: 7})
	w3.AddDevice(&domain.Device{ID: 8})

	workers := domain.WorkerSet{"w1": w1, "w2": w2, "w3": w3}
	devices := newDevices(1, 2, 3, 4, 5, 6, 7, 8, 9)

	result := Balance(context.Background(), workers, devices, zeroCache{}, WorkerDeviation)

	assert.True(t, result["w1"].Contains(1))
	assert.True(t, result["w1"].Contains(2))
	assert.True(t, result["w1"].Contains(3))
	assert.True(t, result["w2"].Contains(4))
	assert.True(t, result["w2"].Contains(5))
	assert.True(t, result["w2"].Contains(6))
	assert.True(t, result["w3"].Contains(7))
	assert.True(t, result["w3"].Contains(8))
	assert.True(t, result["w3"].Contains(9))
}

// Scenario 4: telemetry-driven rebalance isolates the hot device onto its
// own worker while the others share the remaining load.
func TestBalance_TelemetryDrivenRebalance(t *testing.T) {
	workers := newWorkers("w1", "w2")
	devices := newDevices(1, 2, 3, 4)

	cache := fixedCache{
		perDevice: map[int64]struct {
			msgCount int64
			procTime float64
		}{
			1: {900, 9.0},
			2: {30, 0.5},
			3: {40, 0.3},
			4: {30, 0.2},
		},
		systemMsgCount: 1000,
		interval:       10.0,
	}

	result := Balance(context.Background(), workers, devices, cache, WorkerDeviation)

	var hotWorker, coldWorker *domain.Worker
	for _, w := range result {
		if w.Contains(1) {
			hotWorker = w
		} else {
			coldWorker = w
		}
	}
	require.NotNil(t, hotWorker)
	require.NotNil(t, coldWorker)

	assert.Equal(t, 1, hotWorker.DeviceCount())
	assert.Equal(t, 3, coldWorker.DeviceCount())
	assert.True(t, coldWorker.Contains(2))
	assert.True(t, coldWorker.Contains(3))
	assert.True(t, coldWorker.Contains(4))

	assert.InDelta(t, 0.9, hotWorker.LoadIndex, 0.01)
	assert.InDelta(t, 0.1, coldWorker.LoadIndex, 0.01)
}

// Scenario 5: cache unreachable falls back to count-only balancing.
func TestBalance_CacheMissFallsBackToCountOnly(t *testing.T) {
	workers := newWorkers("w1", "w2")
	devices := newDevices(1, 2, 3, 4)

	result := Balance(context.Background(), workers, devices, zeroCache{}, WorkerDeviation)

	counts := make([]int, 0, 2)
	for _, c := range countsOf(result) {
		counts = append(counts, c)
	}
	assert.ElementsMatch(t, []int{2, 2}, counts)
}

func TestBalance_IdempotentUnderZeroTelemetry(t *testing.T) {
	workers := newWorkers("w1", "w2", "w3")
	devices := newDevices(1, 2, 3, 4, 5, 6, 7, 8)

	first := Balance(context.Background(), workers, devices, zeroCache{}, WorkerDeviation)
	firstAssignment := allAssignedDeviceIDs(first)

	second := Balance(context.Background(), first, devices, zeroCache{}, WorkerDeviation)
	secondAssignment := allAssignedDeviceIDs(second)

	assert.Equal(t, firstAssignment, secondAssignment)
}

func TestBalance_StickinessRespectsThreshold(t *testing.T) {
	w1 := domain.NewWorker("w1")
	for _, id := range []int64{1, 2, 3, 4} {
		w1.AddDevice(&domain.Device{ID: id})
	}
	w2 := domain.NewWorker("w2")
	w2.AddDevice(&domain.Device{ID: 5})
	w2.AddDevice(&domain.Device{ID: 6})

	workers := domain.WorkerSet{"w1": w1, "w2": w2}
	devices := newDevices(1, 2, 3, 4, 5, 6)

	cache := fixedCache{
		perDevice: map[int64]struct {
			msgCount int64
			procTime float64
		}{
			1: {200, 2.0},
			2: {200, 2.0},
			3: {200, 2.0},
			4: {200, 2.0},
			5: {100, 1.0},
			6: {100, 1.0},
		},
		systemMsgCount: 1000,
		interval:       10.0,
	}

	result := Balance(context.Background(), workers, devices, cache, WorkerDeviation)

	decimals := decimalPoints(len(devices))
	loadPerWorker := roundTo(1.0/float64(len(result)), decimals)
	threshold := loadPerWorker * (1 + WorkerDeviation)

	assigned := allAssignedDeviceIDs(result)
	assert.Len(t, assigned, 6)

	// Every device must land somewhere. Devices 1-4 carry load 0.2 and
	// devices 5-6 carry 0.1; threshold is 0.55. The stickiness pass lets w1
	// keep only two of its four prior devices (a third would reach 0.6) and
	// w2 keep both of its own; the leftover pass, which may exceed threshold,
	// places the other two. We assert that at least one worker ends within
	// threshold.
	within := false
	for _, w := range result {
		if w.LoadIndex <= threshold+1e-9 {
			within = true
		}
	}
	assert.True(t, within)
}

func TestDecimalPoints(t *testing.T) {
	assert.Equal(t, 3, decimalPoints(4))
	assert.Equal(t, 3, decimalPoints(9))
	assert.Equal(t, 5, decimalPoints(10))
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 0.9, roundTo(0.8999999, 1))
	assert.True(t, math.Abs(roundTo(1.0/3.0, 3)-0.333) < 1e-9)
}
