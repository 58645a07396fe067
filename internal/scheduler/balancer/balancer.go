// Package balancer implements the core device-to-worker balancing
// algorithm. Balance is a pure function of its inputs plus one telemetry
// fetch against the supplied MetricCache; it performs no other I/O.
package balancer

import (
	"context"
	"math"
	"sort"

	"github.com/streamfleet/scheduler/internal/scheduler/domain"
)

// WorkerDeviation is the default fractional slack above the per-worker fair
// share the stickiness pass may grant (spec §4.5: WORKER_DEVIATION = 0.1).
const WorkerDeviation = 0.1

// MetricCache is the telemetry source Balance reads from. Grounded on
// spec §4.3's fetch_and_reset contract: for every device, read and zero its
// msg_count/proc_time, and report the system-wide totals used by the mode
// switch and the load-index formula.
type MetricCache interface {
	FetchAndReset(ctx context.Context, devices domain.DeviceSet) (systemMsgCount int64, interval float64)
}

// Balance maps devices onto workers given their prior assignment (carried on
// each Worker's Devices set) and freshly-fetched telemetry. Returns workers
// unchanged when either set is empty.
func Balance(ctx context.Context, workers domain.WorkerSet, devices domain.DeviceSet, cache MetricCache, deviation float64) domain.WorkerSet {
	if len(workers) == 0 || len(devices) == 0 {
		return workers
	}

	systemMsgCount, interval := cache.FetchAndReset(ctx, devices)

	if systemMsgCount > 0 {
		return balanceWithLoadIndexes(workers, devices, systemMsgCount, interval, deviation)
	}
	return balanceWithCountPerWorker(workers, devices)
}

// decimalPoints scales rounding precision with device count to prevent tie
// collisions: ⌈d + d·5/4⌉ where d is the decimal-digit count of the device
// count (spec §4.5).
func decimalPoints(deviceCount int) int {
	d := digitCount(deviceCount)
	return int(math.Ceil(float64(d) + float64(d)*5.0/4.0))
}

func digitCount(n int) int {
	if n <= 0 {
		return 1
	}
	count := 0
	for n > 0 {
		count++
		n /= 10
	}
	return count
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}

func deviceLoadIndex(d *domain.Device, systemMsgCount int64, interval float64, decimals int) float64 {
	if interval == 0 || systemMsgCount == 0 {
		return 0
	}
	v := (float64(d.ProcTime)*0.7/interval + float64(d.MsgCount)*0.3/float64(systemMsgCount)) / (0.7 + 0.3)
	return roundTo(v, decimals)
}

func balanceWithLoadIndexes(workers domain.WorkerSet, devices domain.DeviceSet, systemMsgCount int64, interval float64, deviation float64) domain.WorkerSet {
	decimals := decimalPoints(len(devices))
	loadPerWorker := roundTo(1.0/float64(len(workers)), decimals)
	threshold := loadPerWorker * (1 + deviation)

	for _, d := range devices {
		d.LoadIndex = deviceLoadIndex(d, systemMsgCount, interval, decimals)
	}

	// Worker iteration order is the *prior* (load_index, device_count),
	// descending, taken before any reset — spec §4.5: "Iterate workers in
	// descending order... For each worker, reset its load_index to 0..."
	orderedWorkers := workers.Slice()
	sort.Slice(orderedWorkers, func(i, j int) bool {
		return domain.WorkerByLoadThenCountAscending(orderedWorkers[j], orderedWorkers[i])
	})

	// Snapshot each worker's prior assignment (intersected with the current
	// device set) before resetting, since the stickiness pass consumes it.
	priorByWorker := make(map[string][]*domain.Device, len(workers))
	for identity, w := range workers {
		prior := make([]*domain.Device, 0, len(w.Devices))
		for id := range w.Devices {
			if d, ok := devices[id]; ok {
				prior = append(prior, d)
			}
		}
		priorByWorker[identity] = prior
	}

	free := make(map[int64]*domain.Device, len(devices))
	for id, d := range devices {
		free[id] = d
	}

	for _, w := range orderedWorkers {
		w.ResetAssignment()
		prior := priorByWorker[w.Identity]
		sort.Slice(prior, func(i, j int) bool { return domain.DeviceByLoadThenID(prior[j], prior[i]) })
		for _, d := range prior {
			if _, stillFree := free[d.ID]; !stillFree {
				continue
			}
			if w.LoadIndex+d.LoadIndex < threshold {
				w.AddDevice(d)
				delete(free, d.ID)
			}
		}
	}

	remaining := make([]*domain.Device, 0, len(free))
	for _, d := range free {
		remaining = append(remaining, d)
	}
	sort.Slice(remaining, func(i, j int) bool { return domain.DeviceByLoadThenID(remaining[j], remaining[i]) })

	for _, d := range remaining {
		least := leastLoadedWorker(orderedWorkers)
		least.AddDevice(d)
	}

	return workers
}

func leastLoadedWorker(workers []*domain.Worker) *domain.Worker {
	least := workers[0]
	for _, w := range workers[1:] {
		if domain.WorkerByLoadThenCountAscending(w, least) {
			least = w
		}
	}
	return least
}

// getDevicesPerWorker computes the target device count per worker by
// repeatedly taking ⌈remaining_devices / remaining_workers⌉ (spec §4.5,
// e.g. 3 workers, 8 devices → [3, 3, 2]).
func getDevicesPerWorker(workerCount, deviceCount int) []int {
	targets := make([]int, 0, workerCount)
	remainingDevices := deviceCount
	remainingWorkers := workerCount
	for remainingWorkers > 0 {
		target := int(math.Ceil(float64(remainingDevices) / float64(remainingWorkers)))
		targets = append(targets, target)
		remainingDevices -= target
		remainingWorkers--
	}
	return targets
}

func balanceWithCountPerWorker(workers domain.WorkerSet, devices domain.DeviceSet) domain.WorkerSet {
	targets := getDevicesPerWorker(len(workers), len(devices))

	// Ordering uses each worker's *prior* (device_count, min_id) — captured
	// before ResetAssignment — so workers already holding the most devices
	// receive the largest targets (spec §4.5: minimizes churn).
	orderedWorkers := workers.Slice()
	sort.Slice(orderedWorkers, func(i, j int) bool {
		return domain.WorkerByCountThenMinIDDescending(orderedWorkers[i], orderedWorkers[j])
	})

	prior := make(map[string]map[int64]bool, len(workers))
	for identity, w := range workers {
		owned := make(map[int64]bool, len(w.Devices))
		for id := range w.Devices {
			owned[id] = true
		}
		prior[identity] = owned
	}
	for _, w := range orderedWorkers {
		w.ResetAssignment()
	}

	orderedDeviceIDs := make([]int64, 0, len(devices))
	for id := range devices {
		orderedDeviceIDs = append(orderedDeviceIDs, id)
	}
	sort.Slice(orderedDeviceIDs, func(i, j int) bool { return orderedDeviceIDs[i] < orderedDeviceIDs[j] })

	assigned := make(map[int64]bool, len(devices))
	remainingTargets := append([]int(nil), targets...)

	for _, w := range orderedWorkers {
		target := popMax(&remainingTargets)
		owned := prior[w.Identity]
		claimed := 0
		for _, id := range orderedDeviceIDs {
			if claimed >= target {
				break
			}
			if assigned[id] || !owned[id] {
				continue
			}
			w.AddDevice(devices[id])
			assigned[id] = true
			claimed++
		}
	}

	for _, id := range orderedDeviceIDs {
		if assigned[id] {
			continue
		}
		smallest := smallestByCountThenMinID(orderedWorkers)
		smallest.AddDevice(devices[id])
		assigned[id] = true
	}

	return workers
}

func popMax(targets *[]int) int {
	t := *targets
	if len(t) == 0 {
		return 0
	}
	maxIdx := 0
	for i, v := range t {
		if v > t[maxIdx] {
			maxIdx = i
		}
	}
	max := t[maxIdx]
	*targets = append(t[:maxIdx], t[maxIdx+1:]...)
	return max
}

// smallestByCountThenMinID picks the worker with the fewest devices,
// ties broken by smallest min device id — the opposite end of the
// descending (device_count, min_id) ordering used to hand out targets.
func smallestByCountThenMinID(workers []*domain.Worker) *domain.Worker {
	smallest := workers[0]
	for _, w := range workers[1:] {
		if w.DeviceCount() < smallest.DeviceCount() ||
			(w.DeviceCount() == smallest.DeviceCount() && w.MinDeviceID() < smallest.MinDeviceID()) {
			smallest = w
		}
	}
	return smallest
}
