package domain

// Worker is a live member of the processing fleet. Identity is the opaque
// identity string assigned by the worker itself on registration; LoadIndex
// is derived (the sum of assigned devices' load indexes).
type Worker struct {
	Identity  string
	Devices   DeviceSet
	LoadIndex float64
}

// NewWorker returns an empty Worker ready to receive device assignments.
func NewWorker(identity string) *Worker {
	return &Worker{Identity: identity, Devices: make(DeviceSet)}
}

// Equal reports identity equality: two workers are the same iff their
// identities match.
func (w *Worker) Equal(other *Worker) bool {
	if w == nil || other == nil {
		return w == other
	}
	return w.Identity == other.Identity
}

// DeviceCount returns the number of devices currently assigned.
func (w *Worker) DeviceCount() int {
	return len(w.Devices)
}

// Contains reports whether deviceID is currently assigned to this worker.
func (w *Worker) Contains(deviceID int64) bool {
	_, ok := w.Devices[deviceID]
	return ok
}

// AddDevice assigns d to the worker and accumulates its load index.
func (w *Worker) AddDevice(d *Device) {
	w.Devices[d.ID] = d
	w.LoadIndex += d.LoadIndex
}

// ResetAssignment clears the worker's device set and load index, keeping
// identity. Used at the start of each balancing pass before devices are
// reassigned.
func (w *Worker) ResetAssignment() {
	w.Devices = make(DeviceSet)
	w.LoadIndex = 0
}

// MinDeviceID returns the smallest device id currently assigned, or 0 if the
// worker holds no devices (spec §4.5: "ValueError on empty sets treated as
// min_id = 0").
func (w *Worker) MinDeviceID() int64 {
	if len(w.Devices) == 0 {
		return 0
	}
	var min int64 = -1
	for id := range w.Devices {
		if min == -1 || id < min {
			min = id
		}
	}
	return min
}

// WorkerSet is a map keyed by worker identity.
type WorkerSet map[string]*Worker

// NewWorkerSet builds a WorkerSet from a slice of identities.
func NewWorkerSet(identities []string) WorkerSet {
	set := make(WorkerSet, len(identities))
	for _, id := range identities {
		set[id] = NewWorker(id)
	}
	return set
}

// Slice returns the workers in the set with no guaranteed order.
func (s WorkerSet) Slice() []*Worker {
	out := make([]*Worker, 0, len(s))
	for _, w := range s {
		out = append(out, w)
	}
	return out
}

// Equal reports whether two worker sets contain exactly the same identities.
func (s WorkerSet) Equal(other WorkerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

// WorkerByLoadThenCountAscending orders workers ascending by (load_index,
// device_count), the load-aware ordering used to pick the least-loaded
// worker during the leftover assignment pass.
func WorkerByLoadThenCountAscending(a, b *Worker) bool {
	if a.LoadIndex != b.LoadIndex {
		return a.LoadIndex < b.LoadIndex
	}
	return a.DeviceCount() < b.DeviceCount()
}

// WorkerByCountThenMinIDDescending orders workers descending by
// (device_count, min_device_id), used to assign the largest count-only
// targets to the workers that already hold the most devices.
func WorkerByCountThenMinIDDescending(a, b *Worker) bool {
	if a.DeviceCount() != b.DeviceCount() {
		return a.DeviceCount() > b.DeviceCount()
	}
	return a.MinDeviceID() > b.MinDeviceID()
}

// Assignment is the published mapping from worker identity to the set of
// device ids it owns.
type Assignment map[string][]int64
