// Package domain holds the scheduler's entities: Device, Worker, and the
// Assignment produced by balancing them. Identity and ordering are kept
// explicit rather than leaning on ambient map/struct equality, since Worker
// and Device are compared several different ways depending on context.
package domain

// Device is a logical input channel. Identity is the id alone; msg_count,
// proc_time, and load_index are mutable telemetry attached at balance time.
type Device struct {
	ID           int64
	MsgCount     int64
	ProcTime     float64
	LoadIndex    float64
	Reprocessing bool
}

// NewDevice returns a Device with zeroed telemetry.
func NewDevice(id int64) *Device {
	return &Device{ID: id}
}

// Equal reports identity equality: two devices are the same iff their ids match.
func (d *Device) Equal(other *Device) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.ID == other.ID
}

// ResetTelemetry zeroes the mutable load fields before a fresh fetch_and_reset.
func (d *Device) ResetTelemetry() {
	d.MsgCount = 0
	d.ProcTime = 0
	d.LoadIndex = 0
}

// DeviceByLoadThenID orders devices ascending by (load_index, id), the
// canonical device ordering from spec §3.
func DeviceByLoadThenID(a, b *Device) bool {
	if a.LoadIndex != b.LoadIndex {
		return a.LoadIndex < b.LoadIndex
	}
	return a.ID < b.ID
}

// DeviceByIDAscending orders devices ascending by id only, the order in
// which the count-only balance pass claims devices. That pass sorts raw
// device ids itself and does not call this comparator.
func DeviceByIDAscending(a, b *Device) bool {
	return a.ID < b.ID
}

// DeviceSet is a map keyed by device id, the set representation spec §9
// calls for ("a map from id to entity reference") instead of relying on
// ambient struct hashing.
type DeviceSet map[int64]*Device

// NewDeviceSet builds a DeviceSet from a slice of ids, each starting with
// zeroed telemetry.
func NewDeviceSet(ids []int64) DeviceSet {
	set := make(DeviceSet, len(ids))
	for _, id := range ids {
		set[id] = NewDevice(id)
	}
	return set
}

// Slice returns the devices in the set with no guaranteed order.
func (s DeviceSet) Slice() []*Device {
	out := make([]*Device, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	return out
}

// Equal reports whether two device sets contain exactly the same ids
// (telemetry is not part of set identity).
func (s DeviceSet) Equal(other DeviceSet) bool {
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
