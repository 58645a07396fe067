// Package mapper implements the Worker/Device Mapper (spec §4.4): it
// watches the coordination store's workers path for membership changes and
// publishes the scheduler's device-per-worker assignment back to it.
// Grounded on _examples/original_source/infrastructure/device_mapper.py's
// WorkerDeviceMapper (ChildrenWatch callback, pre-population of
// worker.devices from prior worker_dev nodes) and on spec §9's preference
// for a queue/channel handoff between the watch callback and the control
// loop over a shared mutex.
package mapper

import (
	"context"
	"fmt"

	"github.com/streamfleet/scheduler/internal/scheduler/coordination"
	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/pkg/logger"
)

// Mapper tracks live workers under WorkerPath and publishes assignments
// under AssignPath.
type Mapper struct {
	client     *coordination.Client
	workerPath string
	assignPath string
	logger     logger.Logger

	// snapshots is a single-slot channel: the watch callback posts the
	// latest worker snapshot, overwriting any undelivered prior snapshot,
	// so the control loop always reads the most recent state rather than
	// a backlog (spec §9: "prefer the queue/channel approach").
	snapshots chan domain.WorkerSet
}

// New constructs a Mapper rooted at the given coordination-store prefix
// (e.g. "/fleet/processing").
func New(client *coordination.Client, pathPrefix string, log logger.Logger) *Mapper {
	return &Mapper{
		client:     client,
		workerPath: pathPrefix + "/workers",
		assignPath: pathPrefix + "/worker_dev",
		logger:     log,
		snapshots:  make(chan domain.WorkerSet, 1),
	}
}

// Start ensures WorkerPath exists and installs the children-watch that
// rebuilds the local worker set, pre-populating each worker's prior
// assignment from AssignPath so the next balance can see existing
// ownership.
func (m *Mapper) Start(ctx context.Context) error {
	if _, err := m.client.Create(ctx, m.workerPath, nil, false); err != nil {
		return fmt.Errorf("mapper: ensure worker path: %w", err)
	}

	return m.client.WatchChildren(ctx, m.workerPath, func(identities []string) {
		workers := domain.NewWorkerSet(identities)
		m.populatePriorAssignments(ctx, workers)
		m.publishSnapshot(workers)
	})
}

// populatePriorAssignments reads each worker's existing assignment node, if
// any, so newly-observed workers (including ones that were already running)
// retain their devices going into the next balance. Missing assignment
// nodes are tolerated (spec §4.4).
func (m *Mapper) populatePriorAssignments(ctx context.Context, workers domain.WorkerSet) {
	for identity, w := range workers {
		var ids []int64
		err := m.client.Get(ctx, m.assignPath+"/"+identity, &ids)
		if err != nil {
			if err != coordination.ErrNotFound {
				m.logger.Warn("mapper: failed to read prior assignment", "worker", identity, "error", err)
			}
			continue
		}
		for _, id := range ids {
			w.Devices[id] = domain.NewDevice(id)
		}
	}
}

func (m *Mapper) publishSnapshot(workers domain.WorkerSet) {
	select {
	case <-m.snapshots:
	default:
	}
	m.snapshots <- workers
}

// Workers returns the most recently observed worker snapshot, blocking
// until at least one has been published.
func (m *Mapper) Workers(ctx context.Context) (domain.WorkerSet, error) {
	select {
	case w := <-m.snapshots:
		m.snapshots <- w
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish deletes AssignPath recursively, then recreates one child per
// worker holding its device id list. The delete-then-create is deliberately
// non-atomic (spec §4.4); readers must tolerate brief absence.
func (m *Mapper) Publish(ctx context.Context, workers domain.WorkerSet) error {
	if _, err := m.client.Delete(ctx, m.assignPath, true); err != nil {
		return fmt.Errorf("mapper: clear assignment path: %w", err)
	}

	for identity, w := range workers {
		ids := make([]int64, 0, len(w.Devices))
		for id := range w.Devices {
			ids = append(ids, id)
		}
		if _, err := m.client.Create(ctx, m.assignPath+"/"+identity, ids, false); err != nil {
			return fmt.Errorf("mapper: publish assignment for %s: %w", identity, err)
		}
	}
	return nil
}
