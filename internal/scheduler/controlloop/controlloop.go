// Package controlloop implements the fixed-cadence tick loop (spec §4.6)
// that decides when to rebalance: it refreshes the Device Catalog, reads the
// live worker set from the Mapper, compares against the previous iteration's
// snapshot, and invokes the Balancer whenever membership changed or the
// forced-refresh window has elapsed. Grounded on the teacher's
// distributed.Coordinator rebalanceLoop/healthCheckLoop (ticker + select +
// stopCh + sync.WaitGroup shutdown idiom, internal/services/executor/
// distributed/coordinator.go) and on
// _examples/original_source/infrastructure/scheduler.py's tick body.
package controlloop

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/streamfleet/scheduler/internal/scheduler/balancer"
	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/pkg/events"
	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/metrics"
	"github.com/streamfleet/scheduler/pkg/telemetry"
)

// Catalog is the subset of the Device Catalog the loop needs.
type Catalog interface {
	Refresh(ctx context.Context) []int64
	Snapshot() []int64
}

// Mapper is the subset of the Worker/Device Mapper the loop needs.
type Mapper interface {
	Workers(ctx context.Context) (domain.WorkerSet, error)
	Publish(ctx context.Context, workers domain.WorkerSet) error
}

// Config configures tick cadence and the forced-refresh window (spec §4.6:
// UPDATE_INTERVAL = 30s).
type Config struct {
	TickInterval          time.Duration
	ForcedRefreshInterval time.Duration
	WorkerDeviation       float64
}

// Loop runs the single-threaded control loop described in spec §5: all
// balancing decisions happen on one goroutine, serialized by the tick
// ticker; the only concurrency is the mapper's own watch callback and I/O
// retry timers underneath it.
type Loop struct {
	catalog Catalog
	mapper  Mapper
	cache   balancer.MetricCache
	bus     events.EventBus
	logger  logger.Logger
	tracer  trace.Tracer
	cfg     Config

	mu          sync.RWMutex
	prevDevices domain.DeviceSet
	prevWorkers domain.WorkerSet
	lastBalance time.Time

	onPublish func(domain.WorkerSet)

	stopCh chan struct{}
}

// OnPublish registers a callback invoked with the newly published worker
// set after every successful rebalance; used to fan the result out to the
// admin server's websocket feed.
func (l *Loop) OnPublish(fn func(domain.WorkerSet)) {
	l.onPublish = fn
}

// CurrentAssignment returns the most recently published worker set. Safe to
// call concurrently with Run; used by the admin server to serve /assignment
// without coupling it to the control loop's own goroutine.
func (l *Loop) CurrentAssignment() domain.WorkerSet {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prevWorkers
}

// New constructs a Loop. cache may implement balancer.MetricCache with a
// nil-safe soft-failure mode (see metriccache.Client). tel supplies the
// tracer every tick span is recorded against; pass telemetry.NewNop() to
// disable tracing.
func New(catalog Catalog, mapper Mapper, cache balancer.MetricCache, bus events.EventBus, tel *telemetry.Telemetry, log logger.Logger, cfg Config) *Loop {
	return &Loop{
		catalog: catalog,
		mapper:  mapper,
		cache:   cache,
		bus:     bus,
		logger:  log,
		tracer:  tel.Tracer(),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Run blocks ticking at cfg.TickInterval until ctx is cancelled or Stop is
// called. The first tick always balances and publishes (spec §4.6: "Initial
// iteration always performs a balance and publish").
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("control loop starting", "tick_interval", l.cfg.TickInterval, "forced_refresh_interval", l.cfg.ForcedRefreshInterval)

	if err := l.tick(ctx, true); err != nil {
		return err
	}

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopping: context cancelled")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("control loop stopping: stop requested")
			return nil
		case <-ticker.C:
			if err := l.tick(ctx, false); err != nil {
				return err
			}
		}
	}
}

// Stop requests the loop to return at the next tick boundary.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

func (l *Loop) tick(ctx context.Context, initial bool) error {
	ctx, span := l.tracer.Start(ctx, "controlloop.tick")
	defer span.End()

	l.catalog.Refresh(ctx)
	freshDeviceIDs := l.catalog.Snapshot()
	freshDevices := domain.NewDeviceSet(freshDeviceIDs)

	freshWorkers, err := l.mapper.Workers(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	devicesChanged := !freshDevices.Equal(l.prevDevices)
	workersChanged := !freshWorkers.Equal(l.prevWorkers)
	forced := initial || l.lastBalance.IsZero() || time.Since(l.lastBalance) >= l.cfg.ForcedRefreshInterval

	if !initial && !devicesChanged && !workersChanged && !forced {
		return nil
	}

	trigger := rebalanceTrigger(initial, devicesChanged, workersChanged, forced)
	prevOwner := deviceOwners(l.prevWorkers)
	start := time.Now()

	result := balancer.Balance(ctx, freshWorkers, freshDevices, l.cache, l.cfg.WorkerDeviation)
	balanceSeconds := time.Since(start).Seconds()

	mode := "count_only"
	if hasLoadSignal(result) {
		mode = "load_aware"
	}

	if err := l.mapper.Publish(ctx, result); err != nil {
		span.RecordError(err)
		return err
	}

	churn := churnCount(prevOwner, result)
	metrics.RecordRebalance(trigger, mode, balanceSeconds, churn)
	metrics.LiveWorkerCount.Set(float64(len(result)))
	metrics.LiveDeviceCount.Set(float64(len(freshDevices)))
	for identity, w := range result {
		metrics.WorkerLoadIndex.WithLabelValues(identity).Set(w.LoadIndex)
		metrics.WorkerDeviceCount.WithLabelValues(identity).Set(float64(w.DeviceCount()))
	}

	if l.bus != nil {
		event := events.NewEventBuilder(events.RebalanceCompleted).
			WithPayload("trigger", trigger).
			WithPayload("mode", mode).
			WithPayload("churn", churn).
			WithPayload("worker_count", len(result)).
			WithPayload("device_count", len(freshDevices)).
			Build()
		if err := l.bus.Publish(ctx, event); err != nil {
			l.logger.Warn("control loop: failed to publish rebalance event", "error", err)
		}
	}

	l.logger.Info("rebalance complete",
		"trigger", trigger,
		"mode", mode,
		"churn", churn,
		"workers", len(result),
		"devices", len(freshDevices),
	)

	l.mu.Lock()
	l.prevDevices = freshDevices
	l.prevWorkers = result
	l.mu.Unlock()
	l.lastBalance = time.Now()

	if l.onPublish != nil {
		l.onPublish(result)
	}

	return nil
}

func rebalanceTrigger(initial, devicesChanged, workersChanged, forced bool) string {
	switch {
	case initial:
		return "initial"
	case workersChanged:
		return "workers_changed"
	case devicesChanged:
		return "devices_changed"
	default:
		return "forced_refresh"
	}
}

func hasLoadSignal(workers domain.WorkerSet) bool {
	for _, w := range workers {
		if w.LoadIndex > 0 {
			return true
		}
	}
	return false
}

// deviceOwners maps each device id to the identity of the worker holding it.
// It is taken before balancing, because the balancer mutates the worker set
// in place and the mapper may hand the same set back on later ticks.
func deviceOwners(workers domain.WorkerSet) map[int64]string {
	owners := make(map[int64]string, len(workers)*4)
	for identity, w := range workers {
		for id := range w.Devices {
			owners[id] = identity
		}
	}
	return owners
}

func churnCount(prevOwner map[int64]string, next domain.WorkerSet) int {
	churn := 0
	for identity, w := range next {
		for id := range w.Devices {
			if owner, ok := prevOwner[id]; !ok || owner != identity {
				churn++
			}
		}
	}
	return churn
}
