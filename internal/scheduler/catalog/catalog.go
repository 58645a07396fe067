// Package catalog implements the Device Catalog (spec §4.2): a
// periodically-refreshed, read-only snapshot of enabled+processable device
// ids from the relational source of truth. Grounded on the teacher's
// pkg/database (gorm.io/gorm + gorm.io/driver/postgres connection pooling),
// pkg/ratelimit's TokenBucketLimiter (golang.org/x/time/rate) for the
// refresh self-throttle, pkg/resilience's circuit breaker
// (github.com/sony/gobreaker) around the query itself, and pkg/database's
// DBMonitor (teacher's gorm-callback query/connection-pool instrumentation)
// for the ambient database observability spec.md never names but a
// production Go service in this corpus always carries.
package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/streamfleet/scheduler/pkg/database"
	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/ratelimit"
	"github.com/streamfleet/scheduler/pkg/resilience"
)

// deviceRow mirrors the conceptual query from spec §4.2: devices that are
// enabled AND processable, ordered by id.
type deviceRow struct {
	ID          int64 `gorm:"column:id"`
	Enabled     bool  `gorm:"column:enabled"`
	Processable bool  `gorm:"column:processable"`
}

func (deviceRow) TableName() string { return "device" }

// Catalog holds the last-fetched snapshot of device ids and self-throttles
// refreshes to at most once per UpdateInterval.
type Catalog struct {
	db      *database.DB
	limiter *ratelimit.TokenBucketLimiter
	breaker *resilience.CircuitBreaker
	monitor *database.DBMonitor
	logger  logger.Logger

	mu       sync.RWMutex
	snapshot []int64
}

// New constructs a Catalog backed by db, throttled to at most one refresh
// per refreshIntervalSeconds (spec §4.2: UPDATE_INTERVAL = 30s). Every query
// this Catalog issues is instrumented by a DBMonitor attached at
// construction time; its connection-pool/table-size sampling loop starts
// with Start and stops with Stop.
func New(db *database.DB, refreshIntervalSeconds float64, log logger.Logger) *Catalog {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("device-catalog"))

	zapLog, err := zap.NewProduction()
	if err != nil {
		zapLog = zap.NewNop()
	}
	monitor, err := database.NewDBMonitor(db.DB, zapLog)
	if err != nil {
		log.Warn("catalog: failed to attach database monitor", "error", err)
		monitor = nil
	}

	return &Catalog{
		db:      db,
		limiter: ratelimit.NewTokenBucketLimiter(1.0/refreshIntervalSeconds, 1),
		breaker: breaker,
		monitor: monitor,
		logger:  log,
	}
}

// Start begins the database monitor's periodic connection-pool and
// table-size sampling. A nil monitor (construction failed) is a no-op.
func (c *Catalog) Start(ctx context.Context) error {
	if c.monitor == nil {
		return nil
	}
	return c.monitor.Start(ctx)
}

// Stop halts the database monitor's sampling loop. A nil monitor is a
// no-op.
func (c *Catalog) Stop() {
	if c.monitor == nil {
		return
	}
	c.monitor.Stop()
}

// Snapshot returns the last-fetched set of device ids.
func (c *Catalog) Snapshot() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// Refresh re-queries the relational source, rate-limited to at most once
// per UpdateInterval; calls within the window are no-ops that return the
// cached snapshot. Query failures leave the previous snapshot intact and
// are logged, never propagated (spec §4.2, §7).
func (c *Catalog) Refresh(ctx context.Context) []int64 {
	allowed, err := c.limiter.Allow(ctx, "")
	if err != nil || !allowed {
		return c.Snapshot()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var rows []deviceRow
		err := c.db.WithContext(ctx).
			Where("enabled = ? AND processable = ?", true, true).
			Order("id").
			Find(&rows).Error
		return rows, err
	})
	if err != nil {
		c.logger.Warn("catalog: refresh failed, retaining previous snapshot", "error", err)
		return c.Snapshot()
	}

	rows := result.([]deviceRow)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	c.mu.Lock()
	c.snapshot = ids
	c.mu.Unlock()

	return c.Snapshot()
}
