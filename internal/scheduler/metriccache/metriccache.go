// Package metriccache implements the Metric Cache Client (spec §4.3):
// per-device hash keys "device:{id}" with fields msg_count/proc_time,
// read-and-reset semantics, and optional pipelined batching. Grounded on
// github.com/redis/go-redis/v9 (already the teacher's redis client of
// choice in worker_registry.go's RedisBackend) and on the field contract in
// _examples/original_source/infrastructure/cache.py.
package metriccache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/streamfleet/scheduler/internal/scheduler/domain"
	"github.com/streamfleet/scheduler/pkg/logger"
)

const (
	msgCountField = "msg_count"
	procTimeField = "proc_time"
)

func deviceKey(id int64) string {
	return "device:" + strconv.FormatInt(id, 10)
}

// Client reads and atomically resets per-device counters from Redis. A nil
// Client (or one whose underlying connection is unreachable) is a soft
// failure per spec §4.3: FetchAndReset degrades to all-zero telemetry, and
// the balancer falls through to count-only mode.
type Client struct {
	rdb    *redis.Client
	logger logger.Logger
}

// New wraps an existing *redis.Client. rdb may be nil to model "cache
// library unavailable"; all methods degrade gracefully in that case.
func New(rdb *redis.Client, log logger.Logger) *Client {
	return &Client{rdb: rdb, logger: log}
}

// batch is the pipelined-batch handle returned by BeginBatch.
type batch struct {
	pipe redis.Pipeliner
}

// BeginBatch opens a transactional pipeline (MULTI/EXEC); commands queued on
// the returned batch are buffered and flushed atomically by EndBatch. The
// Client exposes no standalone get, set or increment operations:
// FetchAndReset queues HMGet and HSet commands on a batch directly. A nil
// Client returns a nil batch, which EndBatch treats as a no-op.
func (c *Client) BeginBatch() *batch {
	if c == nil || c.rdb == nil {
		return nil
	}
	return &batch{pipe: c.rdb.TxPipeline()}
}

// EndBatch flushes a batch opened with BeginBatch. A nil batch is a no-op.
func (c *Client) EndBatch(ctx context.Context, b *batch) error {
	if b == nil {
		return nil
	}
	_, err := b.pipe.Exec(ctx)
	return err
}

// FetchAndReset implements balancer.MetricCache: for every device, reads
// (msg_count, proc_time) into the Device, resets its load index, then
// zeroes both fields in the cache. Returns the system-wide totals used for
// the balance mode switch and the load-index formula. The reset-after-read
// race (a worker's write landing between read and reset) is accepted per
// spec §4.3 and §9(a): telemetry is advisory, not accounted.
func (c *Client) FetchAndReset(ctx context.Context, devices domain.DeviceSet) (systemMsgCount int64, interval float64) {
	if c == nil || c.rdb == nil {
		for _, d := range devices {
			d.ResetTelemetry()
		}
		return 0, 0
	}

	b := c.BeginBatch()
	cmds := make(map[int64]*redis.SliceCmd, len(devices))
	for id := range devices {
		cmds[id] = b.pipe.HMGet(ctx, deviceKey(id), msgCountField, procTimeField)
	}
	if err := c.EndBatch(ctx, b); err != nil {
		c.logger.Warn("metriccache: batch fetch failed, treating devices as zero telemetry", "error", err)
		for _, d := range devices {
			d.ResetTelemetry()
		}
		return 0, 0
	}

	reset := c.BeginBatch()
	for id, d := range devices {
		d.ResetTelemetry()
		vals, err := cmds[id].Result()
		if err != nil || len(vals) != 2 {
			continue
		}
		d.MsgCount = parseInt(vals[0])
		d.ProcTime = parseFloat(vals[1])
		systemMsgCount += d.MsgCount
		interval += d.ProcTime

		reset.pipe.HSet(ctx, deviceKey(id), msgCountField, 0, procTimeField, 0)
	}
	if err := c.EndBatch(ctx, reset); err != nil {
		c.logger.Warn("metriccache: batch reset failed, counters may double-count next interval", "error", err)
	}

	return systemMsgCount, interval
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
