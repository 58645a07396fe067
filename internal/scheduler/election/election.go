// Package election wraps the coordination client's leader election so the
// control loop only ever runs on the elected leader (spec §4.7). Grounded on
// _examples/original_source/infrastructure/elector.py's SchedulerElector
// (identity join at a fixed election path, block until won, run the loop,
// propagate the loop's error on exit) and on the teacher's
// distributed.Coordinator Start/Stop idiom for wiring events and logging
// around the underlying primitive.
package election

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/streamfleet/scheduler/internal/scheduler/coordination"
	"github.com/streamfleet/scheduler/pkg/events"
	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/metrics"
)

// LeadershipFlag is a concurrency-safe "am I leader right now" bit, shared
// between the election Driver and the admin server's health endpoint so
// /healthz can report leadership without coupling to the control loop.
type LeadershipFlag struct {
	held atomic.Bool
}

// IsLeader reports whether this replica currently holds leadership.
func (f *LeadershipFlag) IsLeader() bool {
	return f.held.Load()
}

// Runnable is anything the elected leader should run for as long as it holds
// leadership; typically the control loop's Run method.
type Runnable func(ctx context.Context) error

// Driver joins the election at Path under the given identity and runs a
// Runnable for as long as this process holds leadership.
type Driver struct {
	client   *coordination.Client
	path     string
	identity string
	bus      events.EventBus
	logger   logger.Logger
	flag     *LeadershipFlag
}

// New constructs a Driver. An empty identity defaults to "<hostname>:<pid>"
// (spec §4.7: "host+pid or externally supplied"). flag is updated as
// leadership is won and lost; pass a shared instance to expose it elsewhere
// (e.g. the admin server).
func New(client *coordination.Client, path, identity string, bus events.EventBus, flag *LeadershipFlag, log logger.Logger) *Driver {
	if identity == "" {
		identity = defaultIdentity()
	}
	return &Driver{
		client:   client,
		path:     path,
		identity: identity,
		bus:      bus,
		flag:     flag,
		logger:   log,
	}
}

// Identity returns the identity this driver campaigns under.
func (d *Driver) Identity() string {
	return d.identity
}

// Run blocks campaigning for leadership at Path, then runs fn for as long as
// this replica holds it. If fn returns an error, that error propagates to
// the caller (spec §4.7: "if the loop raises, the exception propagates and
// the process exits"); a supervisor is expected to restart the process, at
// which point it rejoins the election and yields leadership to whichever
// replica wins next.
func (d *Driver) Run(ctx context.Context, fn Runnable) error {
	d.logger.Info("joining leader election", "identity", d.identity, "path", d.path)

	return d.client.ElectLeader(ctx, d.path, d.identity, func(leaderCtx context.Context) error {
		d.logger.Info("won leader election", "identity", d.identity)
		d.flag.held.Store(true)
		metrics.IsLeader.Set(1)
		d.publish(leaderCtx, events.LeadershipAcquired)
		defer func() {
			d.flag.held.Store(false)
			metrics.IsLeader.Set(0)
			d.publish(context.Background(), events.LeadershipLost)
		}()

		err := fn(leaderCtx)
		if err != nil {
			d.logger.Error("control loop exited with error, leadership relinquished", "identity", d.identity, "error", err)
		}
		return err
	})
}

func (d *Driver) publish(ctx context.Context, eventType string) {
	if d.bus == nil {
		return
	}
	event := events.NewEventBuilder(eventType).
		WithAggregateID(d.identity).
		Build()
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Warn("election: failed to publish lifecycle event", "type", eventType, "error", err)
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
