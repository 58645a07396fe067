package coordination

import (
	"context"
	"fmt"

	"go.etcd.io/etcd/client/v3/concurrency"
)

// ElectLeader joins the election at path under identity and blocks until
// this identity wins. Once won, run is invoked with a context that is
// cancelled the moment leadership is lost (session expiry, connection loss,
// or ctx cancellation); ElectLeader returns once run has returned, wrapping
// run's error with "lost leadership" context when the loss preceded run's
// own error.
//
// Grounded on _examples/original_source/infrastructure/elector.py's
// SchedulerElector, which blocks on kazoo's election.run(self.run) and
// propagates whatever the runnable raises.
func (c *Client) ElectLeader(ctx context.Context, path string, identity string, run func(ctx context.Context) error) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	election := concurrency.NewElection(session, path)

	if err := election.Campaign(ctx, identity); err != nil {
		return fmt.Errorf("coordination: campaign for leadership: %w", err)
	}
	defer func() {
		resignCtx, cancel := context.WithTimeout(context.Background(), c.policy.InitialDelay*3)
		defer cancel()
		_ = election.Resign(resignCtx)
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	done := make(chan error, 1)
	go func() {
		done <- run(runCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-session.Done():
		cancelRun()
		if err := <-done; err != nil {
			return fmt.Errorf("coordination: lost leadership: %w", err)
		}
		return nil
	case <-ctx.Done():
		cancelRun()
		return <-done
	}
}
