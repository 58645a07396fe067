package coordination

import (
	"context"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WatchChildren installs a persistent watch on path and invokes callback
// with the current child list on every membership change, until ctx is
// cancelled. callback is invoked once immediately with the current children
// before the watch begins, then again on every subsequent change; calls are
// serialized (spec §4.1: "callbacks are serialized per path").
//
// Session re-establishment is handled by the underlying clientv3.Client,
// which re-issues watches transparently on reconnect (spec §4.1's "session
// re-establishment reissues registered watches").
func (c *Client) WatchChildren(ctx context.Context, path string, callback func(children []string)) error {
	prefix := strings.TrimSuffix(path, "/") + "/"

	initial, err := c.Children(ctx, path)
	if err != nil && err != ErrNotFound {
		return err
	}
	callback(initial)

	go func() {
		watchCh := c.cli.Watch(ctx, prefix, clientv3.WithPrefix())
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if resp.Err() != nil {
					c.logger.Warn("coordination: watch error, relying on client auto-reconnect", "path", path, "error", resp.Err())
					continue
				}
				if len(resp.Events) == 0 {
					continue
				}
				children, err := c.Children(ctx, path)
				if err != nil && err != ErrNotFound {
					c.logger.Error("coordination: failed to refresh children after watch event", "path", path, "error", err)
					continue
				}
				callback(children)
			}
		}
	}()

	return nil
}
