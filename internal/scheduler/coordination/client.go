// Package coordination implements the hierarchical coordination-store
// contract from spec §4.1 (create/get/set/children/delete/watchChildren/
// electLeader) against go.etcd.io/etcd, grounded on the teacher's
// EtcdBackend in internal/services/executor/distributed/worker_registry.go.
// Paths become '/'-delimited etcd keys; "directories" are key prefixes;
// ephemeral nodes are keys bound to a lease kept alive for the session's
// lifetime; watches and leader election use clientv3 and
// clientv3/concurrency directly.
package coordination

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/streamfleet/scheduler/pkg/logger"
	"github.com/streamfleet/scheduler/pkg/resilience"
)

// Config configures the etcd-backed coordination client.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	// SessionTTL is the lease TTL backing ephemeral nodes and the
	// leader-election session. It is truncated to whole seconds; a value
	// under one second falls back to 60 seconds.
	SessionTTL time.Duration
	// RetryPolicy governs retries for transient faults on every operation.
	// Zero value resolves to resilience.DefaultRetryPolicy().
	RetryPolicy resilience.RetryPolicy
}

// Client is the coordination-store client. One Client wraps one etcd
// session; ephemeral nodes created through it all share that session's
// lease, so they all disappear together on process exit or session loss,
// matching spec §5's "ephemeral session nodes disappear naturally".
type Client struct {
	cli    *clientv3.Client
	logger logger.Logger
	policy resilience.RetryPolicy

	mu      sync.Mutex
	session *concurrency.Session
}

// New dials etcd and establishes the coordination session.
func New(cfg Config, log logger.Logger) (*Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("coordination: connect etcd: %w", err)
	}

	policy := cfg.RetryPolicy
	if policy.InitialDelay == 0 && policy.MaxDelay == 0 {
		policy = resilience.DefaultRetryPolicy()
	}

	ttl := int(cfg.SessionTTL.Seconds())
	if ttl <= 0 {
		ttl = 60
	}
	session, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("coordination: establish session: %w", err)
	}

	return &Client{cli: cli, logger: log, policy: policy, session: session}, nil
}

// Close releases the session and the underlying etcd client.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != nil {
		session.Close()
	}
	return c.cli.Close()
}

func (c *Client) leaseID() clientv3.LeaseID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Lease()
}

// Create writes value at path. Returns true if the key did not previously
// exist (and was therefore created), false if it already existed. When
// ephemeral is true, the key is bound to the client's session lease.
// Intermediate path segments need no separate creation: etcd keys are flat,
// "directories" are just common prefixes.
func (c *Client) Create(ctx context.Context, path string, value interface{}, ephemeral bool) (bool, error) {
	frame, err := encodeValue(value)
	if err != nil {
		return false, err
	}

	var created bool
	err = resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		var putOpts []clientv3.OpOption
		if ephemeral {
			putOpts = append(putOpts, clientv3.WithLease(c.leaseID()))
		}

		txn := c.cli.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
			Then(clientv3.OpPut(path, string(frame), putOpts...)).
			Else(clientv3.OpGet(path))
		resp, err := txn.Commit()
		if err != nil {
			return fmt.Errorf("coordination: create %s: %w", path, err)
		}
		created = resp.Succeeded
		return nil
	})
	return created, err
}

// Set overwrites path with value, creating it (non-ephemeral) if absent.
func (c *Client) Set(ctx context.Context, path string, value interface{}) error {
	frame, err := encodeValue(value)
	if err != nil {
		return err
	}
	return resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.cli.Put(ctx, path, string(frame))
		if err != nil {
			return fmt.Errorf("coordination: set %s: %w", path, err)
		}
		return nil
	})
}

// Get decodes the value at path into v, or returns ErrNotFound.
func (c *Client) Get(ctx context.Context, path string, v interface{}) error {
	return resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.cli.Get(ctx, path)
		if err != nil {
			return fmt.Errorf("coordination: get %s: %w", path, err)
		}
		if len(resp.Kvs) == 0 {
			return ErrNotFound
		}
		return decodeValue(resp.Kvs[0].Value, v)
	})
}

// Children lists the immediate child names of path, or returns ErrNotFound
// if path has no children.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	var names []string
	err := resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		prefix := strings.TrimSuffix(path, "/") + "/"
		resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
		if err != nil {
			return fmt.Errorf("coordination: children %s: %w", path, err)
		}
		names = immediateChildren(prefix, resp.Kvs)
		if len(names) == 0 {
			return ErrNotFound
		}
		return nil
	})
	return names, err
}

func immediateChildren(prefix string, kvs []*mvccpb.KeyValue) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, kv := range kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if rest == "" {
			continue
		}
		name := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name = rest[:idx]
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Delete removes path. If recursive, every key under path is removed too;
// otherwise Delete returns false without deleting anything if path has
// children.
func (c *Client) Delete(ctx context.Context, path string, recursive bool) (bool, error) {
	var deleted bool
	err := resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		if recursive {
			prefix := strings.TrimSuffix(path, "/") + "/"
			if _, err := c.cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
				return fmt.Errorf("coordination: delete %s: %w", path, err)
			}
			if _, err := c.cli.Delete(ctx, path); err != nil {
				return fmt.Errorf("coordination: delete %s: %w", path, err)
			}
			deleted = true
			return nil
		}

		children, err := c.Children(ctx, path)
		if err != nil && err != ErrNotFound {
			return err
		}
		if len(children) > 0 {
			deleted = false
			return nil
		}
		if _, err := c.cli.Delete(ctx, path); err != nil {
			return fmt.Errorf("coordination: delete %s: %w", path, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}
