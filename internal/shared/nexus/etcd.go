package nexus

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultSessionTTL  = 30 // seconds
)

// EtcdClient implements Client on top of an etcd cluster. A single
// lease-backed session carries every lock the client holds; losing the lease
// closes Done().
type EtcdClient struct {
	cli     *clientv3.Client
	session *concurrency.Session

	mu    sync.Mutex
	locks map[string]*concurrency.Mutex
}

// Connect dials the cluster and establishes the client session.
func Connect(ctx context.Context, endpoints []string) (*EtcdClient, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultDialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("nexus: connect: %w", err)
	}
	session, err := concurrency.NewSession(cli, concurrency.WithTTL(defaultSessionTTL))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("nexus: session: %w", err)
	}
	return &EtcdClient{
		cli:     cli,
		session: session,
		locks:   make(map[string]*concurrency.Mutex),
	}, nil
}

func (c *EtcdClient) Lock(ctx context.Context, key string) error {
	m := concurrency.NewMutex(c.session, key)
	if err := m.Lock(ctx); err != nil {
		return fmt.Errorf("nexus: lock %s: %w", key, err)
	}
	c.mu.Lock()
	c.locks[key] = m
	c.mu.Unlock()

	// Publish the holder's session id at the lock key itself so watchers
	// can tell who owns the lock.
	if err := c.Put(ctx, key, []byte(c.SessionID())); err != nil {
		return err
	}
	return nil
}

func (c *EtcdClient) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.Put(ctx, key, string(value))
	if err != nil {
		return fmt.Errorf("nexus: put %s: %w", key, err)
	}
	return nil
}

func (c *EtcdClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("nexus: get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (c *EtcdClient) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	resp, err := c.cli.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("nexus: scan %s: %w", prefix, err)
	}
	kvs := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KV{Key: string(kv.Key), Value: kv.Value})
	}
	return kvs, nil
}

func (c *EtcdClient) Watch(ctx context.Context, key string) (<-chan Event, error) {
	wch := c.cli.Watch(ctx, key)
	events := make(chan Event)
	go func() {
		defer close(events)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				select {
				case events <- Event{Key: string(ev.Kv.Key), Value: ev.Kv.Value}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (c *EtcdClient) SessionID() string {
	return fmt.Sprintf("%016x", int64(c.session.Lease()))
}

func (c *EtcdClient) Done() <-chan struct{} {
	return c.session.Done()
}

func (c *EtcdClient) Close() error {
	c.session.Close()
	return c.cli.Close()
}
