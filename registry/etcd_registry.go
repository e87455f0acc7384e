package registry

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	DefaultRoot = "dubbo"
	DefaultTTL  = 10 // seconds
)

// EtcdRegistry implements Registry on etcd v3. It stores one key per
// published provider URL:
//
//	Key:   /{root}/{interface}/providers/{encodedURL}
//	Value: decoded provider URL
//
// Keys carry a TTL lease kept alive in the background: if the provider dies
// the lease expires and consumers stop seeing it.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	root   string
	ttl    int64

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // Key -> lease, for Unpublish
}

// NewEtcdRegistry connects to the given endpoints.
func NewEtcdRegistry(endpoints []string, root string, ttl int64) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return newEtcdRegistry(c, root, ttl), nil
}

func newEtcdRegistry(c *clientv3.Client, root string, ttl int64) *EtcdRegistry {
	if root == "" {
		root = DefaultRoot
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &EtcdRegistry{
		client: c,
		root:   strings.Trim(root, "/"),
		ttl:    ttl,
		leases: make(map[string]clientv3.LeaseID),
	}
}

func (r *EtcdRegistry) key(s Service) string {
	return "/" + path.Join(r.root, s.Interface, Category, s.URL)
}

// Publish writes every service of the batch under one lease and keeps the
// lease alive until Unpublish or Close.
func (r *EtcdRegistry) Publish(ctx context.Context, batch Batch) error {
	if batch.Type != TypeProvider {
		return errors.New("etcd registry: only provider batches can be published")
	}
	if len(batch.Services) == 0 {
		return nil
	}

	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return err
	}

	ops := make([]clientv3.Op, 0, len(batch.Services))
	keys := make([]string, 0, len(batch.Services))
	for _, s := range batch.Services {
		decoded, err := url.QueryUnescape(s.URL)
		if err != nil {
			return err
		}
		k := r.key(s)
		keys = append(keys, k)
		ops = append(ops, clientv3.OpPut(k, decoded, clientv3.WithLease(lease.ID)))
	}
	if _, err := r.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return err
	}

	// The keep-alive must outlive the publish call's ctx.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	for _, k := range keys {
		r.leases[k] = lease.ID
	}
	r.mu.Unlock()
	return nil
}

// Unpublish deletes the batch's keys and revokes their leases.
func (r *EtcdRegistry) Unpublish(ctx context.Context, batch Batch) error {
	revoke := make(map[clientv3.LeaseID]struct{})
	var errs []error
	for _, s := range batch.Services {
		k := r.key(s)
		if _, err := r.client.Delete(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		r.mu.Lock()
		if id, ok := r.leases[k]; ok {
			revoke[id] = struct{}{}
			delete(r.leases, k)
		}
		r.mu.Unlock()
	}
	for id := range revoke {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers lists the decoded provider URLs currently published for iface.
func (r *EtcdRegistry) Providers(ctx context.Context, iface string) ([]string, error) {
	prefix := "/" + path.Join(r.root, iface, Category) + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		urls = append(urls, string(kv.Value))
	}
	return urls, nil
}

// Close releases the etcd client; outstanding leases stop being renewed.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
