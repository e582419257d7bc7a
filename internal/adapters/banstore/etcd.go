package banstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	DefaultEtcdPrefix = "/ha-explorer/bans"
	maxCASAttempts    = 10
)

var ErrConflict = errors.New("ban set changed concurrently, giving up")

// EtcdStore keeps the ban set as one JSON document under <prefix>/set. Update
// is a compare-and-swap on the key's mod revision, retried on conflict, so
// several explorer instances can share one ban list.
type EtcdStore struct {
	client *clientv3.Client
	key    string
}

func NewEtcdStore(endpoints []string, prefix string) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	return NewEtcdStoreWithClient(client, prefix), nil
}

func NewEtcdStoreWithClient(client *clientv3.Client, prefix string) *EtcdStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdStore{client: client, key: strings.TrimRight(prefix, "/") + "/set"}
}

func (s *EtcdStore) Close() error { return s.client.Close() }

func (s *EtcdStore) List(ctx context.Context) ([]string, error) {
	addrs, _, err := s.get(ctx)
	return addrs, err
}

func (s *EtcdStore) Update(ctx context.Context, fn func(current []string) ([]string, error)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, rev, err := s.get(ctx)
		if err != nil {
			return err
		}
		next, err := fn(slices.Clone(current))
		if err != nil {
			return err
		}
		data, err := json.Marshal(normalize(next))
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}

		cmp := clientv3.Compare(clientv3.ModRevision(s.key), "=", rev)
		if rev == 0 {
			cmp = clientv3.Compare(clientv3.Version(s.key), "=", 0)
		}
		resp, err := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(s.key, string(data))).Commit()
		if err != nil {
			return fmt.Errorf("etcd txn %q: %w", s.key, err)
		}
		if resp.Succeeded {
			return nil
		}
	}
	return ErrConflict
}

func (s *EtcdStore) get(ctx context.Context) ([]string, int64, error) {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, 0, fmt.Errorf("etcd get %q: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return []string{}, 0, nil
	}
	var addrs []string
	if err := json.Unmarshal(resp.Kvs[0].Value, &addrs); err != nil {
		return nil, 0, fmt.Errorf("unmarshal %q: %w", s.key, err)
	}
	return normalize(addrs), resp.Kvs[0].ModRevision, nil
}
