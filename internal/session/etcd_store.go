package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore keeps sessions as etcd keys bound to a lease for expiry. Appends
// are compare-and-swap transactions on the key's mod revision.
type EtcdStore struct {
	client *clientv3.Client
	opts   options
}

// NewEtcdStore creates an etcd-backed session store.
func NewEtcdStore(client *clientv3.Client, opts ...Option) *EtcdStore {
	return &EtcdStore{client: client, opts: newOptions("/sde-proxy/sessions/", opts)}
}

func (s *EtcdStore) key(id string) string {
	return s.opts.prefix + id
}

// Get retrieves a session by ID.
func (s *EtcdStore) Get(ctx context.Context, id string) (*Session, error) {
	resp, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		return nil, fmt.Errorf("etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return s.opts.live(resp.Kvs[0].Value)
}

// History returns the session's turns oldest first.
func (s *EtcdStore) History(ctx context.Context, id string) ([]Turn, error) {
	return historyOf(s.Get(ctx, id))
}

// Append adds a turn, retrying while another writer wins the revision race.
func (s *EtcdStore) Append(ctx context.Context, id string, turn Turn) error {
	key := s.key(id)
	for i := 0; i < maxAppendAttempts; i++ {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("etcd get: %w", err)
		}

		var (
			sess      *Session
			cmp       clientv3.Cmp
			prevLease clientv3.LeaseID
		)
		if len(resp.Kvs) == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			kv := resp.Kvs[0]
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)
			prevLease = clientv3.LeaseID(kv.Lease)
			sess, err = s.opts.live(kv.Value)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		data, err := encode(s.opts.appendTurn(sess, id, turn))
		if err != nil {
			return err
		}

		var putOpts []clientv3.OpOption
		var lease clientv3.LeaseID
		if s.opts.ttl > 0 {
			grant, err := s.client.Grant(ctx, int64(math.Ceil(s.opts.ttl.Seconds())))
			if err != nil {
				return fmt.Errorf("etcd grant: %w", err)
			}
			lease = grant.ID
			putOpts = append(putOpts, clientv3.WithLease(lease))
		}

		txn, err := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, string(data), putOpts...)).Commit()
		if err != nil {
			return fmt.Errorf("etcd txn: %w", err)
		}
		if txn.Succeeded {
			// The key is attached to the new lease; nothing uses the old one.
			if prevLease != clientv3.NoLease && prevLease != lease {
				_, _ = s.client.Revoke(ctx, prevLease)
			}
			return nil
		}
		if lease != 0 {
			_, _ = s.client.Revoke(ctx, lease)
		}
	}
	return ErrConflict
}

// Delete removes a session by ID.
func (s *EtcdStore) Delete(ctx context.Context, id string) error {
	resp, err := s.client.Delete(ctx, s.key(id), clientv3.WithPrevKV())
	if err != nil {
		return fmt.Errorf("etcd delete: %w", err)
	}
	for _, kv := range resp.PrevKvs {
		if kv.Lease != 0 {
			_, _ = s.client.Revoke(ctx, clientv3.LeaseID(kv.Lease))
		}
	}
	return nil
}

// Close closes the client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
