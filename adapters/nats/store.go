package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

const (
	keyPods        = "pods"
	keyAssignments = "assignments"
)

type ClusterStoreConfig struct {
	Connect Connector
	// Bucket names the key-value bucket, default "shardmgr_cluster".
	Bucket string
}

// ClusterStore is a manager.ClusterStorage backed by a JetStream
// key-value bucket with the two keys "pods" and "assignments".
type ClusterStore struct {
	kv    jetstream.KeyValue
	close closeFunc
}

var _ manager.ClusterStorage = (*ClusterStore)(nil)

func NewClusterStore(ctx context.Context, cfg ClusterStoreConfig) (*ClusterStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "shardmgr_cluster"
	}

	nc, release, err := doConnect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		release()
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return &ClusterStore{kv: kv, close: release}, nil
}

func (s *ClusterStore) Close() {
	s.close()
}

func (s *ClusterStore) GetPods(ctx context.Context) (map[sharding.PodAddress]manager.PodEntry, error) {
	data, ok, err := s.get(ctx, keyPods)
	if err != nil || !ok {
		return map[sharding.PodAddress]manager.PodEntry{}, err
	}
	return manager.DecodePods(data)
}

func (s *ClusterStore) SavePods(ctx context.Context, pods map[sharding.PodAddress]manager.PodEntry) error {
	data, err := manager.EncodePods(pods)
	if err != nil {
		return err
	}
	return s.put(ctx, keyPods, data)
}

func (s *ClusterStore) GetAssignments(ctx context.Context) (map[sharding.ShardID]*sharding.PodAddress, error) {
	data, ok, err := s.get(ctx, keyAssignments)
	if err != nil || !ok {
		return map[sharding.ShardID]*sharding.PodAddress{}, err
	}
	return manager.DecodeAssignments(data)
}

func (s *ClusterStore) SaveAssignments(ctx context.Context, assignments map[sharding.ShardID]*sharding.PodAddress) error {
	data, err := manager.EncodeAssignments(assignments)
	if err != nil {
		return err
	}
	return s.put(ctx, keyAssignments, data)
}

func (s *ClusterStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (s *ClusterStore) put(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
