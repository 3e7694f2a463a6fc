// Package redis persists cluster state in Redis for deployments that
// already run one: the pod registry and the shard assignment map are
// stored as two JSON values.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

type ClusterStoreConfig struct {
	// Addr is the Redis host:port, default "localhost:6379".
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces the two state keys, default "shardmgr".
	KeyPrefix string
}

// ClusterStore is a manager.ClusterStorage backed by Redis.
type ClusterStore struct {
	client *redis.Client
	prefix string
}

var _ manager.ClusterStorage = (*ClusterStore)(nil)

func NewClusterStore(ctx context.Context, cfg ClusterStoreConfig) (*ClusterStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "shardmgr"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return &ClusterStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *ClusterStore) Close() error {
	return s.client.Close()
}

func (s *ClusterStore) keyPods() string        { return s.prefix + ":pods" }
func (s *ClusterStore) keyAssignments() string { return s.prefix + ":assignments" }

func (s *ClusterStore) GetPods(ctx context.Context) (map[sharding.PodAddress]manager.PodEntry, error) {
	data, err := s.client.Get(ctx, s.keyPods()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[sharding.PodAddress]manager.PodEntry{}, nil
		}
		return nil, fmt.Errorf("get pods: %w", err)
	}
	return manager.DecodePods(data)
}

func (s *ClusterStore) SavePods(ctx context.Context, pods map[sharding.PodAddress]manager.PodEntry) error {
	data, err := manager.EncodePods(pods)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyPods(), data, 0).Err(); err != nil {
		return fmt.Errorf("save pods: %w", err)
	}
	return nil
}

func (s *ClusterStore) GetAssignments(ctx context.Context) (map[sharding.ShardID]*sharding.PodAddress, error) {
	data, err := s.client.Get(ctx, s.keyAssignments()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[sharding.ShardID]*sharding.PodAddress{}, nil
		}
		return nil, fmt.Errorf("get assignments: %w", err)
	}
	return manager.DecodeAssignments(data)
}

func (s *ClusterStore) SaveAssignments(ctx context.Context, assignments map[sharding.ShardID]*sharding.PodAddress) error {
	data, err := manager.EncodeAssignments(assignments)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyAssignments(), data, 0).Err(); err != nil {
		return fmt.Errorf("save assignments: %w", err)
	}
	return nil
}
