package manager

import (
	"time"

	"github.com/codewandler/shardmgr-go/core/sharding"
	"github.com/codewandler/shardmgr-go/internal/codec"
)

// Wire format shared by the durable ClusterStorage adapters. Pods are
// stored as a record list (struct map keys do not survive JSON);
// assignments as shard id -> "host:port" with null for unassigned.

type podRecord struct {
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Version      string    `json:"version"`
	RegisteredAt time.Time `json:"registered_at"`
}

type podsDoc struct {
	Pods []podRecord `json:"pods"`
}

// EncodePods serializes a pod registry snapshot.
func EncodePods(pods map[sharding.PodAddress]PodEntry) ([]byte, error) {
	doc := podsDoc{Pods: make([]podRecord, 0, len(pods))}
	for addr, entry := range pods {
		doc.Pods = append(doc.Pods, podRecord{
			Host:         addr.Host,
			Port:         addr.Port,
			Version:      entry.Pod.Version,
			RegisteredAt: entry.RegisteredAt,
		})
	}
	return codec.Default.Marshal(doc)
}

// DecodePods deserializes a pod registry snapshot.
func DecodePods(data []byte) (map[sharding.PodAddress]PodEntry, error) {
	var doc podsDoc
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[sharding.PodAddress]PodEntry, len(doc.Pods))
	for _, rec := range doc.Pods {
		addr := sharding.PodAddress{Host: rec.Host, Port: rec.Port}
		out[addr] = PodEntry{
			Pod:          sharding.Pod{Address: addr, Version: rec.Version},
			RegisteredAt: rec.RegisteredAt,
		}
	}
	return out, nil
}

// EncodeAssignments serializes the shard assignment map.
func EncodeAssignments(assignments map[sharding.ShardID]*sharding.PodAddress) ([]byte, error) {
	doc := make(map[sharding.ShardID]*string, len(assignments))
	for shard, owner := range assignments {
		if owner == nil {
			doc[shard] = nil
			continue
		}
		s := owner.String()
		doc[shard] = &s
	}
	return codec.Default.Marshal(doc)
}

// DecodeAssignments deserializes the shard assignment map.
func DecodeAssignments(data []byte) (map[sharding.ShardID]*sharding.PodAddress, error) {
	var doc map[sharding.ShardID]*string
	if err := codec.Default.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[sharding.ShardID]*sharding.PodAddress, len(doc))
	for shard, owner := range doc {
		if owner == nil {
			out[shard] = nil
			continue
		}
		addr, err := sharding.ParsePodAddress(*owner)
		if err != nil {
			return nil, err
		}
		out[shard] = &addr
	}
	return out, nil
}
