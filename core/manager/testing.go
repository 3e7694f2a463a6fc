package manager

import (
	"context"
	"sync"

	"github.com/codewandler/shardmgr-go/core/sharding"
)

// FakePodsClient is a scriptable PodsClient for tests. It records every
// call and lets tests fail specific pods.
type FakePodsClient struct {
	mu sync.Mutex

	// FailPing/FailAssign/FailUnassign make the respective call fail for
	// the listed addresses.
	failPing     map[sharding.PodAddress]error
	failAssign   map[sharding.PodAddress]error
	failUnassign map[sharding.PodAddress]error

	assigned   map[sharding.PodAddress][]sharding.ShardID
	unassigned map[sharding.PodAddress][]sharding.ShardID
	pings      []sharding.PodAddress
}

func NewFakePodsClient() *FakePodsClient {
	return &FakePodsClient{
		failPing:     map[sharding.PodAddress]error{},
		failAssign:   map[sharding.PodAddress]error{},
		failUnassign: map[sharding.PodAddress]error{},
		assigned:     map[sharding.PodAddress][]sharding.ShardID{},
		unassigned:   map[sharding.PodAddress][]sharding.ShardID{},
	}
}

func (f *FakePodsClient) FailPing(addr sharding.PodAddress, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failPing, addr)
		return
	}
	f.failPing[addr] = err
}

func (f *FakePodsClient) FailAssign(addr sharding.PodAddress, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failAssign, addr)
		return
	}
	f.failAssign[addr] = err
}

func (f *FakePodsClient) FailUnassign(addr sharding.PodAddress, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failUnassign, addr)
		return
	}
	f.failUnassign[addr] = err
}

func (f *FakePodsClient) Ping(_ context.Context, addr sharding.PodAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, addr)
	return f.failPing[addr]
}

func (f *FakePodsClient) AssignShards(_ context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failAssign[addr]; err != nil {
		return err
	}
	f.assigned[addr] = append(f.assigned[addr], shards...)
	return nil
}

func (f *FakePodsClient) UnassignShards(_ context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failUnassign[addr]; err != nil {
		return err
	}
	f.unassigned[addr] = append(f.unassigned[addr], shards...)
	return nil
}

// Assigned returns all shards assigned to addr via AssignShards.
func (f *FakePodsClient) Assigned(addr sharding.PodAddress) []sharding.ShardID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sharding.ShardID, len(f.assigned[addr]))
	copy(out, f.assigned[addr])
	return out
}

// Unassigned returns all shards taken from addr via UnassignShards.
func (f *FakePodsClient) Unassigned(addr sharding.PodAddress) []sharding.ShardID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sharding.ShardID, len(f.unassigned[addr]))
	copy(out, f.unassigned[addr])
	return out
}

var _ PodsClient = (*FakePodsClient)(nil)

// FakePodHealth is a PodHealth for tests; pods are alive unless marked dead.
type FakePodHealth struct {
	mu   sync.Mutex
	dead map[sharding.PodAddress]bool
}

func NewFakePodHealth() *FakePodHealth {
	return &FakePodHealth{dead: map[sharding.PodAddress]bool{}}
}

func (f *FakePodHealth) SetDead(addr sharding.PodAddress, dead bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[addr] = dead
}

func (f *FakePodHealth) IsAlive(_ context.Context, addr sharding.PodAddress) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[addr]
}

var _ PodHealth = (*FakePodHealth)(nil)
