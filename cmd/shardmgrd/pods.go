package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
	"github.com/codewandler/shardmgr-go/internal/codec"
)

// podsClient drives the pod control endpoints over HTTP. Every pod
// serves GET /shardmgr/ping plus POST /shardmgr/assign and
// /shardmgr/unassign on its registered address.
type podsClient struct {
	http *http.Client
}

var (
	_ manager.PodsClient = (*podsClient)(nil)
	_ manager.PodHealth  = (*podsClient)(nil)
)

func newPodsClient() *podsClient {
	return &podsClient{
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *podsClient) Ping(ctx context.Context, addr sharding.PodAddress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "ping"), nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %s: status %d", addr, res.StatusCode)
	}
	return nil
}

func (c *podsClient) IsAlive(ctx context.Context, addr sharding.PodAddress) bool {
	return c.Ping(ctx, addr) == nil
}

func (c *podsClient) AssignShards(ctx context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error {
	return c.postShards(ctx, addr, "assign", shards)
}

func (c *podsClient) UnassignShards(ctx context.Context, addr sharding.PodAddress, shards []sharding.ShardID) error {
	return c.postShards(ctx, addr, "unassign", shards)
}

func (c *podsClient) postShards(ctx context.Context, addr sharding.PodAddress, action string, shards []sharding.ShardID) error {
	body, err := codec.Default.Marshal(map[string][]sharding.ShardID{"shards": shards})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, action), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", action, addr, res.StatusCode)
	}
	return nil
}

func (c *podsClient) url(addr sharding.PodAddress, action string) string {
	return "http://" + addr.String() + "/shardmgr/" + action
}
