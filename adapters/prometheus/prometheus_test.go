package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManagerMetrics(reg)

	require.NotNil(t, m)

	m.PodCount(3)
	m.UnassignedShards(42)

	timer := m.RebalanceDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.RebalanceCompleted(true, true)
	m.RebalanceCompleted(false, false)
	m.PingFailed()
	m.PersistExhausted("pods")
	m.PersistExhausted("assignments")
	m.EventDropped()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["shardmgr_pods"])
	assert.True(t, names["shardmgr_rebalance_duration_seconds"])
	assert.True(t, names["shardmgr_persist_exhausted_total"])
}

func TestNewMailboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMailboxMetrics(reg)

	require.NotNil(t, m)

	m.RequestSaved(false)
	m.RequestSaved(true)
	m.ReplySaved(true)
	m.ReplySaved(false)
	m.MalformedMessage()
	m.HandlersActive(5)
	m.UnprocessedBatch(17)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["shardmgr_mailbox_requests_total"])
	assert.True(t, names["shardmgr_mailbox_handlers_active"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.Manager)
	require.NotNil(t, m.Mailbox)

	m.Manager.PodCount(1)
	m.Mailbox.RequestSaved(false)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
