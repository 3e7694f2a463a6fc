package pebble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/mailbox"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(BackendConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

func TestBackend_Compliance(t *testing.T) {
	mailbox.TestBackendCompliance(t, func(t *testing.T) mailbox.Backend {
		return openTestBackend(t)
	})
}

func TestBackend_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := t.Context()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	b, err := Open(BackendConfig{Path: dir})
	require.NoError(t, err)
	row := mailbox.MessageRow{
		ID:         "req-1",
		Kind:       mailbox.KindRequest,
		Shard:      3,
		EntityType: "counter",
		EntityID:   "counter-1",
		Tag:        "increment",
		PrimaryKey: "order-42",
		RequestID:  "req-1",
		Payload:    []byte(`{"kind":0}`),
	}
	require.NoError(t, b.InsertMessage(ctx, row))
	require.NoError(t, b.InsertReply(ctx, mailbox.ReplyRow{ID: "c1", RequestID: "req-1", Kind: mailbox.ReplyKindChunk, Sequence: 1, Payload: []byte(`{}`)}))
	require.NoError(t, b.Close())

	b, err = Open(BackendConfig{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	got, ok, err := b.GetMessage(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, row, got)

	replies, err := b.RepliesFor(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, replies, 1)

	// new rows keep sorting behind recovered ones
	second := row
	second.ID = "req-2"
	second.RequestID = "req-2"
	second.PrimaryKey = ""
	require.NoError(t, b.InsertMessage(ctx, second))

	rows, err := b.UnprocessedMessages(ctx, []sharding.ShardID{3}, now)
	require.NoError(t, err)
	require.Equal(t, []string{"req-1", "req-2"}, []string{rows[0].ID, rows[1].ID})
}

func TestBackend_StorageIntegration(t *testing.T) {
	b := openTestBackend(t)
	s, err := mailbox.NewStorage(mailbox.StorageOptions{Backend: b})
	require.NoError(t, err)
	ctx := t.Context()

	req := &mailbox.Request{
		RequestID: "req-1",
		To:        mailbox.EntityAddress{Shard: 3, EntityType: "counter", EntityID: "counter-1"},
		Tag:       "increment",
	}
	res, err := s.SaveRequest(ctx, req, "order-42")
	require.NoError(t, err)
	require.IsType(t, mailbox.SaveSuccess{}, res)

	res, err = s.SaveRequest(ctx, req, "order-42")
	require.NoError(t, err)
	require.IsType(t, mailbox.SaveDuplicate{}, res)

	envs, err := s.UnprocessedMessages(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []mailbox.Envelope{req}, envs)
}
