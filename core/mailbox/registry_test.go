package mailbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnregisterShardReplyHandlers_FailsPendingWaits(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := t.Context()

	onShard3 := newRequest("req-1", 3)
	alsoOnShard3 := newRequest("req-2", 3)
	onShard4 := newRequest("req-3", 4)
	for _, req := range []*Request{onShard3, alsoOnShard3, onShard4} {
		_, err := s.SaveRequest(ctx, req, "")
		require.NoError(t, err)
	}

	h1 := s.RegisterReplyHandler(onShard3, func(Reply) {})
	h2 := s.RegisterReplyHandler(alsoOnShard3, func(Reply) {})
	h3 := s.RegisterReplyHandler(onShard4, func(Reply) {})

	s.UnregisterShardReplyHandlers(3)

	require.ErrorIs(t, <-h1.Done(), ErrEntityNotAssigned)
	require.ErrorIs(t, <-h2.Done(), ErrEntityNotAssigned)
	select {
	case <-h3.Done():
		t.Fatal("shard 4 wait must survive")
	default:
	}

	// the stored request is untouched: the new owner replays it
	envs, err := s.UnprocessedMessages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	// failed handlers are gone, later replies reach nobody
	require.NoError(t, s.SaveReply(ctx, &ReplyExit{ID: "x1", RequestID: "req-1", Exit: ExitResult{Success: true}}))
	require.Equal(t, 1, s.registry.size())
}

func TestUnregisterReplyHandler_DropsWithoutResolving(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := t.Context()

	req := newRequest("req-1", 3)
	_, err := s.SaveRequest(ctx, req, "")
	require.NoError(t, err)

	called := false
	h := s.RegisterReplyHandler(req, func(Reply) { called = true })
	s.UnregisterReplyHandler(h)

	require.NoError(t, s.SaveReply(ctx, &ReplyExit{ID: "x1", RequestID: "req-1", Exit: ExitResult{Success: true}}))
	require.False(t, called)
	select {
	case <-h.Done():
		t.Fatal("unregister must not resolve the wait")
	default:
	}
}

func TestRegisterReplyHandler_MultipleWaitersShareTerminal(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := t.Context()

	req := newRequest("req-1", 3)
	_, err := s.SaveRequest(ctx, req, "")
	require.NoError(t, err)

	h1 := s.RegisterReplyHandler(req, func(Reply) {})
	h2 := s.RegisterReplyHandler(req, func(Reply) {})

	require.NoError(t, s.SaveReply(ctx, &ReplyExit{ID: "x1", RequestID: "req-1", Exit: ExitResult{Success: true}}))
	require.NoError(t, <-h1.Done())
	require.NoError(t, <-h2.Done())
	require.Zero(t, s.registry.size())
}
