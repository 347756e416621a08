package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscriptions() (*SubscriptionService, *fakeGraph, *fakeMessenger, *recordingBroadcaster) {
	graph := newFakeGraph()
	messenger := newFakeMessenger()
	broadcaster := &recordingBroadcaster{}
	return NewSubscriptionService(graph, graph, messenger, broadcaster, nil), graph, messenger, broadcaster
}

func TestSubscriptionService_FollowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	user := graph.addUser(100, true, false)
	trader := graph.addTrader("frankdegods")

	created, err := svc.Follow(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Follow(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	assert.False(t, created)

	following, err := svc.IsFollowing(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	assert.True(t, following)
}

func TestSubscriptionService_UnfollowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	user := graph.addUser(100, true, false)
	trader := graph.addTrader("frankdegods")

	removed, err := svc.Unfollow(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = svc.Follow(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	removed, err = svc.Unfollow(ctx, user.ID, trader.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestSubscriptionService_FollowAllThenAgain(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	user := graph.addUser(100, true, false)
	graph.addTrader("a")
	graph.addTrader("b")
	graph.addTrader("c")

	n, err := svc.FollowAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.FollowAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	u, err := svc.User(ctx, 100)
	require.NoError(t, err)
	assert.True(t, u.AutoFollowNewTraders)

	n, err = svc.UnfollowAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	u, err = svc.User(ctx, 100)
	require.NoError(t, err)
	assert.False(t, u.AutoFollowNewTraders)
}

func TestSubscriptionService_FollowersOfSkipsInactiveUsers(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	active := graph.addUser(1, true, false)
	inactive := graph.addUser(2, false, false)
	trader := graph.addTrader("t")

	_, _ = svc.Follow(ctx, active.ID, trader.ID)
	_, _ = svc.Follow(ctx, inactive.ID, trader.ID)

	ids, err := svc.FollowersOf(ctx, trader.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{active.ID}, ids)

	users, err := svc.Followers(ctx, trader.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(1), users[0].ChatID)
}

func TestSubscriptionService_TouchTraderNewTraderBroadcast(t *testing.T) {
	ctx := context.Background()
	svc, graph, messenger, _ := newTestSubscriptions()
	auto := graph.addUser(10, true, true)
	manual := graph.addUser(20, true, false)
	graph.addUser(30, false, true)

	trader, created, err := svc.TouchTrader(ctx, "frankdegods")
	require.NoError(t, err)
	require.True(t, created)

	following, _ := svc.IsFollowing(ctx, auto.ID, trader.ID)
	assert.True(t, following)
	following, _ = svc.IsFollowing(ctx, manual.ID, trader.ID)
	assert.False(t, following)

	autoMsgs := messenger.sentTo(10)
	require.Len(t, autoMsgs, 1)
	assert.Contains(t, autoMsgs[0], "[frankdegods](https://x.com/frankdegods)")
	assert.Contains(t, autoMsgs[0], "auto-follow ON")
	assert.Contains(t, autoMsgs[0], "/unfollow frankdegods or /unfollow 1")

	manualMsgs := messenger.sentTo(20)
	require.Len(t, manualMsgs, 1)
	assert.Contains(t, manualMsgs[0], "NOT following")
	assert.Contains(t, manualMsgs[0], "/follow frankdegods or /follow 1")

	assert.Empty(t, messenger.sentTo(30), "inactive users are not told")
}

func TestSubscriptionService_TouchTraderExisting(t *testing.T) {
	ctx := context.Background()
	svc, graph, messenger, _ := newTestSubscriptions()
	graph.addUser(10, true, true)
	existing := graph.addTrader("frankdegods")

	trader, created, err := svc.TouchTrader(ctx, "frankdegods")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, trader.ID)
	assert.True(t, !trader.LastSeenAt.Before(existing.LastSeenAt))
	assert.Empty(t, messenger.sent)
}

func TestSubscriptionService_FindTrader(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	trader := graph.addTrader("frankdegods")

	byID, err := svc.FindTrader(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, trader.ID, byID.ID)

	byHandle, err := svc.FindTrader(ctx, " @frankdegods ")
	require.NoError(t, err)
	assert.Equal(t, trader.ID, byHandle.ID)

	_, err = svc.FindTrader(ctx, "nobody")
	assert.ErrorIs(t, err, ErrTraderNotFound)
	_, err = svc.FindTrader(ctx, "42")
	assert.ErrorIs(t, err, ErrTraderNotFound)
	_, err = svc.FindTrader(ctx, "")
	assert.ErrorIs(t, err, ErrTraderNotFound)
}

func TestSubscriptionService_FollowByHandle(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, _ := newTestSubscriptions()
	user := graph.addUser(1, true, false)
	graph.addTrader("frankdegods")

	trader, created, err := svc.FollowByHandle(ctx, user.ID, "frankdegods")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "frankdegods", trader.Handle)

	_, removed, err := svc.UnfollowByHandle(ctx, user.ID, "1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, _, err = svc.FollowByHandle(ctx, user.ID, "ghost")
	assert.ErrorIs(t, err, ErrTraderNotFound)
}

func TestSubscriptionService_RegisterFollowsAllAndAnnounces(t *testing.T) {
	ctx := context.Background()
	svc, graph, _, broadcaster := newTestSubscriptions()
	graph.addTrader("a")
	graph.addTrader("b")

	user, created, err := svc.Register(ctx, 555, "alice", "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, user.AutoFollowNewTraders)

	traders, err := svc.FollowedTraders(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, traders, 2)

	joined := broadcaster.ofType(EventUserJoined)
	require.Len(t, joined, 1)
	payload := joined[0].Payload.(map[string]interface{})
	assert.Equal(t, int64(555), payload["chatId"])

	require.NoError(t, svc.SetUserActive(ctx, 555, false))
	_, created, err = svc.Register(ctx, 555, "alice", "Alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, broadcaster.ofType(EventUserJoined), 1)

	u, err := svc.User(ctx, 555)
	require.NoError(t, err)
	assert.True(t, u.IsActive)
}

func TestNewTraderMessage(t *testing.T) {
	msg := newTraderMessage("ansem", 4, true)
	assert.True(t, strings.HasPrefix(msg, "🎯 A new sharp FOMO APP trader, [ansem](https://x.com/ansem), was just added"))
	assert.Contains(t, msg, "Use /autofollow off")

	msg = newTraderMessage("ansem", 4, false)
	assert.Contains(t, msg, "Use /autofollow on")
	assert.NotContains(t, msg, "/unfollow")
}

var _ UserRepository = (*fakeGraph)(nil)
var _ TraderRepository = (*fakeGraph)(nil)
