package database

import (
	"context"
	"testing"
	"time"

	"fomo-relay/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)

func TestNotificationStore_ResolutionAndEdits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewNotificationStore(db)

	n := &models.Notification{Message: "KLED at $31.2m MC 🟢 @frankdegods bought $9,955.55", Ticker: models.StringPtr("KLED"),
		Trader: models.StringPtr("frankdegods"), SentAt: t0}
	require.NoError(t, store.CreateNotification(ctx, n))
	require.NotZero(t, n.ID)

	require.NoError(t, store.AddSentMessages(ctx, []models.SentMessage{
		{NotificationID: n.ID, ChatID: 10, MessageID: 100, SentAt: t0},
		{NotificationID: n.ID, ChatID: 20, MessageID: 200, SentAt: t0},
	}))

	ca := "KLEDmint111"
	chain := models.ChainSOL
	source := models.SourceHelius
	n.HasCA, n.ContractAddress, n.Chain, n.ContractAddressSource, n.WasRetried = true, &ca, &chain, &source, true
	n.TimesHeliusAPIHit = 1
	require.NoError(t, store.UpdateResolution(ctx, n))

	got, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.HasCA)
	assert.Equal(t, ca, models.StringValue(got.ContractAddress))
	assert.Equal(t, models.ChainSOL, *got.Chain)
	assert.Equal(t, models.SourceHelius, *got.ContractAddressSource)
	assert.True(t, got.WasRetried)

	msgs, err := store.ListSentMessages(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, store.MarkEdited(ctx, []uint{msgs[0].ID, msgs[1].ID}, false, t0.Add(time.Minute)))
	require.NoError(t, store.MarkEdited(ctx, []uint{msgs[0].ID}, true, t0.Add(2*time.Minute)))

	msgs, err = store.ListSentMessages(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsManuallyEdited)
	assert.False(t, msgs[0].IsSystemEdited)
	assert.False(t, msgs[1].IsManuallyEdited)
	assert.True(t, msgs[1].IsSystemEdited)

	views, err := store.RecentNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].RecipientCount)
	assert.True(t, views[0].IsManuallyEdited)
	assert.True(t, views[0].IsSystemEdited)
	require.NotNil(t, views[0].EditedAt)
}

func TestNotificationStore_HasCAMustMatchAddress(t *testing.T) {
	db := setupTestDB(t)
	store := NewNotificationStore(db)

	err := store.CreateNotification(context.Background(), &models.Notification{Message: "x", HasCA: true, SentAt: t0})
	assert.Error(t, err)
}

func TestNotificationStore_UpdateMissing(t *testing.T) {
	db := setupTestDB(t)
	store := NewNotificationStore(db)

	_, err := store.GetNotification(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
	err = store.UpdateResolution(context.Background(), &models.Notification{ID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationStore_TopTickersAndCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewNotificationStore(db)

	add := func(msg, ticker, ca string, at time.Time) {
		n := &models.Notification{Message: msg, Ticker: models.StringPtr(ticker), SentAt: at}
		if ca != "" {
			n.HasCA, n.ContractAddress = true, &ca
		}
		require.NoError(t, store.CreateNotification(ctx, n))
	}
	add("KLED at $1m MC 🟢 @a bought $1", "KLED", "old", t0)
	add("KLED at $1m MC 🔴 @b sold $1", "KLED", "new", t0.Add(time.Hour))
	add("KLED at $1m MC 🟢 @c bought $1", "KLED", "", t0.Add(2*time.Hour))
	add("WIF at $1m MC 🟢 @a bought $1", "WIF", "", t0.Add(time.Hour))
	add("PEPE at $1m MC 🟢 @a bought $1", "PEPE", "", t0.Add(-48*time.Hour))

	top, err := store.TopTickers(ctx, t0.Add(-time.Minute), 20)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, models.TickerActivity{Ticker: "KLED", TotalTrades: 3, BuyCount: 2, SellCount: 1, ContractAddress: "new"}, top[0])
	assert.Equal(t, "WIF", top[1].Ticker)
	assert.Empty(t, top[1].ContractAddress)

	total, withCA, err := store.CountNotifications(ctx, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(2), withCA)
}

func TestTokenCacheStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewTokenCacheStore(db)

	_, err := store.GetCachedToken(ctx, "KLED")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpsertCachedToken(ctx, &models.CachedTokenAddress{Ticker: "KLED", ContractAddress: "first", LastAccessed: t0, ExpiresAt: t0.Add(4 * time.Hour)}))
	require.NoError(t, store.UpsertCachedToken(ctx, &models.CachedTokenAddress{Ticker: "KLED", ContractAddress: "second", LastAccessed: t0, ExpiresAt: t0.Add(4 * time.Hour)}))

	row, err := store.GetCachedToken(ctx, "KLED")
	require.NoError(t, err)
	assert.Equal(t, "second", row.ContractAddress)

	_, err = store.GetCachedToken(ctx, "kled")
	assert.ErrorIs(t, err, ErrNotFound, "ticker lookups are case-sensitive")

	// Touch never moves expiry backward.
	require.NoError(t, store.TouchCachedToken(ctx, "KLED", t0, t0.Add(time.Hour)))
	row, _ = store.GetCachedToken(ctx, "KLED")
	assert.True(t, row.ExpiresAt.Equal(t0.Add(4*time.Hour)))
	require.NoError(t, store.TouchCachedToken(ctx, "KLED", t0.Add(time.Hour), t0.Add(5*time.Hour)))
	row, _ = store.GetCachedToken(ctx, "KLED")
	assert.True(t, row.ExpiresAt.Equal(t0.Add(5*time.Hour)))

	require.NoError(t, store.UpsertCachedToken(ctx, &models.CachedTokenAddress{Ticker: "OLD", ContractAddress: "x", LastAccessed: t0, ExpiresAt: t0.Add(-time.Minute)}))
	removed, err := store.DeleteExpiredTokens(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	rows, err := store.ListCachedTokens(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, store.DeleteCachedToken(ctx, "KLED"))
	assert.ErrorIs(t, store.DeleteCachedToken(ctx, "KLED"), ErrNotFound)
}

func TestKnownTokenStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewKnownTokenStore(db)

	base := models.ChainBASE
	token := &models.KnownToken{Symbol: "KLED", ContractAddress: "0xkled", MinMarketCap: 1_000_000, Chain: &base}
	require.NoError(t, store.CreateKnownToken(ctx, token))
	assert.ErrorIs(t, store.CreateKnownToken(ctx, &models.KnownToken{Symbol: "KLED", ContractAddress: "dup"}), ErrDuplicateKey)

	token.MinMarketCap = 2_000_000
	require.NoError(t, store.UpdateKnownToken(ctx, token))
	got, err := store.GetKnownToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), got.MinMarketCap)
	assert.Equal(t, models.ChainBASE, *got.Chain)

	assert.ErrorIs(t, store.UpdateKnownToken(ctx, &models.KnownToken{ID: 999, Symbol: "X", ContractAddress: "y"}), ErrNotFound)
	require.NoError(t, store.DeleteKnownToken(ctx, token.ID))
	assert.ErrorIs(t, store.DeleteKnownToken(ctx, token.ID), ErrNotFound)
}

func TestUserAndTraderStores(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	users := NewUserStore(db)
	traders := NewTraderStore(db)

	alice, created, err := users.UpsertUser(ctx, 10, "alice", "Alice", t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, alice.AutoFollowNewTraders)
	bob, _, err := users.UpsertUser(ctx, 20, "bob", "Bob", t0)
	require.NoError(t, err)

	require.NoError(t, users.SetUserActive(ctx, 10, false))
	again, created, err := users.UpsertUser(ctx, 10, "alice2", "Alice", t0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, again.IsActive)
	assert.Equal(t, alice.ID, again.ID)
	assert.ErrorIs(t, users.SetUserActive(ctx, 999, true), ErrNotFound)

	frank := &models.Trader{Handle: "frankdegods", FirstSeenAt: t0, LastSeenAt: t0}
	require.NoError(t, traders.CreateTrader(ctx, frank))
	assert.ErrorIs(t, traders.CreateTrader(ctx, &models.Trader{Handle: "frankdegods", FirstSeenAt: t0, LastSeenAt: t0}), ErrDuplicateKey)
	ansem := &models.Trader{Handle: "ansem", FirstSeenAt: t0, LastSeenAt: t0}
	require.NoError(t, traders.CreateTrader(ctx, ansem))

	createdEdge, err := traders.CreateFollow(ctx, alice.ID, frank.ID, t0)
	require.NoError(t, err)
	assert.True(t, createdEdge)
	createdEdge, err = traders.CreateFollow(ctx, alice.ID, frank.ID, t0)
	require.NoError(t, err)
	assert.False(t, createdEdge)

	added, err := traders.FollowAll(ctx, bob.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	ids, err := traders.FollowerIDs(ctx, frank.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{alice.ID, bob.ID}, ids)

	require.NoError(t, users.SetUserActive(ctx, 20, false))
	ids, err = traders.FollowerIDs(ctx, frank.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{alice.ID}, ids, "inactive users are not followers")

	counts, err := traders.CountFollowers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{frank.ID: 2, ansem.ID: 1}, counts)

	removed, err := traders.UnfollowAll(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	bobRow, err := users.GetUserByChatID(ctx, 20)
	require.NoError(t, err)
	assert.False(t, bobRow.AutoFollowNewTraders)

	followed, err := traders.FollowedTraders(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, followed, 1)
	assert.Equal(t, "frankdegods", followed[0].Handle)

	removedEdge, err := traders.DeleteFollow(ctx, alice.ID, frank.ID)
	require.NoError(t, err)
	assert.True(t, removedEdge)
	exists, err := traders.FollowExists(ctx, alice.ID, frank.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}
