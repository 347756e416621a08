package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/models"
)

type fakeNotificationRepo struct {
	mu            sync.Mutex
	nextID        uint
	nextSentID    uint
	notifications map[uint]*models.Notification
	sent          []models.SentMessage
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{notifications: map[uint]*models.Notification{}}
}

func (r *fakeNotificationRepo) CreateNotification(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	n.ID = r.nextID
	cp := *n
	r.notifications[n.ID] = &cp
	return nil
}

func (r *fakeNotificationRepo) GetNotification(_ context.Context, id uint) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *fakeNotificationRepo) UpdateResolution(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifications[n.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *n
	r.notifications[n.ID] = &cp
	return nil
}

func (r *fakeNotificationRepo) AddSentMessages(_ context.Context, msgs []models.SentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.nextSentID++
		m.ID = r.nextSentID
		r.sent = append(r.sent, m)
	}
	return nil
}

func (r *fakeNotificationRepo) ListSentMessages(_ context.Context, notificationID uint) ([]models.SentMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SentMessage
	for _, m := range r.sent {
		if m.NotificationID == notificationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkEdited(_ context.Context, ids []uint, manual bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		for i := range r.sent {
			if r.sent[i].ID == id {
				r.sent[i].IsManuallyEdited = manual
				r.sent[i].IsSystemEdited = !manual
				editedAt := at
				r.sent[i].EditedAt = &editedAt
			}
		}
	}
	return nil
}

func (r *fakeNotificationRepo) get(id uint) models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.notifications[id]
}

func (r *fakeNotificationRepo) sentFor(id uint) []models.SentMessage {
	msgs, _ := r.ListSentMessages(context.Background(), id)
	return msgs
}

type fakeTokenCacheRepo struct {
	mu   sync.Mutex
	rows map[string]models.CachedTokenAddress
}

func newFakeTokenCacheRepo() *fakeTokenCacheRepo {
	return &fakeTokenCacheRepo{rows: map[string]models.CachedTokenAddress{}}
}

func (r *fakeTokenCacheRepo) GetCachedToken(_ context.Context, ticker string) (*models.CachedTokenAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[ticker]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &row, nil
}

func (r *fakeTokenCacheRepo) UpsertCachedToken(_ context.Context, row *models.CachedTokenAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.Ticker] = *row
	return nil
}

func (r *fakeTokenCacheRepo) TouchCachedToken(_ context.Context, ticker string, accessed, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[ticker]
	if !ok {
		return database.ErrNotFound
	}
	if row.ExpiresAt.Before(expires) {
		row.LastAccessed = accessed
		row.ExpiresAt = expires
		r.rows[ticker] = row
	}
	return nil
}

func (r *fakeTokenCacheRepo) DeleteCachedToken(_ context.Context, ticker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[ticker]; !ok {
		return database.ErrNotFound
	}
	delete(r.rows, ticker)
	return nil
}

func (r *fakeTokenCacheRepo) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, row := range r.rows {
		if row.ExpiresAt.Before(now) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenCacheRepo) ListCachedTokens(_ context.Context) ([]models.CachedTokenAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CachedTokenAddress, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

type fakeKnownTokenRepo struct {
	mu        sync.Mutex
	nextID    uint
	tokens    []models.KnownToken
	listCalls int
	listErr   error
}

func (r *fakeKnownTokenRepo) ListKnownTokens(_ context.Context) ([]models.KnownToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]models.KnownToken(nil), r.tokens...), nil
}

func (r *fakeKnownTokenRepo) GetKnownToken(_ context.Context, id uint) (*models.KnownToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeKnownTokenRepo) CreateKnownToken(_ context.Context, token *models.KnownToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Symbol == token.Symbol {
			return database.ErrDuplicateKey
		}
	}
	r.nextID++
	token.ID = r.nextID
	r.tokens = append(r.tokens, *token)
	return nil
}

func (r *fakeKnownTokenRepo) UpdateKnownToken(_ context.Context, token *models.KnownToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tokens {
		if t.ID == token.ID {
			r.tokens[i] = *token
			return nil
		}
	}
	return database.ErrNotFound
}

func (r *fakeKnownTokenRepo) DeleteKnownToken(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tokens {
		if t.ID == id {
			r.tokens = append(r.tokens[:i], r.tokens[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

func (r *fakeKnownTokenRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// fakeGraph implements both UserRepository and TraderRepository.
type fakeGraph struct {
	mu      sync.Mutex
	users   []models.User
	traders []models.Trader
	follows map[[2]uint]time.Time
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{follows: map[[2]uint]time.Time{}}
}

func (g *fakeGraph) addUser(chatID int64, active, autoFollow bool) models.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := models.User{ID: uint(len(g.users) + 1), ChatID: chatID, IsActive: active, AutoFollowNewTraders: autoFollow, JoinedAt: time.Now()}
	g.users = append(g.users, u)
	return u
}

func (g *fakeGraph) addTrader(handle string) models.Trader {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := models.Trader{ID: uint(len(g.traders) + 1), Handle: handle, FirstSeenAt: time.Now(), LastSeenAt: time.Now()}
	g.traders = append(g.traders, t)
	return t
}

func (g *fakeGraph) UpsertUser(_ context.Context, chatID int64, username, firstName string, now time.Time) (*models.User, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.users {
		if g.users[i].ChatID == chatID {
			g.users[i].IsActive = true
			g.users[i].Username = models.StringPtr(username)
			cp := g.users[i]
			return &cp, false, nil
		}
	}
	u := models.User{ID: uint(len(g.users) + 1), ChatID: chatID, Username: models.StringPtr(username),
		FirstName: models.StringPtr(firstName), JoinedAt: now, IsActive: true, AutoFollowNewTraders: true}
	g.users = append(g.users, u)
	return &u, true, nil
}

func (g *fakeGraph) GetUserByChatID(_ context.Context, chatID int64) (*models.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, u := range g.users {
		if u.ChatID == chatID {
			cp := u
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (g *fakeGraph) ListUsers(_ context.Context) ([]models.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.User(nil), g.users...), nil
}

func (g *fakeGraph) ListActiveUsers(_ context.Context) ([]models.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.User
	for _, u := range g.users {
		if u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func (g *fakeGraph) SetUserActive(_ context.Context, chatID int64, active bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.users {
		if g.users[i].ChatID == chatID {
			g.users[i].IsActive = active
			return nil
		}
	}
	return database.ErrNotFound
}

func (g *fakeGraph) SetAutoFollow(_ context.Context, userID uint, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setAutoFollowLocked(userID, enabled)
}

func (g *fakeGraph) setAutoFollowLocked(userID uint, enabled bool) error {
	for i := range g.users {
		if g.users[i].ID == userID {
			g.users[i].AutoFollowNewTraders = enabled
			return nil
		}
	}
	return database.ErrNotFound
}

func (g *fakeGraph) GetTraderByHandle(_ context.Context, handle string) (*models.Trader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.traders {
		if t.Handle == handle {
			cp := t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (g *fakeGraph) GetTraderByID(_ context.Context, id uint) (*models.Trader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.traders {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, database.ErrNotFound
}

func (g *fakeGraph) CreateTrader(_ context.Context, t *models.Trader) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.traders {
		if existing.Handle == t.Handle {
			return database.ErrDuplicateKey
		}
	}
	t.ID = uint(len(g.traders) + 1)
	g.traders = append(g.traders, *t)
	return nil
}

func (g *fakeGraph) TouchTrader(_ context.Context, id uint, seen time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.traders {
		if g.traders[i].ID == id {
			g.traders[i].LastSeenAt = seen
			return nil
		}
	}
	return database.ErrNotFound
}

func (g *fakeGraph) ListTraders(_ context.Context) ([]models.Trader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Trader(nil), g.traders...), nil
}

func (g *fakeGraph) CreateFollow(_ context.Context, userID, traderID uint, at time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := [2]uint{userID, traderID}
	if _, ok := g.follows[key]; ok {
		return false, nil
	}
	g.follows[key] = at
	return true, nil
}

func (g *fakeGraph) DeleteFollow(_ context.Context, userID, traderID uint) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := [2]uint{userID, traderID}
	if _, ok := g.follows[key]; !ok {
		return false, nil
	}
	delete(g.follows, key)
	return true, nil
}

func (g *fakeGraph) FollowExists(_ context.Context, userID, traderID uint) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.follows[[2]uint{userID, traderID}]
	return ok, nil
}

func (g *fakeGraph) FollowerIDs(_ context.Context, traderID uint) ([]uint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []uint
	for _, u := range g.users {
		if _, ok := g.follows[[2]uint{u.ID, traderID}]; ok && u.IsActive {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (g *fakeGraph) FollowedTraders(_ context.Context, userID uint) ([]models.Trader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Trader
	for _, t := range g.traders {
		if _, ok := g.follows[[2]uint{userID, t.ID}]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *fakeGraph) FollowAll(_ context.Context, userID uint, at time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	added := 0
	for _, t := range g.traders {
		key := [2]uint{userID, t.ID}
		if _, ok := g.follows[key]; !ok {
			g.follows[key] = at
			added++
		}
	}
	return added, g.setAutoFollowLocked(userID, true)
}

func (g *fakeGraph) UnfollowAll(_ context.Context, userID uint) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for key := range g.follows {
		if key[0] == userID {
			delete(g.follows, key)
			removed++
		}
	}
	return removed, g.setAutoFollowLocked(userID, false)
}

func (g *fakeGraph) CountFollowers(_ context.Context) (map[uint]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[uint]int{}
	for key := range g.follows {
		out[key[1]]++
	}
	return out, nil
}

type sentText struct {
	ChatID    int64
	MessageID int
	Text      string
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentText
	edits   []sentText
	failFor map[int64]bool
	editErr error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{failFor: map[int64]bool{}}
}

func (m *fakeMessenger) Send(_ context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[chatID] {
		return 0, fmt.Errorf("chat %d blocked the bot", chatID)
	}
	m.nextID++
	m.sent = append(m.sent, sentText{ChatID: chatID, MessageID: m.nextID, Text: text})
	return m.nextID, nil
}

func (m *fakeMessenger) Edit(_ context.Context, chatID int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, sentText{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (m *fakeMessenger) sentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBroadcaster) ofType(t string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeAggregator struct {
	mu      sync.Mutex
	pairs   map[string][]Pair
	err     error
	queries []string
}

func (a *fakeAggregator) Search(_ context.Context, query string) ([]Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, query)
	if a.err != nil {
		return nil, a.err
	}
	return a.pairs[strings.ToUpper(query)], nil
}

func (a *fakeAggregator) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queries)
}

type fakeScanner struct {
	mu      sync.Mutex
	mints   map[string]string
	err     error
	tickers []string
}

func (s *fakeScanner) FindByTicker(_ context.Context, ticker string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers = append(s.tickers, ticker)
	if s.err != nil {
		return "", false, s.err
	}
	mint, ok := s.mints[ticker]
	return mint, ok, nil
}

func (s *fakeScanner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}

type recordingAttempts struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recordingAttempts) RecordAttempt(_ context.Context, a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

var errUpstream = errors.New("upstream unavailable")

func f64(v float64) *float64 { return &v }

func i64(v int64) *int64 { return &v }

func pair(chainID, address string, marketCap, liquidity float64) Pair {
	return Pair{
		ChainID:   chainID,
		DexID:     "raydium",
		BaseToken: Token{Address: address},
		MarketCap: f64(marketCap),
		Liquidity: &Liquidity{Usd: f64(liquidity)},
	}
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
