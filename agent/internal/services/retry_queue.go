package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries        = 1
	DefaultRetryDelay        = 5 * time.Second
	DefaultRetryPollInterval = time.Second
)

type RetryConfig struct {
	MaxRetries   int
	Delay        time.Duration
	PollInterval time.Duration
}

// RetryEntry is an unresolved notification waiting for another lookup.
type RetryEntry struct {
	NotificationID uint      `json:"notificationId"`
	Ticker         string    `json:"ticker"`
	Trader         string    `json:"trader"`
	MarketCap      *int64    `json:"marketCap"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
	RetryCount     int       `json:"retryCount"`
	NextRetryAt    time.Time `json:"nextRetryAt"`
}

type retryResolver interface {
	ResolveForRetry(ctx context.Context, ticker string, marketCap *int64) Resolution
}

type contractApplier interface {
	ApplyContractAddress(ctx context.Context, notificationID uint, update ContractUpdate) (EditResult, error)
}

// RetryQueue gives unresolved notifications a bounded number of second
// chances. The mutex only guards the entry slice; lookups and edits run
// without it.
type RetryQueue struct {
	mu      sync.Mutex
	entries []RetryEntry

	resolver  retryResolver
	applier   contractApplier
	cfg       RetryConfig
	now       func() time.Time
	appLogger *logger.Logger
}

func NewRetryQueue(resolver retryResolver, applier contractApplier, cfg RetryConfig, appLogger *logger.Logger) *RetryQueue {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultRetryPollInterval
	}
	return &RetryQueue{
		resolver:  resolver,
		applier:   applier,
		cfg:       cfg,
		now:       time.Now,
		appLogger: appLogger,
	}
}

// Enqueue schedules the first retry one delay from now.
func (q *RetryQueue) Enqueue(entry RetryEntry) {
	now := q.now().UTC()
	entry.EnqueuedAt = now
	entry.RetryCount = 0
	entry.NextRetryAt = now.Add(q.cfg.Delay)

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	q.appLogger.Info("Enqueued notification for contract address retry",
		zap.Uint("notificationID", entry.NotificationID), zap.String("ticker", entry.Ticker))
}

func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot copies the waiting entries. Entries mid-attempt are not included.
func (q *RetryQueue) Snapshot() []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]RetryEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Run polls for due entries until ctx is done.
func (q *RetryQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.appLogger.Info("Contract address retry queue started",
		zap.Int("maxRetries", q.cfg.MaxRetries), zap.Duration("delay", q.cfg.Delay))
	for {
		select {
		case <-ctx.Done():
			q.appLogger.Info("Contract address retry queue stopped", zap.Int("pending", q.Len()))
			return
		case <-ticker.C:
			q.ProcessDue(ctx)
		}
	}
}

// ProcessDue attempts every entry whose retry time has passed.
func (q *RetryQueue) ProcessDue(ctx context.Context) {
	for _, entry := range q.takeDue() {
		if ctx.Err() != nil {
			q.requeue(entry)
			continue
		}
		q.attempt(ctx, entry)
	}
}

// takeDue removes and returns the due entries.
func (q *RetryQueue) takeDue() []RetryEntry {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []RetryEntry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !now.Before(e.NextRetryAt) {
			due = append(due, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return due
}

func (q *RetryQueue) requeue(entry RetryEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
}

func (q *RetryQueue) attempt(ctx context.Context, entry RetryEntry) {
	fields := []interface{}{zap.Uint("notificationID", entry.NotificationID), zap.String("ticker", entry.Ticker), zap.Int("attempt", entry.RetryCount+1)}

	var res Resolution
	if entry.Ticker != "" && q.resolver != nil {
		res = q.resolver.ResolveForRetry(ctx, entry.Ticker, entry.MarketCap)
	}

	if res.Found() {
		_, err := q.applier.ApplyContractAddress(ctx, entry.NotificationID, ContractUpdate{
			ContractAddress: res.ContractAddress,
			Chain:           res.Chain,
			Kind:            EditSystem,
			Resolution:      &res,
		})
		switch {
		case err == nil:
			q.appLogger.Info("Resolved contract address on retry", append(fields, zap.String("ca", res.ContractAddress))...)
		case errors.Is(err, ErrNotificationNotFound):
			q.appLogger.Warn("Retried notification no longer exists", fields...)
		default:
			q.appLogger.Error("Failed to apply retried contract address", append(fields, zap.Error(err))...)
		}
		return
	}

	entry.RetryCount++
	if entry.RetryCount >= q.cfg.MaxRetries {
		q.appLogger.Info("Giving up on contract address retry", append(fields, zap.Int("maxRetries", q.cfg.MaxRetries))...)
		return
	}
	entry.NextRetryAt = q.now().UTC().Add(q.cfg.Delay)
	q.requeue(entry)
}
