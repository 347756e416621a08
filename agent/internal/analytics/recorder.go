package analytics

import (
	"context"
	"time"

	"fomo-relay/agent/internal/services"
	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

const (
	DefaultBatchSize     = 200
	DefaultFlushInterval = 10 * time.Second
	defaultBufferSize    = 2048
)

// AttemptSink persists a batch of attempts.
type AttemptSink interface {
	InsertAttempts(ctx context.Context, attempts []services.Attempt) error
}

// Recorder implements services.AttemptRecorder. Attempts are buffered and
// written in batches by Run; when the buffer is full they are dropped.
type Recorder struct {
	sink          AttemptSink
	buffer        chan services.Attempt
	batchSize     int
	flushInterval time.Duration
	appLogger     *logger.Logger
}

func NewRecorder(sink AttemptSink, batchSize int, flushInterval time.Duration, appLogger *logger.Logger) *Recorder {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Recorder{
		sink:          sink,
		buffer:        make(chan services.Attempt, defaultBufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		appLogger:     appLogger,
	}
}

func (r *Recorder) RecordAttempt(_ context.Context, attempt services.Attempt) {
	select {
	case r.buffer <- attempt:
	default:
		r.appLogger.Debug("Attempt buffer full, dropping", zap.String("ticker", attempt.Ticker))
	}
}

// Run flushes whenever a batch fills or the interval elapses. Pending
// attempts are flushed once more on shutdown.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]services.Attempt, 0, r.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = r.drain(batch)
			// ctx is already cancelled, give the final write its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.flush(flushCtx, batch)
			cancel()
			return
		case a := <-r.buffer:
			batch = append(batch, a)
			if len(batch) >= r.batchSize {
				r.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

func (r *Recorder) drain(batch []services.Attempt) []services.Attempt {
	for {
		select {
		case a := <-r.buffer:
			batch = append(batch, a)
		default:
			return batch
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []services.Attempt) {
	if len(batch) == 0 {
		return
	}
	if err := r.sink.InsertAttempts(ctx, batch); err != nil {
		r.appLogger.Warn("Failed to write resolution attempts", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	r.appLogger.Debug("Wrote resolution attempts", zap.Int("count", len(batch)))
}
