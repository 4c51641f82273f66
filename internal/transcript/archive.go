package transcript

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/storage"
)

type Config struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Prefix        string
}

// Archive batches exchanges in memory and writes them to the object store as
// parquet files. Record never blocks; Run owns all flushing.
type Archive struct {
	store   storage.ObjectStore
	cfg     Config
	logger  *slog.Logger
	records chan Exchange
	now     func() time.Time

	mu       sync.Mutex
	sequence int
}

func NewArchive(store storage.ObjectStore, cfg Config, logger *slog.Logger) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "transcripts"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		records: make(chan Exchange, cfg.BufferSize),
		now:     time.Now,
	}, nil
}

// Record queues exchange for archiving. It reports false when the buffer is
// full and the exchange was dropped.
func (a *Archive) Record(exchange Exchange) bool {
	if exchange.ID == "" {
		exchange.ID = uuid.NewString()
	}
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = a.now().UTC()
	}
	select {
	case a.records <- exchange:
		return true
	default:
		observability.ObserveArchive("dropped", 1)
		a.logger.Warn("transcript_dropped", slog.String("exchange_id", exchange.ID))
		return false
	}
}

// Run flushes full batches and, every FlushInterval, whatever is pending.
// When ctx is done it drains the buffer, flushes once more and returns.
func (a *Archive) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Exchange, 0, a.cfg.BatchSize)
	for {
		select {
		case exchange := <-a.records:
			pending = append(pending, exchange)
			if len(pending) >= a.cfg.BatchSize {
				a.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				a.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ctx.Done():
			pending = a.drain(pending)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			for start := 0; start < len(pending); start += a.cfg.BatchSize {
				end := min(start+a.cfg.BatchSize, len(pending))
				a.flush(flushCtx, pending[start:end])
			}
			cancel()
			return nil
		}
	}
}

func (a *Archive) drain(pending []Exchange) []Exchange {
	for {
		select {
		case exchange := <-a.records:
			pending = append(pending, exchange)
		default:
			return pending
		}
	}
}

func (a *Archive) flush(ctx context.Context, batch []Exchange) {
	key, err := a.Flush(ctx, batch)
	if err != nil {
		observability.ObserveArchive("failed", len(batch))
		a.logger.Error("transcript_flush_failed", slog.Int("exchanges", len(batch)), slog.String("error", err.Error()))
		return
	}
	observability.ObserveArchive("written", len(batch))
	a.logger.Info("transcript_flushed", slog.Int("exchanges", len(batch)), slog.String("key", key))
}

// Flush writes batch as one parquet object and returns its key.
func (a *Archive) Flush(ctx context.Context, batch []Exchange) (string, error) {
	data, err := EncodeParquet(batch)
	if err != nil {
		return "", err
	}
	key, err := storage.BuildTranscriptKey(a.cfg.Prefix, a.now(), a.nextSequence())
	if err != nil {
		return "", err
	}
	_, err = a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"record-count": strconv.Itoa(len(batch))},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (a *Archive) nextSequence() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	seq := a.sequence
	a.sequence++
	return seq
}
