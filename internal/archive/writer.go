package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsportal/qms-realtime/internal/realtime"
)

const insertUpdateSQL = `
	INSERT INTO realtime_updates (id, update_type, department_id, user_id, payload, sent_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// BatchSender is the subset of pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Max buffered rows; excess updates are dropped
}

// DefaultConfig returns default writer settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
	Pending   int
}

// updateRow is one realtime_updates row.
type updateRow struct {
	ID           uuid.UUID
	UpdateType   string
	DepartmentID *string
	UserID       *string
	Payload      json.RawMessage
	SentAt       *time.Time
	ReceivedAt   time.Time
}

// Writer buffers updates and batch-inserts them.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     BatchSender

	queue   *ringQueue[updateRow]
	flushCh chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Serializes flushes so batches are inserted in receive order.
	flushMu sync.Mutex

	metricsMu sync.Mutex
	metrics   Metrics
}

// NewWriter creates a Writer inserting through db.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < cfg.BatchSize {
		cfg.BufferSize = cfg.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Writer{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		queue:   newRingQueue[updateRow](cfg.BufferSize),
		flushCh: make(chan struct{}, 1),
	}
}

// Subscribe registers the writer for every update type.
func (w *Writer) Subscribe(r *realtime.Registry) *realtime.Subscription {
	return r.Subscribe(realtime.AnyUpdate, w.Handle)
}

// Handle buffers u for the next flush. It never blocks on the database.
func (w *Writer) Handle(u realtime.Update) error {
	n, ok := w.queue.push(transform(u))
	if !ok {
		w.metricsMu.Lock()
		w.metrics.Dropped++
		dropped := w.metrics.Dropped
		w.metricsMu.Unlock()

		// Log the first drop and then every 1000th.
		if dropped%1000 == 1 {
			w.logger.Warn("archive buffer full, dropping updates",
				"buffer_size", w.cfg.BufferSize,
				"dropped", dropped,
			)
		}
		return nil
	}

	if n >= w.cfg.BatchSize {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop ends the flush loop and writes whatever is still buffered using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flushAll(ctx)

	w.logger.Info("archive writer stopped", "pending", w.queue.len())
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.metricsMu.Lock()
	m := w.metrics
	w.metricsMu.Unlock()

	m.Pending = w.queue.len()
	return m
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushAll(w.ctx)
		case <-w.flushCh:
			w.flushAll(w.ctx)
		}
	}
}

// flushAll writes buffered rows in BatchSize chunks until the queue is empty
// or an insert fails.
func (w *Writer) flushAll(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		rows := w.queue.drain(w.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}
		if !w.flush(ctx, rows) {
			return
		}
	}
}

// flush inserts one batch. Failed batches are logged and discarded.
func (w *Writer) flush(ctx context.Context, rows []updateRow) bool {
	start := time.Now()

	conflicts, err := w.batchInsert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.metricsMu.Lock()
		w.metrics.Errors++
		w.metricsMu.Unlock()
		return false
	}

	w.metricsMu.Lock()
	w.metrics.Inserts += int64(len(rows) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.metricsMu.Unlock()

	w.logger.Debug("flushed updates",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return true
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []updateRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertUpdateSQL,
			r.ID, r.UpdateType, r.DepartmentID, r.UserID, r.Payload, r.SentAt, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// transform converts an update into a row. Empty ids and a missing server
// timestamp become NULL.
func transform(u realtime.Update) updateRow {
	payload := u.Data
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	receivedAt := u.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	row := updateRow{
		ID:           uuid.New(),
		UpdateType:   string(u.Type),
		DepartmentID: nullable(u.DepartmentID),
		UserID:       nullable(u.UserID),
		Payload:      payload,
		ReceivedAt:   receivedAt.UTC(),
	}
	if !u.Timestamp.IsZero() {
		sentAt := u.Timestamp.UTC()
		row.SentAt = &sentAt
	}
	return row
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
