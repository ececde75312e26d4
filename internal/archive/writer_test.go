package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmsportal/qms-realtime/internal/realtime"
)

// fakeDB records queued batches and fails every Exec when err is set.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	err     error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b.QueuedQueries)
	err := f.err
	f.mu.Unlock()

	return &fakeResults{n: b.Len(), err: err}
}

func (f *fakeDB) rows() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]any
	for _, b := range f.batches {
		for _, q := range b {
			out = append(out, q.Arguments)
		}
	}
	return out
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	n   int
	i   int
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	if r.i >= r.n {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	r.i++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

func testUpdate(typ realtime.UpdateType, dept string) realtime.Update {
	return realtime.Update{
		Type:         typ,
		Data:         []byte(`{"title":"Deviation DV-88"}`),
		Timestamp:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		DepartmentID: dept,
		UserID:       "u-17",
		ReceivedAt:   time.Date(2024, 5, 1, 8, 0, 1, 0, time.UTC),
	}
}

func TestTransform(t *testing.T) {
	row := transform(testUpdate(realtime.AlertType, "qa"))

	assert.NotEqual(t, uuid.Nil, row.ID)
	assert.Equal(t, "alert", row.UpdateType)
	require.NotNil(t, row.DepartmentID)
	assert.Equal(t, "qa", *row.DepartmentID)
	require.NotNil(t, row.UserID)
	assert.Equal(t, "u-17", *row.UserID)
	assert.JSONEq(t, `{"title":"Deviation DV-88"}`, string(row.Payload))
	require.NotNil(t, row.SentAt)
	assert.True(t, row.SentAt.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	assert.True(t, row.ReceivedAt.Equal(time.Date(2024, 5, 1, 8, 0, 1, 0, time.UTC)))
}

func TestTransform_Nulls(t *testing.T) {
	row := transform(realtime.Update{Type: realtime.DashboardRefreshType})

	assert.Nil(t, row.DepartmentID)
	assert.Nil(t, row.UserID)
	assert.Nil(t, row.SentAt)
	assert.Equal(t, "{}", string(row.Payload))
	assert.False(t, row.ReceivedAt.IsZero())
}

func TestWriter_StopFlushesBuffered(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, db, nil)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Handle(testUpdate(realtime.MetricUpdateType, "qa")))
	require.NoError(t, w.Handle(testUpdate(realtime.AlertType, "")))
	assert.Equal(t, 2, w.Stats().Pending)
	assert.Equal(t, 0, db.batchCount(), "no flush before batch size or interval")

	require.NoError(t, w.Stop(context.Background()))

	rows := db.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "metric_update", rows[0][1])
	assert.Equal(t, "alert", rows[1][1])

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Flushes)
	assert.Equal(t, 0, stats.Pending)
}

func TestWriter_NonPositiveFlushInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		db := &fakeDB{}
		w := NewWriter(Config{BatchSize: 10, FlushInterval: interval, BufferSize: 10}, db, nil)
		assert.Equal(t, DefaultConfig().FlushInterval, w.cfg.FlushInterval)

		require.NoError(t, w.Start(context.Background()))
		require.NoError(t, w.Handle(testUpdate(realtime.AlertType, "qa")))
		require.NoError(t, w.Stop(context.Background()))
		assert.Len(t, db.rows(), 1)
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	for i := 0; i < 3; i++ {
		w.Handle(testUpdate(realtime.UserActivityType, "qa"))
	}

	require.Eventually(t, func() bool { return db.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, db.rows(), 3)
}

func TestWriter_FlushOnInterval(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 100}, db, nil)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	w.Handle(testUpdate(realtime.AlertType, "qa"))

	require.Eventually(t, func() bool { return w.Stats().Inserts == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriter_BufferFullDrops(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 2}, db, nil)

	// Not started: nothing drains the buffer.
	for i := 0; i < 5; i++ {
		assert.NoError(t, w.Handle(testUpdate(realtime.AlertType, "qa")))
	}

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, 2, stats.Pending)
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewWriter(Config{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	w.Handle(testUpdate(realtime.AlertType, "qa"))
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Inserts)
	assert.Equal(t, 0, stats.Pending, "failed batch is discarded")
}

func TestWriter_SubscribeReceivesEveryType(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}, db, nil)

	reg := realtime.NewRegistry(nil)
	sub := w.Subscribe(reg)
	assert.Equal(t, realtime.AnyUpdate, sub.Type())

	reg.Dispatch(testUpdate(realtime.MetricUpdateType, "qa"))
	reg.Dispatch(testUpdate(realtime.DashboardRefreshType, "qa"))
	assert.Equal(t, 2, w.Stats().Pending)

	sub.Cancel()
	reg.Dispatch(testUpdate(realtime.AlertType, "qa"))
	assert.Equal(t, 2, w.Stats().Pending)
}

func TestRingQueue(t *testing.T) {
	q := newRingQueue[int](3)

	for i := 1; i <= 3; i++ {
		n, ok := q.push(i)
		require.True(t, ok)
		assert.Equal(t, i, n)
	}
	_, ok := q.push(4)
	assert.False(t, ok)

	assert.Equal(t, []int{1, 2}, q.drain(2))

	// Wraps around the end of the backing slice.
	q.push(5)
	q.push(6)
	assert.Equal(t, []int{3, 5, 6}, q.drain(0))
	assert.Nil(t, q.drain(0))
	assert.Equal(t, 0, q.len())
}
