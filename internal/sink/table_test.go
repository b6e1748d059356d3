package sink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"eoddump/internal/canonical"
	"eoddump/internal/provider"
)

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

type fakeResults struct {
	n      int
	execed int
	failAt int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.execed++
	if r.failAt > 0 && r.execed == r.failAt {
		return pgconn.CommandTag{}, errors.New("duplicate key")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return fakeRow{err: errors.New("not implemented")} }
func (r *fakeResults) Close() error             { return nil }

type fakeDB struct {
	watermark  string
	queryErr   error
	queries    int
	execs      []string
	batches    []*pgx.Batch
	failInsert int
}

func (d *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	d.queries++
	return fakeRow{value: d.watermark, err: d.queryErr}
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.batches = append(d.batches, b)
	return &fakeResults{n: b.Len(), failAt: d.failInsert}
}

func dayRecords(date string, n int) []canonical.Record {
	out := make([]canonical.Record, n)
	for i := range out {
		out[i] = price("S"+strings.Repeat("0", 5)+string(rune('A'+i%26)), date, "1.5")
	}
	return out
}

func TestTableSink_WatermarkQueriedOnce(t *testing.T) {
	// Arrange
	db := &fakeDB{watermark: "20240105"}
	s := NewTableSink(db, TableOptions{}, zerolog.Nop())

	// Act
	stored, err := s.Exists(testContext(t), provider.Day("20240105"))
	require.NoError(t, err)
	fresh, err := s.Exists(testContext(t), provider.Day("20240108"))
	require.NoError(t, err)

	// Assert
	require.True(t, stored)
	require.False(t, fresh)
	require.Equal(t, 1, db.queries)
}

func TestTableSink_EmptyTable(t *testing.T) {
	db := &fakeDB{}
	s := NewTableSink(db, TableOptions{}, zerolog.Nop())

	wm, err := s.Watermark(testContext(t))
	require.NoError(t, err)
	require.Empty(t, wm)
	ok, err := s.Exists(testContext(t), provider.Day("20230502"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableSink_PersistAdvancesWatermark(t *testing.T) {
	db := &fakeDB{watermark: "20240105"}
	s := NewTableSink(db, TableOptions{Threshold: 3}, zerolog.Nop())

	// below threshold: appended but not complete
	n, err := s.Persist(testContext(t), provider.Day("20240108"), dayRecords("20240108", 3))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	ok, err := s.Exists(testContext(t), provider.Day("20240108"))
	require.NoError(t, err)
	require.False(t, ok)

	n, err = s.Persist(testContext(t), provider.Day("20240109"), dayRecords("20240109", 4))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	ok, err = s.Exists(testContext(t), provider.Day("20240109"))
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, db.batches, 2)
	q := db.batches[1].QueuedQueries[0]
	require.Contains(t, q.SQL, `INSERT INTO "ts_a_stock_eod_price"`)
	require.Equal(t, "20240109", q.Arguments[1])
	require.Nil(t, q.Arguments[2], "absent open is NULL")
	require.Equal(t, "1.5", q.Arguments[5])
}

func TestTableSink_InsertFailure(t *testing.T) {
	// Arrange
	db := &fakeDB{failInsert: 2}
	s := NewTableSink(db, TableOptions{Threshold: 1}, zerolog.Nop())

	// Act
	n, err := s.Persist(testContext(t), provider.Day("20240108"), dayRecords("20240108", 3))

	// Assert: the whole batch rolls back, so nothing counts as written.
	require.ErrorIs(t, err, ErrPersistence)
	require.Zero(t, n)
	stored, err := s.Exists(testContext(t), provider.Day("20240108"))
	require.NoError(t, err)
	require.False(t, stored)
}

func TestTableSink_WatermarkError(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("connection refused")}
	s := NewTableSink(db, TableOptions{}, zerolog.Nop())

	_, err := s.Exists(testContext(t), provider.Day("20240108"))
	require.ErrorIs(t, err, ErrPersistence)
}

func TestTableSink_EnsureTableQualifiedName(t *testing.T) {
	db := &fakeDB{}
	s := NewTableSink(db, TableOptions{Table: "market.eod"}, zerolog.Nop())

	require.NoError(t, s.EnsureTable(testContext(t)))
	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0], `CREATE TABLE IF NOT EXISTS "market"."eod"`)
}

func TestTableSink_RejectsWeights(t *testing.T) {
	s := NewTableSink(&fakeDB{}, TableOptions{}, zerolog.Nop())
	_, err := s.Persist(testContext(t), provider.Day("20240108"), []canonical.Record{
		canonical.Weight{IndexCode: "000300.SH", ConstituentCode: "600000.SH", TradeDate: "20240108"},
	})
	require.ErrorIs(t, err, ErrPersistence)
}
