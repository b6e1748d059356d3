package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"eoddump/internal/canonical"
	"eoddump/internal/metrics"
	"eoddump/internal/provider"
)

// DB is the subset of *pgxpool.Pool the table sink uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TableOptions configures a TableSink.
type TableOptions struct {
	// Table may be schema qualified.
	Table string
	// Threshold is the number of rows a date needs to count as complete.
	Threshold int
	// Since bounds the watermark scan.
	Since string
}

// DefaultTableOptions mirrors the historical price table.
func DefaultTableOptions() TableOptions {
	return TableOptions{Table: "ts_a_stock_eod_price", Threshold: 1000, Since: "20230501"}
}

// TableSink appends daily stock prices to a relational table. A date counts
// as persisted when it is at or before the watermark: the latest date with
// more than Threshold rows.
type TableSink struct {
	db    DB
	opts  TableOptions
	table string
	log   zerolog.Logger

	mu        sync.Mutex
	loaded    bool
	watermark string
}

// NewTableSink wraps db. Zero-valued options fall back to the defaults.
func NewTableSink(db DB, opts TableOptions, log zerolog.Logger) *TableSink {
	def := DefaultTableOptions()
	if opts.Table == "" {
		opts.Table = def.Table
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.Since == "" {
		opts.Since = def.Since
	}
	return &TableSink{
		db:    db,
		opts:  opts,
		table: pgx.Identifier(strings.Split(opts.Table, ".")).Sanitize(),
		log:   log,
	}
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	// single writer
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureTable creates the price table when missing.
func (s *TableSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol     TEXT    NOT NULL,
			trade_date CHAR(8) NOT NULL,
			open       NUMERIC,
			high       NUMERIC,
			low        NUMERIC,
			close      NUMERIC,
			volume     NUMERIC,
			adj_close  NUMERIC,
			amount     NUMERIC
		)`, s.table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create table: %v", ErrPersistence, err)
	}
	return nil
}

// Watermark returns the latest complete trade date, or "" for an empty table.
// It is queried once and then advanced in memory by Persist.
func (s *TableSink) Watermark(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.watermark, nil
	}
	q := fmt.Sprintf(`
		SELECT COALESCE(max(trade_date), '')
		FROM (
			SELECT trade_date
			FROM %s
			WHERE trade_date > $1
			GROUP BY trade_date
			HAVING count(*) > $2
		) complete_dates`, s.table)
	var wm string
	if err := s.db.QueryRow(ctx, q, s.opts.Since, s.opts.Threshold).Scan(&wm); err != nil {
		return "", fmt.Errorf("%w: query watermark: %v", ErrPersistence, err)
	}
	s.watermark = strings.TrimSpace(wm)
	s.loaded = true
	return s.watermark, nil
}

func (s *TableSink) Exists(ctx context.Context, u provider.Unit) (bool, error) {
	wm, err := s.Watermark(ctx)
	if err != nil {
		return false, err
	}
	return wm != "" && u.End <= wm, nil
}

// Persist appends price records. Rows are not de-duplicated against earlier
// runs; callers consult Exists first.
func (s *TableSink) Persist(ctx context.Context, u provider.Unit, recs []canonical.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	if _, err := s.Watermark(ctx); err != nil {
		return 0, err
	}
	insert := fmt.Sprintf(`
		INSERT INTO %s (symbol, trade_date, open, high, low, close, volume, adj_close, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.table)

	batch := &pgx.Batch{}
	perDate := make(map[string]int)
	for _, r := range recs {
		p, ok := r.(canonical.Price)
		if !ok {
			return 0, fmt.Errorf("%w: %s record in price table", ErrPersistence, r.Kind())
		}
		batch.Queue(insert, p.Symbol, p.TradeDate,
			nullable(p.Open), nullable(p.High), nullable(p.Low), nullable(p.Close),
			nullable(p.Volume), nullable(p.AdjClose), nullable(p.Amount))
		perDate[p.TradeDate]++
	}

	written, err := s.send(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("%w: insert %s: %v", ErrPersistence, u.Key(), err)
	}
	metrics.RowsPersisted.WithLabelValues("table").Add(float64(written))
	s.log.Debug().Str("unit", u.Key()).Int("rows", written).Msg("rows appended")

	s.mu.Lock()
	for d, n := range perDate {
		if n > s.opts.Threshold && d > s.watermark {
			s.watermark = d
		}
	}
	s.mu.Unlock()
	return written, nil
}

func (s *TableSink) send(ctx context.Context, b *pgx.Batch) (int, error) {
	results := s.db.SendBatch(ctx, b)
	written := 0
	var firstErr error
	for i := 0; i < b.Len(); i++ {
		ct, err := results.Exec()
		if err != nil {
			firstErr = err
			break
		}
		written += int(ct.RowsAffected())
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	// the batch runs as one implicit transaction; a failure rolls it all back
	if firstErr != nil {
		return 0, firstErr
	}
	return written, nil
}

// Stocks lists the symbols stored for the watermark date. It seeds per-code
// fallback providers when no listing source answers.
func (s *TableSink) Stocks(ctx context.Context) ([]string, error) {
	wm, err := s.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	if wm == "" {
		return nil, errors.New("no complete trade date in table")
	}
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT DISTINCT symbol FROM %s WHERE trade_date = $1 ORDER BY symbol`, s.table), wm)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// nullable renders a decimal as text so pgx sends it in text format; absent
// values become NULL.
func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
