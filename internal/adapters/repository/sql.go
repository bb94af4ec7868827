package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/pkg/logger"
	"github.com/okian/pagespeed/pkg/metrics"
)

// Dialect names a supported SQL backend.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DefaultSQLitePath is used when the sqlite DSN is empty.
const DefaultSQLitePath = "./data/pagespeed.db"

const table = "score_results"

// sqliteTimeLayout is fixed-width so TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var columns = []string{
	"id", "url", "device",
	"performance_score", "accessibility_score", "best_practices_score", "seo_score", "pwa_score",
	"first_contentful_paint", "largest_contentful_paint", "cumulative_layout_shift",
	"time_to_interactive", "total_blocking_time", "speed_index",
	"full_report", "created_at",
}

// SQLStore persists results through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	opts    options
}

var _ Store = (*SQLStore)(nil)

// Open connects to dsn with the given dialect and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = openSQLite(dsn)
	case DialectPostgres:
		if dsn == "" {
			return nil, errors.New("database DSN is required for postgres")
		}
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}
	return NewSQLStore(db, dialect, opts...)
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if path := sqliteFilePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL + busy timeout; single writer.
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// sqliteFilePath returns the on-disk path of a sqlite DSN, or "" for in-memory databases.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}

// NewSQLStore wraps an open database. The caller keeps ownership of db until Close.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) (*SQLStore, error) {
	sb := sq.StatementBuilder
	switch dialect {
	case DialectSQLite:
		sb = sb.PlaceholderFormat(sq.Question)
	case DialectPostgres:
		sb = sb.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, dialect)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLStore{db: db, dialect: dialect, sb: sb, opts: o}, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Insert implements Store.
func (s *SQLStore) Insert(ctx context.Context, r *model.ScoreResult) error {
	start := time.Now()
	defer func() {
		metrics.RecordPersistenceLatency(float64(time.Since(start).Milliseconds()))
	}()

	id := uuid.NewString()
	createdAt := s.opts.now().UTC()

	var report any
	if len(r.FullReport) > 0 {
		report = r.FullReport
	}

	query, args, err := s.sb.Insert(table).Columns(columns...).Values(
		id, r.URL, string(r.Device),
		r.PerformanceScore, r.AccessibilityScore, r.BestPracticesScore, r.SEOScore, r.PWAScore,
		r.FirstContentfulPaint, r.LargestContentfulPaint, r.CumulativeLayoutShift,
		r.TimeToInteractive, r.TotalBlockingTime, r.SpeedIndex,
		report, s.timeValue(createdAt),
	).ToSql()
	if err != nil {
		metrics.RecordPersistenceWrite(metrics.OutcomeError)
		return wrapPersist(fmt.Errorf("build insert: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		metrics.RecordPersistenceWrite(metrics.OutcomeError)
		s.opts.logger.Error(ctx, "failed to insert score result",
			logger.String("url", r.URL),
			logger.String("device", string(r.Device)),
			logger.Error(err),
		)
		return wrapPersist(err)
	}

	r.ID = id
	r.CreatedAt = createdAt
	metrics.RecordPersistenceWrite(metrics.OutcomeSuccess)
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (model.ScoreResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPersistenceQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if s.dialect == DialectPostgres {
		if _, err := uuid.Parse(id); err != nil {
			return model.ScoreResult{}, ErrNotFound
		}
	}

	query, args, err := s.sb.Select(columns...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("build get: %w", err)
	}

	r, err := scanResult(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScoreResult{}, ErrNotFound
	}
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]model.ScoreResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPersistenceQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	limit, err := f.limit()
	if err != nil {
		return nil, err
	}

	q := s.sb.Select(columns...).From(table).OrderBy("created_at DESC").Limit(uint64(limit))
	if f.URL != "" {
		q = q.Where(sq.Eq{"url": f.URL})
	}
	if f.Device != "" {
		q = q.Where(sq.Eq{"device": string(f.Device)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	out := make([]model.ScoreResult, 0, limit)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return out, nil
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	query, args, err := s.sb.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// timeValue encodes created_at for the dialect's column type.
func (s *SQLStore) timeValue(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (model.ScoreResult, error) {
	var (
		r         model.ScoreResult
		device    string
		report    []byte
		createdAt dbTime
	)
	err := row.Scan(
		&r.ID, &r.URL, &device,
		&r.PerformanceScore, &r.AccessibilityScore, &r.BestPracticesScore, &r.SEOScore, &r.PWAScore,
		&r.FirstContentfulPaint, &r.LargestContentfulPaint, &r.CumulativeLayoutShift,
		&r.TimeToInteractive, &r.TotalBlockingTime, &r.SpeedIndex,
		&report, &createdAt,
	)
	if err != nil {
		return model.ScoreResult{}, err
	}
	r.Device = model.Device(device)
	if len(report) > 0 {
		r.FullReport = report
	}
	r.CreatedAt = time.Time(createdAt).UTC()
	return r, nil
}

// dbTime scans TIMESTAMPTZ values and the TEXT encoding used on sqlite.
type dbTime time.Time

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = dbTime(v)
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("unsupported created_at type %T", src)
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	*t = dbTime(parsed)
	return nil
}

func wrapPersist(err error) error {
	return fmt.Errorf("%w: %w", ErrPersist, err)
}
