package metric

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
)

// Supported SQL drivers for the metric_samples table.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// SQLSource reads samples from a metric_samples table. The same schema is
// used on every driver:
//
//	metric_samples(resource_id, zone_id, metric, period_seconds, bucket, value)
//
// where bucket is the unix start of the period and value may be NULL.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQLSource wraps an open database. The caller owns db.
func NewSQLSource(db *sql.DB, driver string) (*SQLSource, error) {
	switch driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, azerr.Configf("metrics_source.driver", "unsupported driver %q", driver)
	}
	return &SQLSource{db: db, driver: driver}, nil
}

// OpenSQLSource opens a remote metrics database by driver name and DSN.
func OpenSQLSource(ctx context.Context, driver, dsn string) (*SQLSource, error) {
	if dsn == "" {
		return nil, azerr.Configf("metrics_source.dsn", "required for driver %q", driver)
	}
	src, err := NewSQLSource(nil, driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s metrics source: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s metrics source: %w", driver, err)
	}
	src.db = db
	return src, nil
}

// Close closes the underlying database.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Fetch implements Source.
func (s *SQLSource) Fetch(ctx context.Context, q Query, bucket time.Time) (Point, error) {
	ts := Bucket(bucket, q.Period)
	var v sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT value FROM metric_samples
		WHERE resource_id = ? AND zone_id = ? AND metric = ? AND period_seconds = ? AND bucket = ?`),
		q.ResourceID, string(q.Zone), q.Name, int64(q.Period/time.Second), ts.Unix(),
	).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return MissingPoint(ts), nil
	case err != nil:
		return Point{}, fmt.Errorf("fetch %s: %w", q, err)
	case !v.Valid:
		return MissingPoint(ts), nil
	}
	return Point{Timestamp: ts, Value: v.Float64}, nil
}

// Record upserts one sample.
func (s *SQLSource) Record(ctx context.Context, q Query, ts time.Time, value float64) error {
	stmt := `
		INSERT INTO metric_samples (resource_id, zone_id, metric, period_seconds, bucket, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id, zone_id, metric, period_seconds, bucket)
		DO UPDATE SET value = excluded.value`
	if s.driver == DriverMySQL {
		stmt = `
		INSERT INTO metric_samples (resource_id, zone_id, metric, period_seconds, bucket, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(stmt),
		q.ResourceID, string(q.Zone), q.Name, int64(q.Period/time.Second),
		Bucket(ts, q.Period).Unix(), value,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", q, err)
	}
	return nil
}

// DeleteBefore removes samples whose bucket starts before the given time.
func (s *SQLSource) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM metric_samples WHERE bucket < ?`), before.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete samples before %s: %w", before.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *SQLSource) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Migrations returns the schema for the embedded SQLite metrics table.
// Remote databases are provisioned by their owners with the same columns.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create metric_samples table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE metric_samples (
						resource_id    TEXT    NOT NULL,
						zone_id        TEXT    NOT NULL,
						metric         TEXT    NOT NULL,
						period_seconds INTEGER NOT NULL,
						bucket         INTEGER NOT NULL,
						value          REAL,
						PRIMARY KEY (resource_id, zone_id, metric, period_seconds, bucket)
					)`,
					`CREATE INDEX idx_metric_samples_bucket ON metric_samples(bucket)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("exec migration: %w", err)
					}
				}
				return nil
			},
		},
	}
}
