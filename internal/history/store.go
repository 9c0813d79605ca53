// Package history persists alarm transitions so operators can see how a
// zone's isolated-impact signal evolved.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Record is one stored transition.
type Record struct {
	ID         string               `json:"id"`
	Alarm      string               `json:"alarm"`
	Zone       models.ZoneID        `json:"zone"`
	Class      models.ResourceClass `json:"class"`
	Signal     alarm.Signal         `json:"signal"`
	ResourceID string               `json:"resource_id,omitempty"`
	From       alarm.State          `json:"from"`
	To         alarm.State          `json:"to"`
	Bucket     time.Time            `json:"bucket"`
	Value      *float64             `json:"value,omitempty"`
	Degraded   bool                 `json:"degraded"`
	Window     []alarm.Outcome      `json:"window"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Zone  models.ZoneID
	Alarm string
	Since time.Time
	Limit int
}

// DefaultLimit caps List when Filter.Limit is unset.
const DefaultLimit = 100

// Store provides database access for alarm history.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a Store backed by db. Run Migrations first.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Open migrates the history tables on s and returns a Store.
func Open(ctx context.Context, s *store.SQLiteStore, logger *zap.Logger) (*Store, error) {
	if err := s.Migrate(ctx, "history", Migrations()); err != nil {
		return nil, err
	}
	return NewStore(s.DB(), logger), nil
}

// OnTransition implements alarm.Sink. Failures are logged, not returned, so
// a broken database never blocks detection.
func (s *Store) OnTransition(ctx context.Context, t alarm.Transition) {
	if err := s.Insert(ctx, t); err != nil {
		s.logger.Warn("failed to record transition", zap.String("alarm", t.Alarm), zap.Error(err))
	}
}

// Insert stores a transition.
func (s *Store) Insert(ctx context.Context, t alarm.Transition) error {
	window, err := json.Marshal(t.Window)
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	var value sql.NullFloat64
	if t.Value != nil {
		value = sql.NullFloat64{Float64: *t.Value, Valid: true}
	}
	degraded := 0
	if t.Degraded {
		degraded = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarm_transitions (
			id, alarm, zone_id, class, signal, resource_id,
			from_state, to_state, bucket, value, degraded, outcomes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Alarm, string(t.Config.Zone), string(t.Config.Class), string(t.Config.Signal), t.Config.ResourceID,
		string(t.From), string(t.To), t.Timestamp.Unix(), value, degraded, string(window),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// List returns transitions matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Zone != "" {
		where = append(where, "zone_id = ?")
		args = append(args, string(f.Zone))
	}
	if f.Alarm != "" {
		where = append(where, "alarm = ?")
		args = append(args, f.Alarm)
	}
	if !f.Since.IsZero() {
		where = append(where, "bucket >= ?")
		args = append(args, f.Since.Unix())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT id, alarm, zone_id, class, signal, resource_id,
			from_state, to_state, bucket, value, degraded, outcomes
		FROM alarm_transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY bucket DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			zone     string
			class    string
			signal   string
			from     string
			to       string
			bucket   int64
			value    sql.NullFloat64
			degraded int
			window   string
		)
		if err := rows.Scan(&r.ID, &r.Alarm, &zone, &class, &signal, &r.ResourceID,
			&from, &to, &bucket, &value, &degraded, &window); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.Zone = models.ZoneID(zone)
		r.Class = models.ResourceClass(class)
		r.Signal = alarm.Signal(signal)
		r.From = alarm.State(from)
		r.To = alarm.State(to)
		r.Bucket = time.Unix(bucket, 0).UTC()
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		r.Degraded = degraded != 0
		if err := json.Unmarshal([]byte(window), &r.Window); err != nil {
			return nil, fmt.Errorf("decode window for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteBefore removes transitions for buckets before cutoff and returns
// the number of rows deleted.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alarm_transitions WHERE bucket < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete old transitions: %w", err)
	}
	return res.RowsAffected()
}
