package history

import (
	"database/sql"
	"fmt"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
)

// Migrations returns the history schema.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create alarm_transitions table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS alarm_transitions (
						seq INTEGER PRIMARY KEY AUTOINCREMENT,
						id TEXT NOT NULL UNIQUE,
						alarm TEXT NOT NULL,
						zone_id TEXT NOT NULL,
						class TEXT NOT NULL,
						signal TEXT NOT NULL,
						resource_id TEXT NOT NULL DEFAULT '',
						from_state TEXT NOT NULL,
						to_state TEXT NOT NULL,
						bucket INTEGER NOT NULL,
						value REAL,
						degraded INTEGER NOT NULL DEFAULT 0,
						outcomes TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_alarm_transitions_zone_bucket ON alarm_transitions(zone_id, bucket)`,
					`CREATE INDEX IF NOT EXISTS idx_alarm_transitions_alarm_bucket ON alarm_transitions(alarm, bucket)`,
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
