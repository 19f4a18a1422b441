package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Progress is reported by a running migration.
type Progress struct {
	Unit      string
	Processed int
	Total     int
	Phase     string
}

// MigrationOptions is the options bag handed to the migration entry point.
type MigrationOptions struct {
	Mode   Mode
	Silent bool
	Force  bool

	OnProgress func(Progress)
	OnComplete func([]MigrationResult)
	OnError    func(error)

	Metadata map[string]any
}

// WithoutCallbacks returns a copy with every callback removed.
func (o MigrationOptions) WithoutCallbacks() MigrationOptions {
	o.OnProgress = nil
	o.OnComplete = nil
	o.OnError = nil
	return o
}

// MigrationResult summarizes one migrated unit.
type MigrationResult struct {
	Unit       string        `json:"unit"`
	Migrated   int           `json:"migrated"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	RolledBack bool          `json:"rolled_back"`
	Duration   time.Duration `json:"duration"`
}

// TotalMigrated sums Migrated over results.
func TotalMigrated(results []MigrationResult) int {
	total := 0
	for _, r := range results {
		total += r.Migrated
	}
	return total
}

// Migrator is the contract consumed from the migration manager.
type Migrator interface {
	// Migrate performs the migration and returns one result per unit.
	Migrate(ctx context.Context, opts MigrationOptions) ([]MigrationResult, error)

	// ShouldMigrate reports whether there is pending work.
	ShouldMigrate(ctx context.Context) (bool, error)
}

// RollbackSnapshot is a captured state used as a rollback target.
// State holds a deep copy encoded as JSON.
type RollbackSnapshot struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Decode unmarshals the snapshot state into v.
func (s RollbackSnapshot) Decode(v any) error {
	return json.Unmarshal(s.State, v)
}

// Record is a stored entity subject to migration.
type Record struct {
	ID            string          `json:"id"            db:"id"`
	Kind          string          `json:"kind"          db:"kind"`
	Payload       json.RawMessage `json:"payload"       db:"payload"`
	SchemaVersion int             `json:"schema_version" db:"schema_version"`
	UpdatedAt     time.Time       `json:"updated_at"    db:"updated_at"`
}

// Checkpoint marks how far a unit has been migrated. Batch lists the records
// the run is about to write past the checkpoint; rolling back removes only those.
type Checkpoint struct {
	RunID    string   `json:"run_id"`
	Unit     string   `json:"unit"`
	LastID   string   `json:"last_id"`
	Migrated int      `json:"migrated"`
	Batch    []string `json:"batch"`
}
