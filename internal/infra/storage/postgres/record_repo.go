package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/storage"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// RecordRepo implements storage.RecordRepository using PostgreSQL.
// Source rows live in legacy_records, migrated rows in records.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// Units returns the record kinds present in the source table.
func (r *RecordRepo) Units(ctx context.Context) ([]string, error) {
	var kinds []string
	err := r.db.SelectContext(ctx, &kinds, `SELECT DISTINCT kind FROM legacy_records ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	return kinds, nil
}

// CountPending counts source records of kind that have not been migrated.
func (r *RecordRepo) CountPending(ctx context.Context, kind string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM legacy_records l
		WHERE l.kind = $1
		  AND NOT EXISTS (SELECT 1 FROM records r WHERE r.id = l.id)
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, kind); err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return count, nil
}

// FetchPending returns the next batch of unmigrated source records.
func (r *RecordRepo) FetchPending(
	ctx context.Context,
	kind string,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	query := `
		SELECT l.id, l.kind, l.payload, l.schema_version, l.updated_at
		FROM legacy_records l
		WHERE l.kind = $1
		  AND l.id > $2
		  AND NOT EXISTS (SELECT 1 FROM records r WHERE r.id = l.id)
		ORDER BY l.id
		LIMIT $3
	`
	var records []domain.Record
	if err := r.db.SelectContext(ctx, &records, query, kind, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch pending records: %w", err)
	}
	return records, nil
}

// Save inserts a migrated record.
func (r *RecordRepo) Save(ctx context.Context, rec domain.Record) error {
	query := `
		INSERT INTO records (id, kind, payload, schema_version, updated_at)
		VALUES (:id, :kind, :payload, :schema_version, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("record %s: %w", rec.ID, storage.ErrDuplicate)
		}
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Delete removes the migrated records of kind with the given IDs.
func (r *RecordRepo) Delete(ctx context.Context, kind string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM records WHERE kind = ? AND id IN (?)`, kind, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
