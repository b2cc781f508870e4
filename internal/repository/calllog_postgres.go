package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/database"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

const callLogSchema = `
CREATE TABLE IF NOT EXISTS call_logs (
	session_id    TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ,
	last_activity TIMESTAMPTZ NOT NULL,
	record        JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_call_logs_status_end ON call_logs (status, end_time);
`

// lock_not_available, raised when lock_timeout expires
const pqLockNotAvailable = "55P03"

type pgCallLogRow struct {
	SessionID string `db:"session_id"`
	Record    []byte `db:"record"`
}

func (row pgCallLogRow) decode() (*model.CallLog, error) {
	var rec model.CallLog
	if err := json.Unmarshal(row.Record, &rec); err != nil {
		return nil, fmt.Errorf("decode call log %s: %w", row.SessionID, err)
	}
	rec.Normalize()
	return &rec, nil
}

type postgresCallLogRepo struct {
	db          *database.DB
	lockTimeout time.Duration
}

// NewPostgresCallLogRepository keeps each record as a JSONB document keyed by
// session id. Updates lock the row with SELECT ... FOR UPDATE inside a
// transaction bounded by lock_timeout.
func NewPostgresCallLogRepository(db *database.DB, lockTimeout time.Duration) CallLogRepository {
	return &postgresCallLogRepo{db: db, lockTimeout: lockTimeout}
}

func (r *postgresCallLogRepo) Backend() string {
	return "postgres"
}

// EnsurePostgresSchema creates the call_logs table when missing.
func EnsurePostgresSchema(ctx context.Context, db *database.DB) error {
	if _, err := db.ExecContext(ctx, callLogSchema); err != nil {
		return fmt.Errorf("create call_logs schema: %w", err)
	}
	return nil
}

func (r *postgresCallLogRepo) Find(ctx context.Context, sessionID string) (*model.CallLog, error) {
	var row pgCallLogRow
	err := r.db.GetContext(ctx, &row, `
		SELECT session_id, record FROM call_logs WHERE session_id = $1
	`, sessionID)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return found.decode()
}

func (r *postgresCallLogRepo) List(ctx context.Context) ([]*model.CallLog, error) {
	var rows []pgCallLogRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT session_id, record FROM call_logs ORDER BY start_time DESC
	`); err != nil {
		return nil, err
	}

	logs := make([]*model.CallLog, 0, len(rows))
	for _, row := range rows {
		rec, err := row.decode()
		if err != nil {
			log.Warn().Err(err).Str("sessionId", row.SessionID).Msg("skipping unreadable call log")
			continue
		}
		logs = append(logs, rec)
	}
	return logs, nil
}

func (r *postgresCallLogRepo) Update(ctx context.Context, sessionID string, create CreateFunc, fn UpdateFunc) (*model.CallLog, error) {
	var result *model.CallLog

	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return err
		}

		// FOR UPDATE cannot lock a row that does not exist yet, so creators
		// of the same id queue on an advisory lock first.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
			return err
		}

		existing, err := r.lockRow(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if existing == nil && create != nil {
			fresh := create()
			inserted, err := r.insert(ctx, tx, fresh)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("%w: %s was created concurrently", ErrLockTimeout, sessionID)
			}
			create = func() *model.CallLog { return fresh }
		}

		rec, write, err := applyUpdate(existing, create, fn)
		if err != nil {
			return err
		}
		result = rec
		if !write {
			return nil
		}
		return r.save(ctx, tx, rec)
	})
	if err != nil {
		return nil, translatePQError(err)
	}
	return result, nil
}

func (r *postgresCallLogRepo) lockRow(ctx context.Context, tx *sqlx.Tx, sessionID string) (*model.CallLog, error) {
	var row pgCallLogRow
	err := tx.GetContext(ctx, &row, `
		SELECT session_id, record FROM call_logs WHERE session_id = $1 FOR UPDATE
	`, sessionID)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return found.decode()
}

// insert reports false when another transaction already created the row.
func (r *postgresCallLogRepo) insert(ctx context.Context, q database.DBTX, rec *model.CallLog) (bool, error) {
	data, err := encodeCallLog(rec)
	if err != nil {
		return false, err
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO call_logs (session_id, status, start_time, end_time, last_activity, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (session_id) DO NOTHING
	`, rec.SessionID, rec.Status, rec.StartTime, rec.EndTime, rec.LastActivity(), data)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresCallLogRepo) save(ctx context.Context, q database.DBTX, rec *model.CallLog) error {
	data, err := encodeCallLog(rec)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE call_logs SET
			status = $2,
			end_time = $3,
			last_activity = $4,
			record = $5,
			updated_at = NOW()
		WHERE session_id = $1
	`, rec.SessionID, rec.Status, rec.EndTime, rec.LastActivity(), data)
	return err
}

func (r *postgresCallLogRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM call_logs
		WHERE status = 'completed' AND end_time IS NOT NULL AND end_time < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func translatePQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
