package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var (
	ErrCallLogNotFound  = errors.New("call log not found")
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSkipWrite may be returned by an update function to leave the stored
	// record untouched. Update then returns the record without error.
	ErrSkipWrite = errors.New("skip write")
)

// CreateFunc builds the record used when Update finds none.
type CreateFunc func() *model.CallLog

// UpdateFunc mutates rec in place. Returning an error aborts the update and
// nothing is persisted.
type UpdateFunc func(rec *model.CallLog) error

// CallLogRepository persists one record per session. Update is an atomic
// read-modify-write with respect to other updates of the same session id;
// updates of different ids do not block each other.
type CallLogRepository interface {
	// Find returns nil, nil when the session does not exist.
	Find(ctx context.Context, sessionID string) (*model.CallLog, error)
	List(ctx context.Context) ([]*model.CallLog, error)
	// Update loads the record, creating it with create when absent (a nil
	// create yields ErrCallLogNotFound), applies fn and persists the result.
	// create runs only in the update that actually persists the new record.
	Update(ctx context.Context, sessionID string, create CreateFunc, fn UpdateFunc) (*model.CallLog, error)
	// DeleteCompletedBefore removes completed records that ended before cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Backend() string
}

func applyUpdate(existing *model.CallLog, create CreateFunc, fn UpdateFunc) (rec *model.CallLog, write bool, err error) {
	rec = existing
	if rec == nil {
		if create == nil {
			return nil, false, ErrCallLogNotFound
		}
		rec = create()
	}
	if err := fn(rec); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			return rec, existing == nil, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}
