package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/util"
)

const callLogExt = ".json"

type fileCallLogRepo struct {
	dir  string
	lock KeyLocker
}

// NewFileCallLogRepository stores each record as <dir>/<session_id>.json.
// Writes replace the file atomically; lock serialises writers per session.
func NewFileCallLogRepository(dir string, lock KeyLocker) (CallLogRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create call log dir: %w", err)
	}
	return &fileCallLogRepo{dir: dir, lock: lock}, nil
}

func (r *fileCallLogRepo) Backend() string {
	return "file"
}

func (r *fileCallLogRepo) path(sessionID string) (string, error) {
	if !util.IsValidSessionID(sessionID) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(r.dir, sessionID+callLogExt), nil
}

func (r *fileCallLogRepo) Find(ctx context.Context, sessionID string) (*model.CallLog, error) {
	path, err := r.path(sessionID)
	if err != nil {
		return nil, err
	}
	return readCallLogFile(path)
}

func readCallLogFile(path string) (*model.CallLog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read call log: %w", err)
	}

	var rec model.CallLog
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode call log %s: %w", filepath.Base(path), err)
	}
	rec.Normalize()
	return &rec, nil
}

func (r *fileCallLogRepo) List(ctx context.Context) ([]*model.CallLog, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}

	logs := make([]*model.CallLog, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, callLogExt) || strings.HasPrefix(name, ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := readCallLogFile(filepath.Join(r.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping unreadable call log")
			continue
		}
		if rec == nil {
			// removed between ReadDir and ReadFile
			continue
		}
		logs = append(logs, rec)
	}
	return logs, nil
}

func (r *fileCallLogRepo) Update(ctx context.Context, sessionID string, create CreateFunc, fn UpdateFunc) (*model.CallLog, error) {
	path, err := r.path(sessionID)
	if err != nil {
		return nil, err
	}

	release, err := r.lock.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := readCallLogFile(path)
	if err != nil {
		return nil, err
	}

	rec, write, err := applyUpdate(existing, create, fn)
	if err != nil {
		return nil, err
	}
	if !write {
		return rec, nil
	}

	data, err := encodeCallLog(rec)
	if err != nil {
		return nil, err
	}
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write call log: %w", err)
	}
	return rec, nil
}

func (r *fileCallLogRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	logs, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, rec := range logs {
		if !endedBefore(rec, cutoff) {
			continue
		}
		ok, err := r.deleteIfEnded(ctx, rec.SessionID, cutoff)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (r *fileCallLogRepo) deleteIfEnded(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	path, err := r.path(sessionID)
	if err != nil {
		return false, nil
	}

	release, err := r.lock.Acquire(ctx, sessionID)
	if err != nil {
		return false, err
	}
	defer release()

	// re-read under the lock; the record may have changed since listing
	rec, err := readCallLogFile(path)
	if err != nil || rec == nil || !endedBefore(rec, cutoff) {
		return false, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove call log: %w", err)
	}
	return true, nil
}

func endedBefore(rec *model.CallLog, cutoff time.Time) bool {
	return rec.Status == model.SessionStatusCompleted && rec.EndTime != nil && rec.EndTime.Before(cutoff)
}

// encodeCallLog renders the persisted form: indented UTF-8 JSON with
// non-ASCII text left unescaped.
func encodeCallLog(rec *model.CallLog) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode call log: %w", err)
	}
	return buf.Bytes(), nil
}
