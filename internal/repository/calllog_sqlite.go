package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

type callLogModel struct {
	SessionID    string     `gorm:"primaryKey;size:191"`
	Status       string     `gorm:"size:32;not null;index:idx_call_logs_status_end"`
	StartTime    time.Time  `gorm:"not null;index"`
	EndTime      *time.Time `gorm:"index:idx_call_logs_status_end"`
	LastActivity time.Time  `gorm:"not null"`
	Record       string     `gorm:"type:text;not null"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (callLogModel) TableName() string {
	return "call_logs"
}

func callLogModelFromRecord(rec *model.CallLog) (callLogModel, error) {
	data, err := encodeCallLog(rec)
	if err != nil {
		return callLogModel{}, err
	}
	return callLogModel{
		SessionID:    rec.SessionID,
		Status:       string(rec.Status),
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		LastActivity: rec.LastActivity(),
		Record:       string(data),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func (m callLogModel) toRecord() (*model.CallLog, error) {
	var rec model.CallLog
	if err := json.Unmarshal([]byte(m.Record), &rec); err != nil {
		return nil, fmt.Errorf("decode call log %s: %w", m.SessionID, err)
	}
	rec.Normalize()
	return &rec, nil
}

type sqliteCallLogRepo struct {
	db   *gorm.DB
	lock KeyLocker
}

// NewSQLiteCallLogRepository stores records in an embedded sqlite database.
// sqlite serialises writers itself; lock keeps same-session updates from
// queueing on busy_timeout inside this process.
func NewSQLiteCallLogRepository(db *gorm.DB, lock KeyLocker) (CallLogRepository, error) {
	if err := db.AutoMigrate(&callLogModel{}); err != nil {
		return nil, fmt.Errorf("migrate call_logs: %w", err)
	}
	return &sqliteCallLogRepo{db: db, lock: lock}, nil
}

func (r *sqliteCallLogRepo) Backend() string {
	return "sqlite"
}

func (r *sqliteCallLogRepo) Find(ctx context.Context, sessionID string) (*model.CallLog, error) {
	return findCallLogModel(r.db.WithContext(ctx), sessionID)
}

func findCallLogModel(db *gorm.DB, sessionID string) (*model.CallLog, error) {
	var row callLogModel
	found, err := HandleNotFound(&row, db.Where("session_id = ?", sessionID).Take(&row).Error)
	if err != nil {
		return nil, fmt.Errorf("get call log: %w", err)
	}
	if found == nil {
		return nil, nil
	}
	return found.toRecord()
}

func (r *sqliteCallLogRepo) List(ctx context.Context) ([]*model.CallLog, error) {
	var rows []callLogModel
	if err := r.db.WithContext(ctx).Order("start_time DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}

	logs := make([]*model.CallLog, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			log.Warn().Err(err).Str("sessionId", row.SessionID).Msg("skipping unreadable call log")
			continue
		}
		logs = append(logs, rec)
	}
	return logs, nil
}

func (r *sqliteCallLogRepo) Update(ctx context.Context, sessionID string, create CreateFunc, fn UpdateFunc) (*model.CallLog, error) {
	release, err := r.lock.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *model.CallLog
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findCallLogModel(tx, sessionID)
		if err != nil {
			return err
		}

		rec, write, err := applyUpdate(existing, create, fn)
		if err != nil {
			return err
		}
		result = rec
		if !write {
			return nil
		}

		row, err := callLogModelFromRecord(rec)
		if err != nil {
			return err
		}
		if existing == nil {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("create call log: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				return nil
			}
		}
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update call log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *sqliteCallLogRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND end_time IS NOT NULL AND end_time < ?", string(model.SessionStatusCompleted), cutoff).
		Delete(&callLogModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete call logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
