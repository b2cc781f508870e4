package repository

import (
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

// HandleNotFound turns a missing row from either SQL backend into a nil
// record without error, which is how every CallLogRepository reports absence.
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
