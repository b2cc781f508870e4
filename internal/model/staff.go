package model

import (
	"time"
)

type StaffSession struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"-"`
	StaffName string    `json:"staffName"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateStaffSessionParams struct {
	TokenHash string
	StaffName string
	ExpiresAt time.Time
}
