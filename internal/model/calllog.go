package model

import (
	"slices"
	"time"
)

// CallLog is the durable record of one conversation session. It is stored as
// one JSON document, so the field names double as the persisted format.
type CallLog struct {
	SessionID    string        `json:"session_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Status       SessionStatus `json:"status"`
	Result       string        `json:"result,omitempty"`
	Messages     []Message     `json:"messages"`
	OrderStatus  OrderStatus   `json:"order_status"`
	OrderDetails *OrderDetails `json:"order_details,omitempty"`
	StaffName    string        `json:"staff_name,omitempty"`
	SessionStats SessionStats  `json:"session_stats"`
}

type Message struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	StaffName string      `json:"staff_name,omitempty"`
	Edited    bool        `json:"edited,omitempty"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
}

type SessionStats struct {
	TotalMessages    int            `json:"total_messages"`
	KeywordsDetected []ControlToken `json:"keywords_detected"`
}

// NewCallLog returns an empty active record starting at start.
func NewCallLog(sessionID string, start time.Time) *CallLog {
	return &CallLog{
		SessionID:   sessionID,
		StartTime:   start,
		Status:      SessionStatusActive,
		Messages:    []Message{},
		OrderStatus: OrderStatusNone,
		SessionStats: SessionStats{
			KeywordsDetected: []ControlToken{},
		},
	}
}

// Append adds msg to the transcript and keeps the counters in step.
func (c *CallLog) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.SessionStats.TotalMessages = len(c.Messages)
}

// RecordKeyword adds tok to keywords_detected once.
func (c *CallLog) RecordKeyword(tok ControlToken) {
	if slices.Contains(c.SessionStats.KeywordsDetected, tok) {
		return
	}
	c.SessionStats.KeywordsDetected = append(c.SessionStats.KeywordsDetected, tok)
}

// LastActivity is the timestamp of the newest message, or start_time for an
// empty transcript.
func (c *CallLog) LastActivity() time.Time {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].Timestamp
	}
	return c.StartTime
}

// Normalize fills zero values left by older or hand-edited records.
func (c *CallLog) Normalize() {
	if c.Status == "" {
		c.Status = SessionStatusActive
	}
	if c.OrderStatus == "" {
		c.OrderStatus = OrderStatusNone
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.SessionStats.KeywordsDetected == nil {
		c.SessionStats.KeywordsDetected = []ControlToken{}
	}
	c.SessionStats.TotalMessages = len(c.Messages)
}

func (c *CallLog) Summary() SessionSummary {
	return SessionSummary{
		SessionID:    c.SessionID,
		StartTime:    c.StartTime,
		MessageCount: len(c.Messages),
		LastActivity: c.LastActivity(),
		Status:       c.Status,
		Result:       c.Result,
		StaffName:    c.StaffName,
		OrderStatus:  c.OrderStatus,
	}
}

// TakeoverRequest is a summary plus the tail of the transcript.
func (c *CallLog) TakeoverRequest(tail int) TakeoverRequest {
	start := max(len(c.Messages)-tail, 0)
	recent := make([]Message, len(c.Messages[start:]))
	copy(recent, c.Messages[start:])
	return TakeoverRequest{
		SessionSummary: c.Summary(),
		RecentMessages: recent,
	}
}

type SessionSummary struct {
	SessionID    string        `json:"session_id"`
	StartTime    time.Time     `json:"start_time"`
	MessageCount int           `json:"message_count"`
	LastActivity time.Time     `json:"last_activity"`
	Status       SessionStatus `json:"status"`
	Result       string        `json:"result,omitempty"`
	StaffName    string        `json:"staff_name,omitempty"`
	OrderStatus  OrderStatus   `json:"order_status"`
}

type TakeoverRequest struct {
	SessionSummary
	RecentMessages []Message `json:"messages"`
}

// CallLogFilter narrows a listing. A zero value matches every record.
type CallLogFilter struct {
	Status SessionStatus
}

func (f CallLogFilter) Match(c *CallLog) bool {
	return f.Status == "" || c.Status == f.Status
}
