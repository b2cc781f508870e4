package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/observability"
	"github.com/Kiryzsuuu/call-agent/internal/repository"
	"github.com/Kiryzsuuu/call-agent/internal/sse"
	"github.com/Kiryzsuuu/call-agent/internal/util"
)

const takeoverTailSize = 5

// Console event types.
const (
	EventMessageAppended   = "message_appended"
	EventStatusChanged     = "status_changed"
	EventTakeoverRequested = "takeover_requested"
	EventOrderConfirmed    = "order_confirmed"
	EventMessageEdited     = "message_edited"
)

type EventPublisher interface {
	Publish(ctx context.Context, event sse.Event) error
}

// CallLogService is the session log store. Every mutation is one atomic
// read-modify-write through CallLogRepository.Update, so concurrent callers
// on the same session never lose each other's writes.
type CallLogService struct {
	repo    repository.CallLogRepository
	metrics *observability.Metrics
	events  EventPublisher

	now   func() time.Time
	newID func() string
}

func NewCallLogService(
	repo repository.CallLogRepository,
	metrics *observability.Metrics,
	events EventPublisher,
) *CallLogService {
	return &CallLogService{
		repo:    repo,
		metrics: metrics,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func (s *CallLogService) Backend() string {
	return s.repo.Backend()
}

type AppendParams struct {
	SessionID string
	Type      model.MessageType
	Text      string
	// Timestamp defaults to the store clock.
	Timestamp *time.Time
	// Result replaces the stored outcome when non-empty.
	Result string
	// Status is applied when it is a legal transition; otherwise the append
	// still succeeds and AppendResult.StatusErr explains why it was ignored.
	Status model.SessionStatus
}

type AppendResult struct {
	Message model.Message
	Tokens  []model.ControlToken
	// Order is the parsed ORDER_CONFIRMED payload, if any. Confirming it is
	// left to the caller.
	Order     *model.OrderDetails
	OrderErr  error
	StatusErr error
	Session   *model.CallLog
}

type statusChange struct {
	from, to model.SessionStatus
}

// mutation collects what an update did so events and metrics are emitted
// only after the write committed.
type mutation struct {
	changes []statusChange
}

func (m *mutation) setStatus(rec *model.CallLog, next model.SessionStatus, at time.Time) error {
	if rec.Status == next {
		return nil
	}
	if !rec.Status.CanTransition(next) {
		return apperrors.InvalidTransition("status", string(rec.Status), string(next))
	}
	m.changes = append(m.changes, statusChange{from: rec.Status, to: next})
	rec.Status = next
	if next == model.SessionStatusCompleted && rec.EndTime == nil {
		end := at
		rec.EndTime = &end
	}
	return nil
}

func setOrderStatus(rec *model.CallLog, next model.OrderStatus) bool {
	if !rec.OrderStatus.CanTransition(next) {
		log.Warn().
			Str("sessionId", rec.SessionID).
			Str("from", string(rec.OrderStatus)).
			Str("to", string(next)).
			Msg("ignoring order status change")
		return false
	}
	rec.OrderStatus = next
	return true
}

func (s *CallLogService) newMessage(t model.MessageType, text string, at time.Time) model.Message {
	return model.Message{
		ID:        s.newID(),
		Type:      t,
		Message:   text,
		Timestamp: at,
	}
}

func (s *CallLogService) createFunc(sessionID string, start time.Time) repository.CreateFunc {
	return func() *model.CallLog {
		return model.NewCallLog(sessionID, start)
	}
}

// StartSession creates the record, or returns the existing one untouched. An
// empty id gets a fresh uuid.
func (s *CallLogService) StartSession(ctx context.Context, sessionID string) (*model.CallLog, bool, error) {
	if sessionID == "" {
		sessionID = s.newID()
	}

	created := false
	create := func() *model.CallLog {
		created = true
		return model.NewCallLog(sessionID, s.now())
	}
	rec, err := s.mutate(ctx, "start_session", sessionID, create, func(*model.CallLog) error {
		return repository.ErrSkipWrite
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		log.Info().Str("sessionId", sessionID).Msg("session started")
	}
	return rec, created, nil
}

func (s *CallLogService) AppendMessage(ctx context.Context, params AppendParams) (*AppendResult, error) {
	if !params.Type.Valid() {
		return nil, apperrors.InvalidInput("type", string(params.Type))
	}
	if params.Status != "" && !params.Status.Valid() {
		return nil, apperrors.InvalidInput("status", string(params.Status))
	}

	at := s.now()
	if params.Timestamp != nil && !params.Timestamp.IsZero() {
		at = *params.Timestamp
	}

	scan := ScanControlTokens(params.Text)
	msg := s.newMessage(params.Type, params.Text, at)

	var m mutation
	var statusErr error
	rec, err := s.mutate(ctx, "append_message", params.SessionID, s.createFunc(params.SessionID, at), func(rec *model.CallLog) error {
		statusErr = nil
		rec.Append(msg)

		for _, tok := range scan.Tokens {
			rec.RecordKeyword(tok)
		}
		if scan.Has(model.TokenCloseCallConfirmed) {
			setOrderStatus(rec, model.OrderStatusCompleted)
		}
		if scan.Has(model.TokenTransferToHuman) {
			setOrderStatus(rec, model.OrderStatusTransferred)
			if rec.Status == model.SessionStatusActive {
				if err := m.setStatus(rec, model.SessionStatusTransferred, at); err != nil {
					return err
				}
			}
		}

		if params.Result != "" {
			rec.Result = params.Result
		}
		if params.Status != "" && params.Status != rec.Status {
			if err := m.setStatus(rec, params.Status, at); err != nil {
				statusErr = err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.MessagesAppended.WithLabelValues(string(params.Type)).Inc()
	for _, tok := range scan.Tokens {
		s.metrics.TokensDetected.WithLabelValues(string(tok)).Inc()
	}
	if scan.OrderErr != nil {
		s.metrics.OrderParseFailures.Inc()
		log.Warn().
			Err(scan.OrderErr).
			Str("sessionId", params.SessionID).
			Msg("order confirmation payload could not be parsed")
	}
	if statusErr != nil {
		log.Warn().
			Err(statusErr).
			Str("sessionId", params.SessionID).
			Str("status", string(params.Status)).
			Msg("requested status ignored")
	}

	s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	s.emitStatusChanges(ctx, rec, m.changes)

	return &AppendResult{
		Message:   msg,
		Tokens:    scan.Tokens,
		Order:     scan.Order,
		OrderErr:  scan.OrderErr,
		StatusErr: statusErr,
		Session:   rec,
	}, nil
}

func (s *CallLogService) GetSession(ctx context.Context, sessionID string) (*model.CallLog, error) {
	if !util.IsValidSessionID(sessionID) {
		return nil, apperrors.ValidationError("invalid session_id")
	}
	rec, err := s.repo.Find(ctx, sessionID)
	if err != nil {
		return nil, s.storeError(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Session")
	}
	return rec, nil
}

// ListSessions returns summaries ordered by start_time, newest first.
func (s *CallLogService) ListSessions(ctx context.Context, filter model.CallLogFilter) ([]model.SessionSummary, error) {
	logs, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.storeError(err)
	}

	summaries := make([]model.SessionSummary, 0, len(logs))
	for _, rec := range logs {
		if filter.Match(rec) {
			summaries = append(summaries, rec.Summary())
		}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].StartTime.After(summaries[j].StartTime)
		}
		return summaries[i].SessionID < summaries[j].SessionID
	})
	return summaries, nil
}

func (s *CallLogService) ListActive(ctx context.Context) ([]model.SessionSummary, error) {
	return s.ListSessions(ctx, model.CallLogFilter{Status: model.SessionStatusActive})
}

// ListTakeoverRequests returns sessions waiting for staff, most recently
// active first, each with the last few messages for context.
func (s *CallLogService) ListTakeoverRequests(ctx context.Context) ([]model.TakeoverRequest, error) {
	logs, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.storeError(err)
	}

	requests := make([]model.TakeoverRequest, 0)
	for _, rec := range logs {
		if rec.Status == model.SessionStatusStaffRequested {
			requests = append(requests, rec.TakeoverRequest(takeoverTailSize))
		}
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].LastActivity.After(requests[j].LastActivity)
	})
	return requests, nil
}

func (s *CallLogService) SetStatus(ctx context.Context, sessionID string, status model.SessionStatus) (*model.CallLog, error) {
	if !status.Valid() {
		return nil, apperrors.InvalidInput("status", string(status))
	}

	var m mutation
	rec, err := s.mutate(ctx, "set_status", sessionID, nil, func(rec *model.CallLog) error {
		if rec.Status == status {
			return repository.ErrSkipWrite
		}
		return m.setStatus(rec, status, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.emitStatusChanges(ctx, rec, m.changes)
	return rec, nil
}

// RequestTakeover asks for a human. The record is created when the request
// arrives before any message.
func (s *CallLogService) RequestTakeover(ctx context.Context, sessionID, message string) (*model.CallLog, error) {
	at := s.now()
	msg := s.newMessage(model.MessageTypeSystem, fmt.Sprintf("Staff takeover requested: %s", message), at)

	var m mutation
	rec, err := s.mutate(ctx, "request_takeover", sessionID, s.createFunc(sessionID, at), func(rec *model.CallLog) error {
		if err := m.setStatus(rec, model.SessionStatusStaffRequested, at); err != nil {
			return err
		}
		rec.Append(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sessionId", sessionID).Msg("staff takeover requested")

	s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	s.publish(ctx, EventTakeoverRequested, rec.SessionID, rec.TakeoverRequest(takeoverTailSize))
	s.emitStatusChanges(ctx, rec, m.changes)
	return rec, nil
}

// TakeOver hands the session to staffName.
func (s *CallLogService) TakeOver(ctx context.Context, sessionID, staffName, message string) (*model.CallLog, error) {
	staffName = strings.TrimSpace(staffName)
	if staffName == "" {
		return nil, apperrors.MissingRequired("staff_name")
	}

	at := s.now()
	msg := s.newMessage(model.MessageTypeStaff, fmt.Sprintf("Staff %s mengambil alih: %s", staffName, message), at)
	msg.StaffName = staffName

	var m mutation
	rec, err := s.mutate(ctx, "take_over", sessionID, nil, func(rec *model.CallLog) error {
		if err := m.setStatus(rec, model.SessionStatusStaffTaken, at); err != nil {
			return err
		}
		rec.StaffName = staffName
		rec.Append(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("staffName", staffName).
		Msg("session taken over by staff")

	s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	s.emitStatusChanges(ctx, rec, m.changes)
	return rec, nil
}

// SendChatMessage records a chat relay message as chat_<sender>.
func (s *CallLogService) SendChatMessage(ctx context.Context, sessionID string, sender model.ChatSender, text string) (*model.Message, *model.CallLog, error) {
	msgType, ok := sender.ChatMessageType()
	if !ok {
		return nil, nil, apperrors.InvalidInput("sender", string(sender))
	}

	at := s.now()
	msg := s.newMessage(msgType, text, at)
	rec, err := s.mutate(ctx, "send_chat_message", sessionID, s.createFunc(sessionID, at), func(rec *model.CallLog) error {
		rec.Append(msg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.MessagesAppended.WithLabelValues(string(msgType)).Inc()
	s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	return &msg, rec, nil
}

// EditMessage corrects the text of one message. identifier is a message id,
// or "<timestamp>-<type>" for messages written without one; the first match
// in transcript order is edited.
func (s *CallLogService) EditMessage(ctx context.Context, sessionID, identifier, newText string) (*model.CallLog, error) {
	if identifier == "" {
		return nil, apperrors.MissingRequired("item_id")
	}

	var edited model.Message
	rec, err := s.mutate(ctx, "edit_message", sessionID, nil, func(rec *model.CallLog) error {
		idx := findMessage(rec.Messages, identifier)
		if idx < 0 {
			return apperrors.NotFound("Message")
		}
		at := s.now()
		rec.Messages[idx].Message = newText
		rec.Messages[idx].Edited = true
		rec.Messages[idx].EditedAt = &at
		edited = rec.Messages[idx]
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sessionId", sessionID).Str("messageId", edited.ID).Msg("transcript edited")
	s.publish(ctx, EventMessageEdited, rec.SessionID, edited)
	return rec, nil
}

func findMessage(messages []model.Message, identifier string) int {
	for i, msg := range messages {
		if msg.ID != "" && msg.ID == identifier {
			return i
		}
	}

	sep := strings.LastIndex(identifier, "-")
	if sep <= 0 {
		return -1
	}
	ts, err := util.ParseTimestamp(identifier[:sep])
	if err != nil {
		return -1
	}
	msgType := model.MessageType(identifier[sep+1:])
	for i, msg := range messages {
		if msg.Type == msgType && msg.Timestamp.Equal(ts) {
			return i
		}
	}
	return -1
}

// ConfirmOrder stores order (last write wins) and appends one confirmation
// message per call. Notification dispatch is the caller's job.
//
// A transferred or completed order never moves back to confirmed. It still
// takes its first details, since the agent may close or transfer the call
// in the same message that announces the order.
func (s *CallLogService) ConfirmOrder(ctx context.Context, sessionID string, order model.OrderDetails) (*model.CallLog, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	at := s.now()
	order.OrderTime = at
	msg := s.newMessage(model.MessageTypeSystem, fmt.Sprintf("Pesanan dikonfirmasi untuk %s", order.CustomerName), at)

	rec, err := s.mutate(ctx, "confirm_order", sessionID, s.createFunc(sessionID, at), func(rec *model.CallLog) error {
		advance := rec.OrderStatus.CanTransition(model.OrderStatusConfirmed)
		if !advance && rec.OrderDetails != nil {
			return apperrors.InvalidTransition("order_status", string(rec.OrderStatus), string(model.OrderStatusConfirmed))
		}
		details := order
		rec.OrderDetails = &details
		if advance {
			rec.OrderStatus = model.OrderStatusConfirmed
		}
		rec.Append(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("customerPhone", util.MaskPhone(order.CustomerPhone)).
		Float64("totalAmount", order.TotalAmount).
		Msg("order confirmed")

	s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	s.publish(ctx, EventOrderConfirmed, rec.SessionID, rec.OrderDetails)
	return rec, nil
}

func validateOrder(order model.OrderDetails) error {
	switch {
	case strings.TrimSpace(order.CustomerName) == "":
		return apperrors.MissingRequired("customer_name")
	case strings.TrimSpace(order.CustomerPhone) == "":
		return apperrors.MissingRequired("customer_phone")
	case len(order.OrderItems) == 0:
		return apperrors.MissingRequired("order_items")
	case order.TotalAmount < 0:
		return apperrors.ValidationError("total_amount must not be negative")
	}
	return nil
}

// CloseSession marks the session completed. Closing a completed session is a
// no-op.
func (s *CallLogService) CloseSession(ctx context.Context, sessionID string) (*model.CallLog, error) {
	at := s.now()
	msg := s.newMessage(model.MessageTypeSystem, "Call closed by agent", at)

	var m mutation
	rec, err := s.mutate(ctx, "close_session", sessionID, nil, func(rec *model.CallLog) error {
		if rec.Status == model.SessionStatusCompleted {
			return repository.ErrSkipWrite
		}
		rec.Append(msg)
		return m.setStatus(rec, model.SessionStatusCompleted, at)
	})
	if err != nil {
		return nil, err
	}

	if len(m.changes) > 0 {
		log.Info().Str("sessionId", sessionID).Msg("call closed")
		s.publish(ctx, EventMessageAppended, rec.SessionID, msg)
	}
	s.emitStatusChanges(ctx, rec, m.changes)
	return rec, nil
}

// DeleteExpired removes completed sessions that ended more than retention
// ago. Only the retention job calls it.
func (s *CallLogService) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := s.repo.DeleteCompletedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return n, s.storeError(err)
	}
	s.metrics.RetentionDeletes.Add(float64(n))
	return n, nil
}

func (s *CallLogService) mutate(
	ctx context.Context,
	op string,
	sessionID string,
	create repository.CreateFunc,
	fn repository.UpdateFunc,
) (*model.CallLog, error) {
	if !util.IsValidSessionID(sessionID) {
		return nil, apperrors.ValidationError("invalid session_id")
	}

	start := time.Now()
	rec, err := s.repo.Update(ctx, sessionID, create, fn)
	s.metrics.ObserveStore(op, time.Since(start))
	if err != nil {
		err = s.storeError(err)
		s.metrics.StoreErrors.WithLabelValues(op, string(apperrors.GetCode(err))).Inc()
		if apperrors.HasCode(err, apperrors.ErrCodePersistence) {
			log.Error().Err(err).Str("sessionId", sessionID).Str("operation", op).Msg("call log write failed")
		}
		return nil, err
	}
	return rec, nil
}

func (s *CallLogService) storeError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrCallLogNotFound):
		return apperrors.NotFound("Session")
	case errors.Is(err, repository.ErrInvalidSessionID):
		return apperrors.ValidationError("invalid session_id")
	case errors.Is(err, repository.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apperrors.Busy().WithCause(err)
	default:
		return apperrors.Persistence(err)
	}
}

func (s *CallLogService) emitStatusChanges(ctx context.Context, rec *model.CallLog, changes []statusChange) {
	for _, c := range changes {
		s.metrics.StatusTransitions.WithLabelValues(string(c.from), string(c.to)).Inc()
		log.Info().
			Str("sessionId", rec.SessionID).
			Str("from", string(c.from)).
			Str("to", string(c.to)).
			Msg("session status changed")
		s.publish(ctx, EventStatusChanged, rec.SessionID, map[string]any{
			"from":    c.from,
			"to":      c.to,
			"summary": rec.Summary(),
		})
	}
}

func (s *CallLogService) publish(ctx context.Context, eventType, sessionID string, payload any) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("failed to encode event")
		return
	}
	if err := s.events.Publish(ctx, sse.Event{Type: eventType, SessionID: sessionID, Data: data}); err != nil {
		log.Warn().Err(err).Str("eventType", eventType).Str("sessionId", sessionID).Msg("failed to publish event")
	}
}
