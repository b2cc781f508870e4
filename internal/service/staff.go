package service

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/repository"
	"github.com/Kiryzsuuu/call-agent/internal/util"
)

// StaffService authenticates staff console users. All staff share one
// password; the username becomes the staff name recorded on takeovers.
type StaffService struct {
	sessionRepo   repository.StaffSessionRepository
	calls         *CallLogService
	passwordHash  string
	sessionSecret string
	sessionTTL    time.Duration
	now           func() time.Time
}

func NewStaffService(
	sessionRepo repository.StaffSessionRepository,
	calls *CallLogService,
	passwordHash, sessionSecret string,
	sessionTTL time.Duration,
) *StaffService {
	return &StaffService{
		sessionRepo:   sessionRepo,
		calls:         calls,
		passwordHash:  passwordHash,
		sessionSecret: sessionSecret,
		sessionTTL:    sessionTTL,
		now:           time.Now,
	}
}

func (s *StaffService) Enabled() bool {
	return s.passwordHash != ""
}

func (s *StaffService) hashToken(token string) string {
	return util.HmacSHA256(s.sessionSecret, token)
}

// Login returns a new session token.
func (s *StaffService) Login(ctx context.Context, username, password string) (string, *model.StaffSession, error) {
	if !s.Enabled() {
		return "", nil, apperrors.Forbidden("Staff console not configured")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", nil, apperrors.MissingRequired("username")
	}
	if !util.CheckPasswordHash(password, s.passwordHash) {
		return "", nil, apperrors.Unauthorized("Invalid credentials")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to create session", err)
	}

	session, err := s.sessionRepo.Create(ctx, model.CreateStaffSessionParams{
		TokenHash: s.hashToken(token),
		StaffName: username,
		ExpiresAt: s.now().Add(s.sessionTTL),
	})
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to create session", err)
	}
	return token, session, nil
}

func (s *StaffService) Logout(ctx context.Context, token string) error {
	return s.sessionRepo.DeleteByTokenHash(ctx, s.hashToken(token))
}

// Authenticate resolves a token to its session, or nil when the token is
// unknown or expired.
func (s *StaffService) Authenticate(ctx context.Context, token string) (*model.StaffSession, error) {
	if token == "" {
		return nil, nil
	}
	return s.sessionRepo.FindByTokenHash(ctx, s.hashToken(token))
}

func (s *StaffService) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessionRepo.DeleteExpired(ctx)
}

type ConsoleStats struct {
	Sessions struct {
		Total    int                         `json:"total"`
		ByStatus map[model.SessionStatus]int `json:"by_status"`
	} `json:"sessions"`
	PendingTakeovers int `json:"pending_takeovers"`
	OrdersConfirmed  int `json:"orders_confirmed"`
}

// Stats summarises the call log for the console dashboard.
func (s *StaffService) Stats(ctx context.Context) (*ConsoleStats, error) {
	summaries, err := s.calls.ListSessions(ctx, model.CallLogFilter{})
	if err != nil {
		return nil, err
	}

	stats := &ConsoleStats{}
	stats.Sessions.ByStatus = make(map[model.SessionStatus]int)
	for _, sum := range summaries {
		stats.Sessions.Total++
		stats.Sessions.ByStatus[sum.Status]++
		if sum.Status == model.SessionStatusStaffRequested {
			stats.PendingTakeovers++
		}
		if sum.OrderStatus == model.OrderStatusConfirmed || sum.OrderStatus == model.OrderStatusCompleted {
			stats.OrdersConfirmed++
		}
	}
	return stats, nil
}
