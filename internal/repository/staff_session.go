package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

type StaffSessionRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.StaffSession, error)
	Create(ctx context.Context, params model.CreateStaffSessionParams) (*model.StaffSession, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

func newStaffSession(params model.CreateStaffSessionParams) *model.StaffSession {
	return &model.StaffSession{
		ID:        uuid.NewString(),
		TokenHash: params.TokenHash,
		StaffName: params.StaffName,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

type memoryStaffSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.StaffSession
	now      func() time.Time
}

// NewMemoryStaffSessionRepository keeps console sessions in process memory.
// Sessions do not survive a restart.
func NewMemoryStaffSessionRepository() StaffSessionRepository {
	return &memoryStaffSessionRepo{
		sessions: make(map[string]*model.StaffSession),
		now:      time.Now,
	}
}

func (r *memoryStaffSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.StaffSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[tokenHash]
	if !ok || !session.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (r *memoryStaffSessionRepo) Create(ctx context.Context, params model.CreateStaffSessionParams) (*model.StaffSession, error) {
	session := newStaffSession(params)

	r.mu.Lock()
	r.sessions[params.TokenHash] = session
	r.mu.Unlock()

	copied := *session
	return &copied, nil
}

func (r *memoryStaffSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	r.mu.Lock()
	delete(r.sessions, tokenHash)
	r.mu.Unlock()
	return nil
}

func (r *memoryStaffSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var deleted int64
	for hash, session := range r.sessions {
		if !session.ExpiresAt.After(now) {
			delete(r.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}

const staffSessionKeyPrefix = "staff_session:"

type redisStaffSession struct {
	ID        string    `json:"id"`
	StaffName string    `json:"staffName"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type redisStaffSessionRepo struct {
	client *goredis.Client
}

// NewRedisStaffSessionRepository shares console sessions between replicas.
// Expiry is enforced by the key TTL, so DeleteExpired has nothing to do.
func NewRedisStaffSessionRepository(client *goredis.Client) StaffSessionRepository {
	return &redisStaffSessionRepo{client: client}
}

func (r *redisStaffSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.StaffSession, error) {
	data, err := r.client.Get(ctx, staffSessionKeyPrefix+tokenHash).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff session: %w", err)
	}

	var stored redisStaffSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode staff session: %w", err)
	}
	return &model.StaffSession{
		ID:        stored.ID,
		TokenHash: tokenHash,
		StaffName: stored.StaffName,
		ExpiresAt: stored.ExpiresAt,
		CreatedAt: stored.CreatedAt,
	}, nil
}

func (r *redisStaffSessionRepo) Create(ctx context.Context, params model.CreateStaffSessionParams) (*model.StaffSession, error) {
	session := newStaffSession(params)
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil, fmt.Errorf("staff session already expired")
	}

	data, err := json.Marshal(redisStaffSession{
		ID:        session.ID,
		StaffName: session.StaffName,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := r.client.Set(ctx, staffSessionKeyPrefix+params.TokenHash, data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("store staff session: %w", err)
	}
	return session, nil
}

func (r *redisStaffSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, staffSessionKeyPrefix+tokenHash).Err()
}

func (r *redisStaffSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
