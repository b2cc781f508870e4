package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/database"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var testStart = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func newFileRepo(t *testing.T) CallLogRepository {
	t.Helper()
	repo, err := NewFileCallLogRepository(t.TempDir(), NewKeyLock(time.Second))
	require.NoError(t, err)
	return repo
}

func newSQLiteRepo(t *testing.T) CallLogRepository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "calls.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo, err := NewSQLiteCallLogRepository(db, NewKeyLock(5*time.Second))
	require.NoError(t, err)
	return repo
}

// newPostgresRepo needs TEST_DATABASE_URL pointing at a disposable database.
func newPostgresRepo(t *testing.T) CallLogRepository {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, EnsurePostgresSchema(ctx, db))
	_, err = db.ExecContext(ctx, `TRUNCATE call_logs`)
	require.NoError(t, err)
	return NewPostgresCallLogRepository(db, 5*time.Second)
}

func creator(id string) CreateFunc {
	return func() *model.CallLog { return model.NewCallLog(id, testStart) }
}

func appendText(text string) UpdateFunc {
	return func(rec *model.CallLog) error {
		rec.Append(model.Message{Type: model.MessageTypeUser, Message: text, Timestamp: testStart})
		return nil
	}
}

func TestCallLogRepositories(t *testing.T) {
	backends := map[string]func(t *testing.T) CallLogRepository{
		"file":     newFileRepo,
		"sqlite":   newSQLiteRepo,
		"postgres": newPostgresRepo,
	}

	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("Find returns nil for unknown session", func(t *testing.T) {
				repo := newRepo(t)
				rec, err := repo.Find(ctx, "missing")
				require.NoError(t, err)
				assert.Nil(t, rec)
			})

			t.Run("Update creates then appends in order", func(t *testing.T) {
				repo := newRepo(t)
				for i := range 5 {
					_, err := repo.Update(ctx, "s1", creator("s1"), appendText(fmt.Sprintf("m%d", i)))
					require.NoError(t, err)
				}

				rec, err := repo.Find(ctx, "s1")
				require.NoError(t, err)
				require.Len(t, rec.Messages, 5)
				for i, msg := range rec.Messages {
					assert.Equal(t, fmt.Sprintf("m%d", i), msg.Message)
				}
				assert.Equal(t, 5, rec.SessionStats.TotalMessages)
				assert.True(t, testStart.Equal(rec.StartTime))
			})

			t.Run("Update without create fails for unknown session", func(t *testing.T) {
				repo := newRepo(t)
				_, err := repo.Update(ctx, "ghost", nil, appendText("x"))
				assert.ErrorIs(t, err, ErrCallLogNotFound)
			})

			t.Run("failed update persists nothing", func(t *testing.T) {
				repo := newRepo(t)
				_, err := repo.Update(ctx, "s1", creator("s1"), appendText("kept"))
				require.NoError(t, err)

				boom := errors.New("boom")
				_, err = repo.Update(ctx, "s1", nil, func(rec *model.CallLog) error {
					rec.Append(model.Message{Type: model.MessageTypeUser, Message: "lost"})
					return boom
				})
				assert.ErrorIs(t, err, boom)

				rec, err := repo.Find(ctx, "s1")
				require.NoError(t, err)
				assert.Len(t, rec.Messages, 1)
			})

			t.Run("skip write still persists a newly created record", func(t *testing.T) {
				repo := newRepo(t)
				_, err := repo.Update(ctx, "s1", creator("s1"), func(*model.CallLog) error { return ErrSkipWrite })
				require.NoError(t, err)

				rec, err := repo.Find(ctx, "s1")
				require.NoError(t, err)
				require.NotNil(t, rec)
				assert.Empty(t, rec.Messages)
			})

			t.Run("only one concurrent first update creates the record", func(t *testing.T) {
				repo := newRepo(t)

				var creates atomic.Int32
				create := func() *model.CallLog {
					creates.Add(1)
					return model.NewCallLog("race", testStart)
				}

				var wg sync.WaitGroup
				for range 8 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := repo.Update(ctx, "race", create, func(*model.CallLog) error { return ErrSkipWrite })
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				assert.Equal(t, int32(1), creates.Load())
				rec, err := repo.Find(ctx, "race")
				require.NoError(t, err)
				require.NotNil(t, rec)
			})

			t.Run("concurrent creation and appends lose nothing", func(t *testing.T) {
				repo := newRepo(t)

				var wg sync.WaitGroup
				for i := range 10 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := repo.Update(ctx, "shared", creator("shared"), appendText(fmt.Sprintf("m%d", i)))
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				logs, err := repo.List(ctx)
				require.NoError(t, err)
				require.Len(t, logs, 1)
				assert.Len(t, logs[0].Messages, 10)
			})

			t.Run("stores multi-byte text intact", func(t *testing.T) {
				repo := newRepo(t)
				text := "Pesanan: Nasi Goreng 🍛 <pedas> & Es Teh"
				_, err := repo.Update(ctx, "s1", creator("s1"), appendText(text))
				require.NoError(t, err)

				rec, err := repo.Find(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, text, rec.Messages[0].Message)
			})

			t.Run("DeleteCompletedBefore removes only old completed records", func(t *testing.T) {
				repo := newRepo(t)
				ended := testStart.Add(time.Hour)
				complete := func(rec *model.CallLog) error {
					rec.Status = model.SessionStatusCompleted
					rec.EndTime = &ended
					return nil
				}

				_, err := repo.Update(ctx, "old", creator("old"), complete)
				require.NoError(t, err)
				_, err = repo.Update(ctx, "open", creator("open"), appendText("still talking"))
				require.NoError(t, err)

				n, err := repo.DeleteCompletedBefore(ctx, ended.Add(time.Minute))
				require.NoError(t, err)
				assert.Equal(t, int64(1), n)

				rec, err := repo.Find(ctx, "old")
				require.NoError(t, err)
				assert.Nil(t, rec)

				rec, err = repo.Find(ctx, "open")
				require.NoError(t, err)
				assert.NotNil(t, rec)
			})
		})
	}
}

func TestFileCallLogRepositoryRejectsPathTraversal(t *testing.T) {
	repo := newFileRepo(t)

	_, err := repo.Find(context.Background(), "../secrets")
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = repo.Update(context.Background(), "a/b", creator("a/b"), appendText("x"))
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestFileCallLogRepositoryTimesOutOnHeldLock(t *testing.T) {
	lock := NewKeyLock(20 * time.Millisecond)
	repo, err := NewFileCallLogRepository(t.TempDir(), lock)
	require.NoError(t, err)

	release, err := lock.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	_, err = repo.Update(context.Background(), "s1", creator("s1"), appendText("x"))
	assert.ErrorIs(t, err, ErrLockTimeout)
}
