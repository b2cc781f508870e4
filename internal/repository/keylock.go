package repository

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLockTimeout = errors.New("timed out waiting for session lock")

// KeyLocker serialises work per key. Acquire blocks until the key is free, the
// timeout elapses or ctx is done, and returns the function that releases it.
type KeyLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyLock is an in-process lock table. Each key owns a one-slot channel, so
// holders of different keys never contend. Entries are reference counted and
// dropped once nobody holds or waits for them.
type KeyLock struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*keyLockEntry
}

type keyLockEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyLock(timeout time.Duration) *KeyLock {
	return &KeyLock{
		timeout: timeout,
		entries: make(map[string]*keyLockEntry),
	}
}

func (l *KeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	entry := l.ref(key)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case entry.ch <- struct{}{}:
	case <-timer.C:
		l.unref(key, entry)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.unref(key, entry)
		})
	}, nil
}

func (l *KeyLock) ref(key string) *keyLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &keyLockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *KeyLock) unref(key string, entry *keyLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ChainLocker acquires every locker in order and releases in reverse. It is
// used to hold the in-process lock before taking a cross-process one.
type ChainLocker []KeyLocker

func (c ChainLocker) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, locker := range c {
		release, err := locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// MapLockTimeout reports notAcquired errors from l as ErrLockTimeout, so
// callers only have one sentinel to check regardless of the lock backend.
func MapLockTimeout(l KeyLocker, notAcquired error) KeyLocker {
	return &mappedLocker{locker: l, notAcquired: notAcquired}
}

type mappedLocker struct {
	locker      KeyLocker
	notAcquired error
}

func (m *mappedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	release, err := m.locker.Acquire(ctx, key)
	if errors.Is(err, m.notAcquired) {
		return nil, ErrLockTimeout
	}
	return release, err
}
