package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Kiryzsuuu/call-agent/internal/util"
)

// SettingsRepository is the free-form key-value configuration shared with the
// voice agent (greeting, menu, opening hours and the like).
type SettingsRepository interface {
	Get(ctx context.Context) (map[string]any, error)
	Replace(ctx context.Context, data map[string]any) error
}

type fileSettingsRepo struct {
	path string
	mu   sync.RWMutex
}

func NewFileSettingsRepository(path string) SettingsRepository {
	return &fileSettingsRepo{path: path}
}

func (r *fileSettingsRepo) Get(ctx context.Context) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := map[string]any{}
	if len(data) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (r *fileSettingsRepo) Replace(ctx context.Context, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := util.WriteFileAtomic(r.path, encoded, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
