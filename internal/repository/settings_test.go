package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSettingsRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewFileSettingsRepository(filepath.Join(t.TempDir(), "config.json"))

	t.Run("empty when file is missing", func(t *testing.T) {
		settings, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Empty(t, settings)
	})

	t.Run("replace then get", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, map[string]any{
			"greeting":      "Selamat datang di Warung Kami",
			"opening_hours": "10:00-22:00",
		}))

		settings, err := repo.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Selamat datang di Warung Kami", settings["greeting"])
		assert.Len(t, settings, 2)
	})
}
