package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdf_text_cache.txt")

	c, err := NewCache(path)
	require.NoError(t, err)
	assert.Equal(t, "", c.Text())

	require.NoError(t, c.Set("a.pdf", "Nasi Goreng 25.000"))
	assert.Equal(t, "Nasi Goreng 25.000", c.Text())
	assert.Equal(t, "a.pdf", c.Get().DocumentID)

	require.NoError(t, c.Set("b.pdf", "Es Teh 5.000"))
	assert.Equal(t, "Es Teh 5.000", c.Text(), "the slot holds only the latest document")

	reloaded, err := NewCache(path)
	require.NoError(t, err)
	assert.Equal(t, "Es Teh 5.000", reloaded.Text())
}

func TestCacheFailedWriteKeepsText(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(filepath.Join(dir, "cache.txt"))
	require.NoError(t, err)
	require.NoError(t, c.Set("a.pdf", "old"))

	c.path = filepath.Join(dir, "cache.txt", "not-a-dir", "x.txt")
	assert.Error(t, c.Set("b.pdf", "new"))
	assert.Equal(t, "old", c.Text())
}

func TestLibrary(t *testing.T) {
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)
	ids := []string{"11111111", "22222222"}
	lib.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	t.Run("save and list", func(t *testing.T) {
		doc, err := lib.Save("menu.pdf", strings.NewReader("%PDF-1.4"), 1024)
		require.NoError(t, err)
		assert.Equal(t, "11111111_menu.pdf", doc.ID)
		assert.Equal(t, "menu.pdf", doc.Filename)
		assert.Equal(t, int64(8), doc.Size)

		docs, err := lib.List()
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, doc.ID, docs[0].ID)
	})

	t.Run("rejects oversized uploads", func(t *testing.T) {
		_, err := lib.Save("big.pdf", strings.NewReader(strings.Repeat("x", 20)), 10)
		assert.ErrorIs(t, err, ErrFileTooLarge)

		docs, err := lib.List()
		require.NoError(t, err)
		assert.Len(t, docs, 1, "no partial file is left behind")
	})

	t.Run("path guards", func(t *testing.T) {
		_, err := lib.Path("11111111_menu.pdf")
		assert.NoError(t, err)

		for _, id := range []string{"", "../x.pdf", "a/b.pdf", ".hidden.pdf", "notes.txt"} {
			_, err := lib.Path(id)
			assert.ErrorIs(t, err, ErrInvalidName, id)
		}

		_, err = lib.Path("missing.pdf")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"menu.pdf", "menu.pdf"},
		{"../../etc/passwd", "passwd.pdf"},
		{`C:\Users\x\Menu.PDF`, "Menu.pdf"},
		{"..", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}

func TestCombine(t *testing.T) {
	longText := strings.Repeat("menu ", 20)

	tests := []struct {
		name    string
		text    string
		ocr     string
		textErr error
		want    string
		wantErr bool
	}{
		{"text only", longText, "", nil, longText, false},
		{"short text prefers ocr", "abc", "Page 1:\nNasi\n\n", nil, "Page 1:\nNasi\n\n", false},
		{"both", longText, "Page 1:\nx\n\n", nil, longText + "\nPage 1:\nx\n\n", false},
		{"nothing", " ", "", nil, "", true},
		{"tool failure", "", "", errors.New("pdftotext: exit 1"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := combine(tt.text, tt.ocr, tt.textErr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheLoadsModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.txt")
	require.NoError(t, os.WriteFile(path, []byte("menu"), 0o644))
	mod := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mod, mod))

	c, err := NewCache(path)
	require.NoError(t, err)
	assert.True(t, mod.Equal(c.Get().UpdatedAt))
}
