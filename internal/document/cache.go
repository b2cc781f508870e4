package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/util"
)

// Cache is the process-wide single slot holding the text of the currently
// selected document. Setting it replaces the previous text for every reader
// (voice agent, chat bot) at once. The text is mirrored to a file so it
// survives restarts.
type Cache struct {
	mu   sync.RWMutex
	path string
	slot model.DocumentText
	now  func() time.Time
}

// NewCache loads the slot from path when the file exists.
func NewCache(path string) (*Cache, error) {
	c := &Cache{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read document cache: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat document cache: %w", err)
	}
	c.slot = model.DocumentText{Text: string(data), UpdatedAt: info.ModTime().UTC()}
	return c, nil
}

func (c *Cache) Get() model.DocumentText {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slot
}

// Text returns the cached text, or "" when nothing is selected.
func (c *Cache) Text() string {
	return c.Get().Text
}

// Set replaces the slot. The file is written before the in-memory slot
// changes, so a failed write leaves the previous text in place.
func (c *Cache) Set(documentID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := util.WriteFileAtomic(c.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write document cache: %w", err)
	}
	c.slot = model.DocumentText{DocumentID: documentID, Text: text, UpdatedAt: c.now().UTC()}
	return nil
}
