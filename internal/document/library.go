package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidName  = errors.New("invalid document name")
	ErrFileTooLarge = errors.New("document too large")
)

// Library stores uploaded PDFs as "<uuid>_<original name>" in one directory.
type Library struct {
	dir   string
	newID func() string
}

func NewLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document library: %w", err)
	}
	return &Library{dir: dir, newID: uuid.NewString}, nil
}

// Save writes r to the library, reading at most maxSize bytes.
func (l *Library) Save(filename string, r io.Reader, maxSize int64) (model.Document, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		return model.Document{}, ErrInvalidName
	}
	id := l.newID() + "_" + name

	f, err := os.CreateTemp(l.dir, ".upload-*.tmp")
	if err != nil {
		return model.Document{}, fmt.Errorf("create upload: %w", err)
	}
	tmpPath := f.Name()

	n, err := io.Copy(f, io.LimitReader(r, maxSize+1))
	if err == nil && n > maxSize {
		err = ErrFileTooLarge
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, filepath.Join(l.dir, id))
	}
	if err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, ErrFileTooLarge) {
			return model.Document{}, err
		}
		return model.Document{}, fmt.Errorf("store upload: %w", err)
	}

	return l.stat(id)
}

// Path resolves a document id to its file, rejecting anything that is not a
// plain PDF file name inside the library.
func (l *Library) Path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") || !strings.HasSuffix(id, ".pdf") {
		return "", ErrInvalidName
	}
	path := filepath.Join(l.dir, id)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

func (l *Library) Remove(id string) error {
	path, err := l.Path(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns the stored PDFs, newest first.
func (l *Library) List() ([]model.Document, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read document library: %w", err)
	}

	docs := make([]model.Document, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pdf") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		doc, err := l.stat(e.Name())
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (l *Library) stat(id string) (model.Document, error) {
	info, err := os.Stat(filepath.Join(l.dir, id))
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{
		ID:         id,
		Filename:   originalName(id),
		Size:       info.Size(),
		UploadedAt: info.ModTime().UTC(),
	}, nil
}

// originalName strips the "<uuid>_" prefix.
func originalName(id string) string {
	if _, name, ok := strings.Cut(id, "_"); ok {
		return name
	}
	return id
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	if name == "" || name == "/" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	} else if !strings.HasSuffix(name, ".pdf") {
		name = name[:len(name)-4] + ".pdf"
	}
	return name
}
