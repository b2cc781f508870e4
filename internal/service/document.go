package service

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/document"
	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

// DocumentService manages the PDF library and feeds the selected document's
// text into the shared cache.
type DocumentService struct {
	library   *document.Library
	extractor document.Extractor
	cache     *document.Cache
	maxSize   int64
}

func NewDocumentService(library *document.Library, extractor document.Extractor, cache *document.Cache, maxSize int64) *DocumentService {
	return &DocumentService{
		library:   library,
		extractor: extractor,
		cache:     cache,
		maxSize:   maxSize,
	}
}

type DocumentSelection struct {
	Document   model.Document
	TextLength int
}

// Upload stores a PDF, extracts its text and makes it the current document.
// The stored file is removed again when extraction fails.
func (s *DocumentService) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*DocumentSelection, error) {
	if contentType != "application/pdf" {
		return nil, apperrors.ValidationError("File harus PDF")
	}

	doc, err := s.library.Save(filename, r, s.maxSize)
	if err != nil {
		switch {
		case errors.Is(err, document.ErrFileTooLarge):
			return nil, apperrors.ValidationError("PDF terlalu besar")
		case errors.Is(err, document.ErrInvalidName):
			return nil, apperrors.InvalidInput("file", "invalid file name")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to store PDF", err)
	}

	sel, err := s.activate(ctx, doc)
	if err != nil {
		if rmErr := s.library.Remove(doc.ID); rmErr != nil {
			log.Warn().Err(rmErr).Str("documentId", doc.ID).Msg("failed to remove unreadable upload")
		}
		return nil, err
	}
	return sel, nil
}

// Select re-extracts a stored PDF and makes it the current document.
func (s *DocumentService) Select(ctx context.Context, id string) (*DocumentSelection, error) {
	if _, err := s.library.Path(id); err != nil {
		if errors.Is(err, document.ErrNotFound) || errors.Is(err, document.ErrInvalidName) {
			return nil, apperrors.NotFound("PDF")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to open PDF", err)
	}

	docs, err := s.library.List()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to list PDFs", err)
	}
	for _, doc := range docs {
		if doc.ID == id {
			return s.activate(ctx, doc)
		}
	}
	return nil, apperrors.NotFound("PDF")
}

func (s *DocumentService) activate(ctx context.Context, doc model.Document) (*DocumentSelection, error) {
	path, err := s.library.Path(doc.ID)
	if err != nil {
		return nil, apperrors.NotFound("PDF")
	}

	text, err := s.extractor.Extract(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("documentId", doc.ID).Msg("pdf processing failed")
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "PDF processing failed", err)
	}
	if err := s.cache.Set(doc.ID, text); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to store PDF text", err)
	}

	log.Info().
		Str("documentId", doc.ID).
		Int("textLength", len(text)).
		Msg("document selected")
	return &DocumentSelection{Document: doc, TextLength: len(text)}, nil
}

func (s *DocumentService) List() ([]model.Document, error) {
	docs, err := s.library.List()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to list PDFs", err)
	}
	return docs, nil
}

func (s *DocumentService) Current() model.DocumentText {
	return s.cache.Get()
}
