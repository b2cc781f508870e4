package handler

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Kiryzsuuu/call-agent/internal/audit"
	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/service"
)

const multipartMemory = 8 << 20

type DocumentHandler struct {
	documents *service.DocumentService
	maxUpload int64
}

func NewDocumentHandler(documents *service.DocumentService, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		maxUpload: maxUpload,
	}
}

func (h *DocumentHandler) Register(r chi.Router) {
	r.Post("/upload-pdf-ocr", h.Upload)
	r.Get("/list-pdfs", h.List)
	r.Post("/select-pdf", h.Select)
	r.Get("/pdf-text", h.Text)
}

// POST /upload-pdf-ocr (multipart field "file")
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, apperrors.ValidationError("Invalid multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperrors.MissingRequired("file"))
		return
	}
	defer file.Close()

	sel, err := h.documents.Upload(r.Context(), header.Filename, uploadContentType(header.Header.Get("Content-Type"), header.Filename), file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"pdf_id":      sel.Document.ID,
		"name":        sel.Document.Filename,
		"text_length": sel.TextLength,
	})
}

// uploadContentType trusts a .pdf extension when the browser sent a generic
// content type.
func uploadContentType(header, filename string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "application/pdf"
	}
	return header
}

// GET /list-pdfs
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documents.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pdfs": docs})
}

// POST /select-pdf
func (h *DocumentHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PDFID string `json:"pdf_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PDFID == "" {
		writeError(w, r, apperrors.MissingRequired("pdf_id"))
		return
	}

	sel, err := h.documents.Select(r.Context(), req.PDFID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventDocumentSelect,
		Details: map[string]interface{}{"pdf_id": req.PDFID},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "PDF berhasil dipilih",
		"text_length": sel.TextLength,
	})
}

// GET /pdf-text
func (h *DocumentHandler) Text(w http.ResponseWriter, r *http.Request) {
	current := h.documents.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"text":       current.Text,
		"pdf_id":     current.DocumentID,
		"updated_at": current.UpdatedAt,
	})
}
