package model

import "time"

// Document is an uploaded PDF in the library. ID is the stored file name.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DocumentText is the content of the document cache slot.
type DocumentText struct {
	DocumentID string    `json:"pdf_id,omitempty"`
	Text       string    `json:"text"`
	UpdatedAt  time.Time `json:"updated_at"`
}
