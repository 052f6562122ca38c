// Package scan validates medical scan files picked for analysis and renders
// their local preview.
package scan

import (
	"errors"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MaxBytes is the largest scan accepted for upload (10 MiB).
	MaxBytes int64 = 10 << 20

	dicomSuffix = ".dcm"
)

var (
	ErrUnsupportedType = errors.New("unsupported scan type")
	ErrTooLarge        = errors.New("scan exceeds size limit")
)

var acceptedTypes = map[string]bool{
	"image/jpeg":        true,
	"image/png":         true,
	"image/dicom":       true,
	"application/dicom": true,
}

// File is a scan as handed over by the caller, before validation.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Selection is an accepted scan waiting to be uploaded.
type Selection struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
	Preview     string
}

// Validate checks the type first, then the size.
func Validate(name, contentType string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = MaxBytes
	}
	if !acceptedTypes[normalizeType(contentType)] && !strings.HasSuffix(name, dicomSuffix) {
		return ErrUnsupportedType
	}
	if size > maxBytes {
		return ErrTooLarge
	}
	return nil
}

// NewSelection validates f against its declared type and builds its preview.
// A .dcm file declared without a type gets one sniffed from its bytes.
func NewSelection(f File, maxBytes int64, previewEdge int) (*Selection, error) {
	contentType := normalizeType(f.ContentType)
	size := f.Size
	if size <= 0 {
		size = int64(len(f.Data))
	}

	if err := Validate(f.Name, contentType, size, maxBytes); err != nil {
		return nil, err
	}
	if contentType == "" && len(f.Data) > 0 {
		contentType = DetectContentType(f.Data)
	}

	return &Selection{
		Filename:    f.Name,
		ContentType: contentType,
		Size:        size,
		Data:        f.Data,
		Preview:     Preview(f.Data, contentType, previewEdge),
	}, nil
}

func DetectContentType(data []byte) string {
	return normalizeType(mimetype.Detect(data).String())
}

func normalizeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return mediaType
}
