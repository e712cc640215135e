// Package extract turns uploaded documents into plain text for chunking.
//
// PDF files go through pdfcpu page extraction; text and markdown are decoded
// as-is. Classification happens once at upload from the file name and the
// transport-supplied content type.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for extraction.
var (
	// ErrUnsupportedType indicates a file type the pipeline cannot ingest.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrEmptyDocument indicates a document with no extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrNotUTF8 indicates text content that is not valid UTF-8.
	ErrNotUTF8 = errors.New("content is not valid UTF-8")
)

// FileType classifies an ingested document.
type FileType string

const (
	TypePDF      FileType = "pdf"
	TypeText     FileType = "text"
	TypeMarkdown FileType = "markdown"
)

// Classify determines the file type from the file name extension, falling
// back to the transport content type when the extension is unknown.
func Classify(fileName, contentType string) (FileType, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return TypePDF, nil
	case ".md", ".markdown":
		return TypeMarkdown, nil
	case ".txt", ".text":
		return TypeText, nil
	}

	// Strip any "; charset=..." suffix before matching.
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "application/pdf":
		return TypePDF, nil
	case "text/markdown":
		return TypeMarkdown, nil
	case "text/plain":
		return TypeText, nil
	}

	return "", fmt.Errorf("%w: name=%q content_type=%q", ErrUnsupportedType, fileName, contentType)
}

// Text extracts plain text from document bytes according to the file type.
func Text(ctx context.Context, fileType FileType, data []byte) (string, error) {
	switch fileType {
	case TypePDF:
		return pdfText(ctx, data)
	case TypeText, TypeMarkdown:
		return plainText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
}

// plainText decodes text and markdown documents.
func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrNotUTF8
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
