// Package validator checks document ids, content and events before they
// enter the pipeline, reporting every offending field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
)

const (
	MaxIDLength      = 512
	MaxContentLength = 1 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets HTTPStatusCode map validation failures to 400.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

func ValidateDocument(docID, content string) error {
	errs := make(map[string]string)
	checkID(docID, errs)
	checkContent(content, errs)
	return result(errs)
}

func ValidateDocumentID(docID string) error {
	errs := make(map[string]string)
	checkID(docID, errs)
	return result(errs)
}

func ValidateEvent(event *ingestion.DocumentEvent) error {
	errs := make(map[string]string)
	if !event.Op.Valid() {
		errs["op"] = fmt.Sprintf("unknown op %q", event.Op)
	}
	checkID(event.DocumentID, errs)
	if event.Op != ingestion.OpRemove {
		checkContent(event.Content, errs)
	}
	return result(errs)
}

func checkID(docID string, errs map[string]string) {
	switch {
	case docID == "":
		errs["id"] = "document id is required"
	case len(docID) > MaxIDLength:
		errs["id"] = fmt.Sprintf("document id must be at most %d bytes", MaxIDLength)
	case !utf8.ValidString(docID):
		errs["id"] = "document id must be valid UTF-8"
	case strings.IndexFunc(docID, unicode.IsSpace) >= 0:
		errs["id"] = "document id must not contain whitespace"
	}
}

func checkContent(content string, errs map[string]string) {
	if len(content) > MaxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", MaxContentLength)
	}
}

func result(errs map[string]string) error {
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
