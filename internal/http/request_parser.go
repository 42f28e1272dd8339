package http

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"billed/internal/newbill"
	"billed/internal/store"
)

// Form parameter carrying the draft id.
const paramDraft = "draft"

// billFields lists the bill form inputs in display order.
var billFields = []string{
	newbill.FieldType,
	newbill.FieldName,
	newbill.FieldDate,
	newbill.FieldAmount,
	newbill.FieldVAT,
	newbill.FieldPct,
	newbill.FieldCommentary,
}

// postedFields returns the bill fields present in form, sanitized.
// Absent fields are left out so a single-field change does not clear the rest.
func postedFields(form url.Values) map[string]string {
	out := make(map[string]string)
	for _, name := range billFields {
		if vs, ok := form[name]; ok && len(vs) > 0 {
			out[name] = sanitizeInput(vs[0])
		}
	}
	return out
}

// readAttachment reads the "file" part of a parsed multipart form.
func readAttachment(r *http.Request, limit int64) (store.Attachment, error) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return store.Attachment{}, fmt.Errorf("read file part: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("read file content: %w", err)
	}
	if int64(len(content)) > limit {
		return store.Attachment{}, fmt.Errorf("file larger than %d bytes", limit)
	}
	return store.Attachment{
		Name:        hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// sanitizeInput trims and drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
