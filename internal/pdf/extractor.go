package pdfutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// MaxInspectBytes bounds how much of an object is read for inspection.
const MaxInspectBytes = 64 << 20

// IsPDF reports whether data starts with the PDF magic.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// IsPDFType reports whether a declared mime type is PDF.
func IsPDFType(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt == "application/pdf"
}

// PageCount parses PDF bytes with ledongthuc/pdf and returns the page count.
func PageCount(data []byte) (int, error) {
	if !IsPDF(data) {
		return 0, fmt.Errorf("not a pdf document")
	}
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc.NumPage(), nil
}

// PageCountFromReader drains at most MaxInspectBytes before counting.
func PageCountFromReader(r io.Reader) (int, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInspectBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if len(data) > MaxInspectBytes {
		return 0, fmt.Errorf("pdf exceeds %d bytes", MaxInspectBytes)
	}
	return PageCount(data)
}
