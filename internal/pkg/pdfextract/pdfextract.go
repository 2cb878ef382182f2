package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxSize bounds how much of a PDF is read into memory.
const MaxSize = 10 << 20

var ErrTooLarge = errors.New("pdf exceeds size limit")

// Document is the text of a PDF with whitespace collapsed, one paragraph
// per page.
type Document struct {
	Text  string
	Pages int
}

// Extract reads r and returns the plain text of every page that has any.
// An empty reader yields an empty Document and nil error.
func Extract(r io.Reader) (*Document, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) > MaxSize {
		return nil, ErrTooLarge
	}
	if len(b) == 0 {
		return &Document{}, nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	doc := &Document{Pages: reader.NumPage()}
	pages := make([]string, 0, doc.Pages)
	for i := 1; i <= doc.Pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d failed: %w", i, err)
		}
		if text = strings.Join(strings.Fields(text), " "); text != "" {
			pages = append(pages, text)
		}
	}
	doc.Text = strings.Join(pages, "\n\n")
	return doc, nil
}
