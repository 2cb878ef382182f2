package model

import (
	"errors"
	"strings"
)

var ErrInvalidDocument = errors.New("document requires title, url and content")

// Document is the unit handed to the index by the ingestion side. When Chunks
// is non-empty the document is indexed per chunk instead of as a whole.
type Document struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Chunks   []Chunk        `json:"chunks,omitempty"`
}

type Chunk struct {
	ParentID string `json:"parent_id"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
}

func (d Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.URL) == "" || strings.TrimSpace(d.Content) == "" {
		return ErrInvalidDocument
	}
	return nil
}
