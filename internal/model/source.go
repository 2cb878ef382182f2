package model

import (
	"encoding/json"
	"fmt"
)

type SourceType string

const (
	SourceWeb           SourceType = "web"
	SourceKnowledgeBase SourceType = "knowledge_base"
)

// SourceInfo is the read-only surface shared by every source variant.
type SourceInfo struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type Source interface {
	Info() SourceInfo
	Type() SourceType
}

type WebSource struct {
	SourceInfo
}

func (s WebSource) Info() SourceInfo { return s.SourceInfo }
func (s WebSource) Type() SourceType { return SourceWeb }

type KnowledgeBaseSource struct {
	SourceInfo
	DocumentID string `json:"document_id"`
	ParentID   string `json:"parent_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
}

func (s KnowledgeBaseSource) Info() SourceInfo { return s.SourceInfo }
func (s KnowledgeBaseSource) Type() SourceType { return SourceKnowledgeBase }

// Sources encodes as a flat JSON array discriminated by source_type.
type Sources []Source

type sourceRecord struct {
	SourceType SourceType `json:"source_type"`
	SourceInfo
	DocumentID string `json:"document_id,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
}

func (s Sources) MarshalJSON() ([]byte, error) {
	records := make([]sourceRecord, 0, len(s))
	for _, src := range s {
		rec := sourceRecord{SourceType: src.Type(), SourceInfo: src.Info()}
		if kb, ok := src.(KnowledgeBaseSource); ok {
			rec.DocumentID = kb.DocumentID
			rec.ParentID = kb.ParentID
			rec.ChunkIndex = kb.ChunkIndex
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

func (s *Sources) UnmarshalJSON(data []byte) error {
	var records []sourceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	out := make(Sources, 0, len(records))
	for _, rec := range records {
		switch rec.SourceType {
		case SourceWeb:
			out = append(out, WebSource{SourceInfo: rec.SourceInfo})
		case SourceKnowledgeBase:
			out = append(out, KnowledgeBaseSource{
				SourceInfo: rec.SourceInfo,
				DocumentID: rec.DocumentID,
				ParentID:   rec.ParentID,
				ChunkIndex: rec.ChunkIndex,
			})
		default:
			return fmt.Errorf("unknown source type %q", rec.SourceType)
		}
	}
	*s = out
	return nil
}
