package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcesKeepVariantThroughJSON(t *testing.T) {
	in := RAGResult{
		Content: "answer",
		Sources: Sources{
			WebSource{SourceInfo: SourceInfo{Title: "w", URL: "https://w", Score: 0.8}},
			KnowledgeBaseSource{
				SourceInfo: SourceInfo{Title: "k", URL: "https://k", Score: 0.5},
				DocumentID: "doc_1_chunk_2",
				ParentID:   "doc_1",
				ChunkIndex: 2,
			},
		},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"source_type":"web"`)
	assert.Contains(t, string(raw), `"source_type":"knowledge_base"`)

	var out RAGResult
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Sources, 2)
	assert.Equal(t, SourceWeb, out.Sources[0].Type())
	kb, ok := out.Sources[1].(KnowledgeBaseSource)
	require.True(t, ok)
	assert.Equal(t, "doc_1", kb.ParentID)
	assert.Equal(t, 2, kb.ChunkIndex)
	assert.Equal(t, 0.5, kb.Info().Score)
}

func TestSourcesRejectUnknownType(t *testing.T) {
	var s Sources
	err := json.Unmarshal([]byte(`[{"source_type":"carrier_pigeon","title":"x"}]`), &s)
	assert.Error(t, err)
}

func TestDocumentValidate(t *testing.T) {
	assert.NoError(t, Document{Title: "t", URL: "u", Content: "c"}.Validate())
	assert.ErrorIs(t, Document{Title: "t", URL: "u"}.Validate(), ErrInvalidDocument)
	assert.ErrorIs(t, Document{Title: " ", URL: "u", Content: "c"}.Validate(), ErrInvalidDocument)
}
