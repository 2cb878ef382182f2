package pdfextract

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmpty(t *testing.T) {
	doc, err := Extract(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Text)
	assert.Zero(t, doc.Pages)
}

func TestExtractRejects(t *testing.T) {
	_, err := Extract(strings.NewReader("plain text, not a pdf"))
	assert.Error(t, err)

	_, err = Extract(bytes.NewReader(make([]byte, MaxSize+1)))
	assert.ErrorIs(t, err, ErrTooLarge)
}
