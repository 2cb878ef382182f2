package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"gopherai-rag/internal/index"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/pdfextract"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

var ErrEmptyPDF = errors.New("pdf contains no extractable text")

type DocumentIndex interface {
	AddDocuments(ctx context.Context, docs []model.Document) (int, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job model.IngestJob) error
}

type IngestRecorder interface {
	Create(record *model.IngestRecord) error
	Finish(jobID string, indexed int, status, errMsg string) error
	ListRecent(limit int) ([]model.IngestRecord, error)
}

type IngestReceipt struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Submitted int    `json:"submitted"`
	Rejected  int    `json:"rejected"`
	Indexed   int    `json:"indexed"`
}

// IngestService hands documents to the index, through the queue when a
// publisher is configured. Publisher and recorder are both optional.
type IngestService struct {
	index     DocumentIndex
	publisher JobPublisher
	records   IngestRecorder
	logger    *slog.Logger

	chunkSize    int
	chunkOverlap int
}

func NewIngestService(ix DocumentIndex, publisher JobPublisher, records IngestRecorder, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		index:        ix,
		publisher:    publisher,
		records:      records,
		logger:       logger,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// Submit validates docs, splits long unchunked ones and either enqueues them
// or indexes them before returning.
func (s *IngestService) Submit(ctx context.Context, docs []model.Document) (*IngestReceipt, error) {
	valid := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			continue
		}
		valid = append(valid, s.prepare(d))
	}
	if len(valid) == 0 {
		return nil, ErrInvalidInput
	}

	job := model.IngestJob{
		ID:          uuid.NewString(),
		Documents:   valid,
		SubmittedAt: time.Now(),
	}
	receipt := &IngestReceipt{
		JobID:     job.ID,
		Submitted: len(valid),
		Rejected:  len(docs) - len(valid),
	}
	s.record(job)

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, job)
		if err == nil {
			receipt.Status = model.IngestStatusQueued
			s.logger.Info("ingest job queued", "job_id", job.ID, "documents", len(valid))
			return receipt, nil
		}
		s.logger.Warn("publish ingest job failed, indexing inline", "job_id", job.ID, "error", err)
	}

	indexed, err := s.Process(ctx, job)
	if err != nil {
		return nil, err
	}
	receipt.Status = model.IngestStatusCompleted
	receipt.Indexed = indexed
	return receipt, nil
}

// SubmitPDF extracts the text of a PDF and submits it as one document.
func (s *IngestService) SubmitPDF(ctx context.Context, r io.Reader, name string) (*IngestReceipt, error) {
	doc, err := pdfextract.Extract(r)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text failed: %w", err)
	}
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, ErrEmptyPDF
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled"
	}
	return s.Submit(ctx, []model.Document{{
		Title:   name,
		URL:     "pdf://" + name,
		Content: text,
		Metadata: map[string]any{
			"source": "pdf",
			"pages":  doc.Pages,
		},
	}})
}

// Process indexes a job and records its outcome. The worker calls it for
// queued jobs.
func (s *IngestService) Process(ctx context.Context, job model.IngestJob) (int, error) {
	indexed, err := s.index.AddDocuments(ctx, job.Documents)
	if err != nil {
		s.finish(job.ID, indexed, model.IngestStatusFailed, err.Error())
		return 0, fmt.Errorf("index documents failed: %w", err)
	}
	s.finish(job.ID, indexed, model.IngestStatusCompleted, "")
	s.logger.Info("ingest job indexed", "job_id", job.ID, "documents", len(job.Documents), "indexed", indexed)
	return indexed, nil
}

func (s *IngestService) Records(limit int) ([]model.IngestRecord, error) {
	if s.records == nil {
		return []model.IngestRecord{}, nil
	}
	return s.records.ListRecent(limit)
}

// prepare assigns the content id and splits content longer than one chunk.
func (s *IngestService) prepare(d model.Document) model.Document {
	if d.ID == "" {
		d.ID = index.DocumentID(d.Content)
	}
	if len(d.Chunks) > 0 || len([]rune(d.Content)) <= s.chunkSize {
		return d
	}
	for i, text := range chunkText(d.Content, s.chunkSize, s.chunkOverlap) {
		d.Chunks = append(d.Chunks, model.Chunk{ParentID: d.ID, Index: i, Text: text})
	}
	return d
}

func (s *IngestService) record(job model.IngestJob) {
	if s.records == nil {
		return
	}
	rec := &model.IngestRecord{
		JobID:     job.ID,
		Submitted: len(job.Documents),
		Status:    model.IngestStatusQueued,
	}
	if err := s.records.Create(rec); err != nil {
		s.logger.Warn("create ingest record failed", "job_id", job.ID, "error", err)
	}
}

func (s *IngestService) finish(jobID string, indexed int, status, errMsg string) {
	if s.records == nil {
		return
	}
	if err := s.records.Finish(jobID, indexed, status, errMsg); err != nil {
		s.logger.Warn("update ingest record failed", "job_id", jobID, "error", err)
	}
}

// chunkText splits text into overlapping chunks by rune count.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
		i += size - overlap
	}
	return chunks
}
