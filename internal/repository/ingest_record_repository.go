package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"gopherai-rag/internal/model"
)

type IngestRecordRepository struct {
	db *gorm.DB
}

func NewIngestRecordRepository(db *gorm.DB) *IngestRecordRepository {
	return &IngestRecordRepository{db: db}
}

func (r *IngestRecordRepository) Create(record *model.IngestRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create ingest record failed: %w", err)
	}
	return nil
}

// Finish stores the outcome of a job. Unknown job ids are an error.
func (r *IngestRecordRepository) Finish(jobID string, indexed int, status, errMsg string) error {
	now := time.Now()
	res := r.db.Model(&model.IngestRecord{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"indexed":     indexed,
			"status":      status,
			"error":       errMsg,
			"finished_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("update ingest record failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update ingest record failed: job %s not found", jobID)
	}
	return nil
}

func (r *IngestRecordRepository) ListRecent(limit int) ([]model.IngestRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []model.IngestRecord
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list ingest records failed: %w", err)
	}
	return records, nil
}
