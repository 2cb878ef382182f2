package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherai-rag/internal/model"
	"gopherai-rag/internal/platform/rabbitmq"
)

// JobProcessor indexes one ingest job.
type JobProcessor interface {
	Process(ctx context.Context, job model.IngestJob) (int, error)
}

// IngestWorker consumes ingest jobs and hands them to the processor one at a
// time, so index writes stay serialized.
type IngestWorker struct {
	conn      *amqp.Connection
	processor JobProcessor
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, processor JobProcessor, queueName string, logger *slog.Logger) *IngestWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:      conn,
		processor: processor,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.Info("ingest worker started", "queue", w.queueName)
	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		w.logger.Error("worker decode ingest job failed", "error", err)
		_ = d.Nack(false, false)
		return
	}

	indexed, err := w.processor.Process(ctx, job)
	if err != nil {
		w.logger.Error("worker index ingest job failed", "job_id", job.ID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	w.logger.Info("worker indexed ingest job", "job_id", job.ID, "indexed", indexed)
	_ = d.Ack(false)
}

func decodeJob(body []byte) (model.IngestJob, error) {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("unmarshal ingest job failed: %w", err)
	}
	if job.ID == "" {
		return job, fmt.Errorf("ingest job has no id")
	}
	return job, nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
