package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jagrut-bhole/podcast/pkg/queue"
)

// JobSource is the queue the processor drains.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Aborter discards multipart uploads. An upload the store no longer knows
// about must be reported as success.
type Aborter interface {
	AbortMultipartUpload(ctx context.Context, uploadID, key string) error
}

// CleanupProcessor retries multipart aborts that failed on the request path,
// so abandoned parts do not keep accruing storage.
type CleanupProcessor struct {
	source       JobSource
	s3           Aborter
	logger       *zap.Logger
	pollTimeout  time.Duration
	retryBackoff time.Duration
}

// NewCleanupProcessor creates a cleanup processor.
func NewCleanupProcessor(source JobSource, s3 Aborter, logger *zap.Logger) *CleanupProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupProcessor{
		source:       source,
		s3:           s3,
		logger:       logger,
		pollTimeout:  5 * time.Second,
		retryBackoff: queue.RetryBackoff,
	}
}

// Process executes one cleanup job.
func (p *CleanupProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAbortUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AbortUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.UploadID == "" || payload.Key == "" {
		return fmt.Errorf("abort job %s: missing upload id or key", job.ID)
	}
	if err := p.s3.AbortMultipartUpload(ctx, payload.UploadID, payload.Key); err != nil {
		return err
	}
	p.logger.Info("multipart upload aborted",
		zap.String("job_id", job.ID),
		zap.String("key", payload.Key),
		zap.String("meeting_id", payload.MeetingID.String()),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *CleanupProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("cleanup worker stopping")
			return
		}

		job, err := p.source.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, p.retryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.source.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx, p.retryBackoff)
		}
	}
}

func (p *CleanupProcessor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
