package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/soaringjerry/Formsy/internal/services"
)

// ExportJobStore is the slice of persistence the relay drives.
type ExportJobStore interface {
	ClaimPendingExportJobs(ctx context.Context, limit, maxAttempts int) ([]*services.ExportJob, error)
	MarkExportJobDispatched(ctx context.Context, id string, at time.Time) error
	MarkExportJobFailed(ctx context.Context, id, reason string) error
}

// Notice is the message announcing a recorded export job to downstream workers.
type Notice struct {
	JobID     string    `json:"job_id"`
	FormID    string    `json:"form_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func NoticeFor(job *services.ExportJob) Notice {
	return Notice{JobID: job.ID, FormID: job.FormID, Type: job.Type, CreatedAt: job.CreatedAt.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, n Notice) error
	Close() error
}

// Relay hands export jobs written by pause to a Publisher. Each job is
// published until it succeeds or has failed maxAttempts times. A single relay
// per database is assumed.
type Relay struct {
	logger      *slog.Logger
	store       ExportJobStore
	publisher   Publisher
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewRelay(logger *slog.Logger, store ExportJobStore, publisher Publisher, interval time.Duration, batchSize, maxAttempts int) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Relay{
		logger:      logger.With("module", "jobs.relay"),
		store:       store,
		publisher:   publisher,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "relay iteration failed",
				"operation", "relay_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce publishes one batch and returns how many jobs were dispatched.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ClaimPendingExportJobs(ctx, r.batchSize, r.maxAttempts)
	if err != nil {
		return 0, err
	}
	dispatched, failed := 0, 0
	for _, job := range pending {
		if err := r.publisher.Publish(ctx, NoticeFor(job)); err != nil {
			failed++
			attempts := job.Attempts + 1
			level := slog.LevelWarn
			if attempts >= r.maxAttempts {
				level = slog.LevelError
			}
			r.logger.Log(ctx, level, "export job publish failed",
				"operation", "publish_export_job",
				"outcome", "failure",
				"job_id", job.ID,
				"form_id", job.FormID,
				"attempts", attempts,
				"gave_up", attempts >= r.maxAttempts,
				"error", err,
			)
			if merr := r.store.MarkExportJobFailed(ctx, job.ID, err.Error()); merr != nil {
				return dispatched, merr
			}
			continue
		}
		if err := r.store.MarkExportJobDispatched(ctx, job.ID, r.now()); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	if len(pending) > 0 {
		r.logger.InfoContext(ctx, "export job batch processed",
			"operation", "relay_process_once",
			"outcome", "success",
			"batch_size", len(pending),
			"dispatched_count", dispatched,
			"failed_count", failed,
		)
	}
	return dispatched, nil
}
