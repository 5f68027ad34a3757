package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/botica-pos/botica/internal/jobs"
)

// IdempotencyCleanupPayload configures the retention window for the sweep.
type IdempotencyCleanupPayload struct {
	RetainHours int `json:"retain_hours"`
}

// IdempotencyCleaner removes idempotency keys older than the retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob expires stale idempotency keys.
type IdempotencyCleanupJob struct {
	Store   IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// NewIdempotencyCleanupTask creates an Asynq task for the cleanup sweep.
// A non-positive retention falls back to 72 hours.
func NewIdempotencyCleanupTask(retainHours int) (*asynq.Task, error) {
	if retainHours <= 0 {
		retainHours = 72
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetainHours: retainHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the cleanup sweep.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: dependencies not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetainHours <= 0 {
		payload.RetainHours = 72
	}
	retention := time.Duration(payload.RetainHours) * time.Hour

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	err := j.Store.Cleanup(ctx, retention)
	if err = tracker.End(err); err != nil {
		j.log().Error("cleanup idempotency keys", slog.Any("error", err))
		return err
	}
	j.log().Info("cleaned idempotency keys", slog.Duration("retention", retention))
	return nil
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}
