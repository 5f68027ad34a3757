package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/botica-pos/botica/internal/inventory"
	jobmetrics "github.com/botica-pos/botica/internal/jobs"
)

// ReconcileReferencesPayload carries scheduling metadata for the sweep.
type ReconcileReferencesPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ReferenceReconciler merges batches that share a reference at the same
// product and location.
type ReferenceReconciler interface {
	ReconcileDuplicateReferences(ctx context.Context) (inventory.ReconcileReport, error)
}

// ReconcileReferencesJob runs the duplicate-reference sweep.
type ReconcileReferencesJob struct {
	Service ReferenceReconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileReferencesJob constructs the job handler.
func NewReconcileReferencesJob(service ReferenceReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileReferencesJob {
	return &ReconcileReferencesJob{Service: service, Logger: logger, Metrics: metrics}
}

// NewReconcileReferencesTask creates an Asynq task for the sweep.
func NewReconcileReferencesTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileReferencesPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileReferences, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the sweep.
func (j *ReconcileReferencesJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile references: dependencies not configured")
	}
	var payload ReconcileReferencesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskReconcileReferences)
	report, err := j.Service.ReconcileDuplicateReferences(ctx)
	if err = tracker.End(err); err != nil {
		j.log().Error("reconcile duplicate references", slog.Any("error", err))
		return err
	}
	j.log().Info("reconciled duplicate references",
		slog.Int("references", report.References),
		slog.Int("merged", report.Merged))
	return nil
}

func (j *ReconcileReferencesJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *ReconcileReferencesJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileReferences))
	}
	return slog.Default().With(slog.String("job", TaskReconcileReferences))
}
