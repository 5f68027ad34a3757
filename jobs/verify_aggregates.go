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

// VerifyAggregatesPayload configures the scope of the verification sweep.
type VerifyAggregatesPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// AggregateVerifier repairs a cached stock total that drifted from the ledger.
type AggregateVerifier interface {
	Verify(ctx context.Context, productID, locationID int64) (bool, error)
}

// StockPairLister enumerates product/location pairs that hold stock.
type StockPairLister interface {
	StockPairs(ctx context.Context) ([]inventory.StockPair, error)
}

// VerifyAggregatesJob walks the stocked pairs and repairs cache drift.
type VerifyAggregatesJob struct {
	View    AggregateVerifier
	Repo    StockPairLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	// OnDrift fires once per repaired pair.
	OnDrift func()
}

// NewVerifyAggregatesJob constructs the job handler.
func NewVerifyAggregatesJob(view AggregateVerifier, repo StockPairLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *VerifyAggregatesJob {
	return &VerifyAggregatesJob{View: view, Repo: repo, Logger: logger, Metrics: metrics}
}

// NewVerifyAggregatesTask creates an Asynq task for the verification sweep.
func NewVerifyAggregatesTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(VerifyAggregatesPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyAggregates, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the verification sweep.
func (j *VerifyAggregatesJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.View == nil || j.Repo == nil {
		return errors.New("verify aggregates: dependencies not configured")
	}
	var payload VerifyAggregatesPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskVerifyAggregates)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	pairs, err := j.Repo.StockPairs(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("list stock pairs", slog.Any("error", err))
		return resultErr
	}

	drifted := 0
	for _, pair := range pairs {
		repaired, err := j.View.Verify(ctx, pair.ProductID, pair.LocationID)
		if err != nil {
			resultErr = err
			j.log().Error("verify aggregate",
				slog.Int64("product_id", pair.ProductID),
				slog.Int64("location_id", pair.LocationID),
				slog.Any("error", err))
			return resultErr
		}
		if repaired {
			drifted++
			if j.OnDrift != nil {
				j.OnDrift()
			}
		}
	}

	j.log().Info("verified stock aggregates", slog.Int("pairs", len(pairs)), slog.Int("drifted", drifted))
	return resultErr
}

func (j *VerifyAggregatesJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *VerifyAggregatesJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskVerifyAggregates))
	}
	return slog.Default().With(slog.String("job", TaskVerifyAggregates))
}
