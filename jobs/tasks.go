package jobs

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReconcileReferences folds duplicate batch references.
	TaskReconcileReferences = "inventory:reconcile_refs"
	// TaskVerifyAggregates checks cached stock totals against the ledger.
	TaskVerifyAggregates = "inventory:verify_aggregates"
	// TaskIdempotencyCleanup expires stale idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)
