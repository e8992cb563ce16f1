package domain

import "time"

// RunStatus is the lifecycle state of a processing log entry.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// Operation types recorded in the processing log.
const (
	OpCSVImport           = "csv_import"
	OpCategorization      = "ai_categorization"
	OpDuplicateScan       = "duplicate_scan"
	OpDuplicateReview     = "duplicate_review"
	OpTransactionDeletion = "transaction_deletion"
	OpClearTransactions   = "clear_transactions"
	OpManualEntry         = "manual_entry"
)

// RunMeta describes a run when it starts.
type RunMeta struct {
	Operation  string
	SourceFile string
	Details    map[string]interface{}
}

// RunCounters are the truthful totals recorded when a run completes.
type RunCounters struct {
	Processed int
	Inserted  int
	Updated   int
	Skipped   int
	Errors    int
}

// RunLog is one processing log entry.
type RunLog struct {
	ID         int64
	Operation  string
	SourceFile string

	RunCounters

	Status      RunStatus
	Details     map[string]interface{}
	StartedAt   time.Time
	CompletedAt *time.Time
}

// VendorMapping is a rule assigning a category to matching descriptions.
type VendorMapping struct {
	ID       int64
	Pattern  string
	Category string
	IsRegex  bool
	Priority int
}
