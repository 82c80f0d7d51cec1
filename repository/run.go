package repository

import (
	"context"
	"time"
)

type RunRecord struct {
	RunID         string    `json:"run_id"`
	Scheme        string    `json:"scheme"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Selected      int       `json:"selected"`
	Encoded       int       `json:"encoded"`
	Skipped       int       `json:"skipped"`
	FailedBatches int       `json:"failed_batches"`
	Error         string    `json:"error,omitempty"`
}

type RunLedger interface {
	Record(ctx context.Context, run *RunRecord) error
	Recent(ctx context.Context, n int) ([]RunRecord, error)
}
