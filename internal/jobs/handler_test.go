package jobs

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

type scanFunc func(ctx context.Context, opts review.ScanOptions) (*review.ScanResult, error)

func (f scanFunc) Scan(ctx context.Context, opts review.ScanOptions) (*review.ScanResult, error) {
	return f(ctx, opts)
}

func TestHandler_DuplicateScan(t *testing.T) {
	var got review.ScanOptions
	h := NewHandler(scanFunc(func(ctx context.Context, opts review.ScanOptions) (*review.ScanResult, error) {
		got = opts
		return &review.ScanResult{RunID: 4, Candidates: 10, Staged: 2, Groups: make([]review.ScannedGroup, 3), Skipped: 1}, nil
	}), nil)

	job := &Job{JobID: "j1", Type: JobTypeDuplicateScan, Params: Params{AsOf: "2024-06-30", AutoFinalize: true}}
	require.NoError(t, h(context.Background(), job))

	assert.Equal(t, civil.Date{Year: 2024, Month: 6, Day: 30}, got.AsOf)
	assert.True(t, got.AutoFinalize)
	assert.Equal(t, int64(4), job.RunID)
	assert.Equal(t, 3, job.Result["groups"])
	assert.Equal(t, 2, job.Result["staged"])
}

func TestHandler_Errors(t *testing.T) {
	failingScan := scanFunc(func(ctx context.Context, opts review.ScanOptions) (*review.ScanResult, error) {
		return nil, errors.New("db locked")
	})

	tests := []struct {
		name    string
		job     *Job
		wantErr string
	}{
		{name: "bad as_of", job: &Job{Type: JobTypeDuplicateScan, Params: Params{AsOf: "30/06/2024"}}, wantErr: "bad as_of"},
		{name: "scan fails", job: &Job{Type: JobTypeDuplicateScan}, wantErr: "db locked"},
		{name: "categorize not configured", job: &Job{Type: JobTypeCategorize}, wantErr: "not configured"},
		{name: "unknown type", job: &Job{Type: "parse_document"}, wantErr: "unexpected job type"},
	}
	h := NewHandler(failingScan, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h(context.Background(), tt.job)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, tt.job.Result)
		})
	}
}

func TestHandler_Categorize(t *testing.T) {
	var gotLimit int
	h := NewHandler(nil, func(ctx context.Context, limit int) (*categorize.RunSummary, error) {
		gotLimit = limit
		return &categorize.RunSummary{RunID: 9, Rows: 5, Updated: 5, Result: categorize.Result{ByRule: 2, ByModel: 2, Fallback: 1}}, nil
	})

	job := &Job{Type: JobTypeCategorize, Params: Params{Limit: 25}}
	require.NoError(t, h(context.Background(), job))
	assert.Equal(t, 25, gotLimit)
	assert.Equal(t, int64(9), job.RunID)
	assert.Equal(t, 5, job.Result["updated"])
	assert.Equal(t, 1, job.Result["fallback"])
}
