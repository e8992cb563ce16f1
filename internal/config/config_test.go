package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"DATABASE_PATH", "LOOSE_WINDOW_DAYS", "AMOUNT_TOLERANCE", "CATEGORIZE_BACKOFF", "CATEGORIZE_ON_INGEST"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, "ledger.db", cfg.DatabasePath)
	assert.Equal(t, 30, cfg.LooseWindowDays)
	assert.InDelta(t, 0.01, cfg.AmountTolerance, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.CategorizeBackoff)
	assert.False(t, cfg.CategorizeOnIngest)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/x.db")
	t.Setenv("LOOSE_WINDOW_DAYS", "0")
	t.Setenv("AUTO_FINALIZE_THRESHOLD", "0.95")
	t.Setenv("CATEGORIZE_BACKOFF", "500ms")
	t.Setenv("CATEGORIZE_ON_INGEST", "true")

	cfg := FromEnv()

	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
	assert.Equal(t, 0, cfg.LooseWindowDays)
	assert.InDelta(t, 0.95, cfg.AutoFinalizeThreshold, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.CategorizeBackoff)
	assert.True(t, cfg.CategorizeOnIngest)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PARSE_WORKERS", "many")
	t.Setenv("AMOUNT_TOLERANCE", "a cent")

	cfg := FromEnv()

	assert.Equal(t, 4, cfg.ParseWorkers)
	assert.InDelta(t, 0.01, cfg.AmountTolerance, 1e-9)
}
