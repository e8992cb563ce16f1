package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-ingest/internal/logger"
)

func TestRun(t *testing.T) {
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	db := filepath.Join(t.TempDir(), "ledger.db")

	steps := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "fresh database has no version", args: []string{"version"}, want: "No migrations applied."},
		{name: "up applies", args: []string{"up"}, want: "Migration up completed."},
		{name: "version after up", args: []string{"version"}, want: "Version 1"},
		{name: "up again is a no-op", args: nil, want: "No change."},
		{name: "bad step count", args: []string{"down", "zero"}, wantErr: true},
		{name: "down one step", args: []string{"down", "1"}, want: "Migration down completed."},
		{name: "version after down", args: []string{"version"}, want: "No migrations applied."},
		{name: "force requires a version", args: []string{"force"}, wantErr: true},
		{name: "unknown command", args: []string{"sideways"}, wantErr: true},
	}

	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(ctx, append([]string{"-db", db}, tt.args...), "", &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}
