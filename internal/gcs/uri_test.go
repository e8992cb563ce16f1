package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{uri: "gs://statements/2024/jan.csv", wantBucket: "statements", wantPrefix: "2024/jan.csv"},
		{uri: "gs://statements/inbox/", wantBucket: "statements", wantPrefix: "inbox/"},
		{uri: "gs://statements", wantBucket: "statements"},
		{uri: "gs:///inbox", wantErr: true},
		{uri: "/tmp/inbox", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "file.csv", Filename("gs://bucket/folder/file.csv"))
	assert.Equal(t, "bucket", Filename("gs://bucket"))
}

func TestArchiveObject(t *testing.T) {
	assert.Equal(t, "42/jan.csv", ArchiveObject(42, "/home/me/statements/jan.csv"))
	assert.Equal(t, "42/jan.csv", ArchiveObject(42, "gs://in/2024/jan.csv"))
	assert.Equal(t, "7/feb.csv", ArchiveObject(7, `C:\exports\feb.csv`))
}

func TestIsCSV(t *testing.T) {
	assert.True(t, isCSV("2024/jan.CSV"))
	assert.False(t, isCSV("2024/"))
	assert.False(t, isCSV("notes.txt"))
}
