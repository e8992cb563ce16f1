// Package gcs reads statement files from and archives them to Google Cloud
// Storage.
package gcs

import (
	"fmt"
	"path"
	"strings"
)

// Scheme prefixes every storage URI.
const Scheme = "gs://"

// IsURI reports whether s names a storage location.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits "gs://bucket/some/prefix" into bucket and object prefix.
// The prefix may be empty.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, Scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// ObjectURI joins a bucket and object name.
func ObjectURI(bucket, object string) string {
	return Scheme + bucket + "/" + object
}

// Filename extracts the base name from a storage URI or object name.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, Scheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ArchiveObject is the archive object name for a source file of a run.
func ArchiveObject(runID int64, name string) string {
	return fmt.Sprintf("%d/%s", runID, path.Base(strings.ReplaceAll(name, "\\", "/")))
}
