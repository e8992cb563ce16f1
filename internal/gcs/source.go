package gcs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Source lists and reads *.csv objects under a bucket prefix.
type Source struct {
	client    *storage.Client
	bucket    string
	prefix    string
	recursive bool
}

// NewSource creates a Source for uri ("gs://bucket/prefix"). It assumes
// Application Default Credentials are configured.
func NewSource(ctx context.Context, uri string, recursive bool) (*Source, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("NewSource: %w", err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewSource: create storage client: %w", err)
	}
	return &Source{client: client, bucket: bucket, prefix: prefix, recursive: recursive}, nil
}

// Close releases the storage client.
func (s *Source) Close() error {
	return s.client.Close()
}

// Location returns the source URI.
func (s *Source) Location() string {
	return ObjectURI(s.bucket, s.prefix)
}

// Discover lists CSV objects sorted by name. Without recursion only objects
// directly under the prefix are returned.
func (s *Source) Discover(ctx context.Context) ([]string, error) {
	q := &storage.Query{Prefix: s.prefix}
	if !s.recursive {
		q.Delimiter = "/"
	}

	var names []string
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Discover: list %s: %w", s.Location(), err)
		}
		if attrs.Name == "" {
			continue
		}
		if isCSV(attrs.Name) {
			names = append(names, ObjectURI(s.bucket, attrs.Name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read downloads one object by its gs:// URI.
func (s *Source) Read(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Read: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Read: reading bytes: %w", err)
	}
	return data, nil
}

func isCSV(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}
