// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// Loader reads artifacts from the local filesystem or Google Cloud Storage.
//
// The storage client is created lazily on the first gs:// location and
// reused afterwards.
//
// Thread Safety: Loader is safe for concurrent use.
type Loader struct {
	credentialsFile string
	logger          *slog.Logger

	mu     sync.Mutex
	client *storage.Client
}

// NewLoader creates a Loader. credentialsFile is a service account key used
// for gs:// locations; empty means application default credentials.
func NewLoader(credentialsFile string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{credentialsFile: credentialsFile, logger: logger}
}

// IsRemote reports whether location is a gs:// URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, gcsScheme)
}

// Open returns a reader for location.
func (l *Loader) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsRemote(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open artifact: %w", err)
		}
		return f, nil
	}

	bucket, object, err := splitGCS(location)
	if err != nil {
		return nil, err
	}
	client, err := l.storageClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object %s: %w", location, err)
	}
	l.logger.Debug("reading artifact from GCS",
		slog.String("bucket", bucket),
		slog.String("object", object),
	)
	return r, nil
}

// ReadAll returns the full contents of location.
func (l *Loader) ReadAll(ctx context.Context, location string) ([]byte, error) {
	r, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", location, err)
	}
	return data, nil
}

// LoadManifest reads and parses a manifest.json at location.
func (l *Loader) LoadManifest(ctx context.Context, location string) (*Manifest, error) {
	r, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return Parse(r, WithLogger(l.logger))
}

// LoadRunResults reads and parses a run_results.json at location.
func (l *Loader) LoadRunResults(ctx context.Context, location string) (*RunResults, error) {
	r, err := l.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ParseRunResults(r)
}

// Close releases the storage client, if one was created.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	return err
}

func (l *Loader) storageClient(ctx context.Context) (*storage.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}

	var opts []option.ClientOption
	if l.credentialsFile != "" {
		if _, err := os.Stat(l.credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", l.credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(l.credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	l.client = client
	return client, nil
}

// splitGCS splits gs://bucket/path/to/object.
func splitGCS(location string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(location, gcsScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS location %q: want gs://bucket/object", location)
	}
	return bucket, object, nil
}
