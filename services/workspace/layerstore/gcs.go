// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layerstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AleutianAI/changegraph/services/workspace/ids"
)

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// GCSStore keeps layers as objects "<prefix>/<namespace>/<address hex>".
//
// Objects are created with a DoesNotExist precondition, so concurrent
// writers of the same layer never overwrite each other. Tenancy and actor
// are recorded as object metadata.
//
// Thread Safety: Safe for concurrent use.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// OpenGCS creates a storage client for cfg.
func OpenGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return NewGCSStore(client, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSStore wraps an existing client. Close closes the client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: client.Bucket(bucket), prefix: prefix}
}

func (s *GCSStore) objectName(ns Namespace, addr ids.Address) string {
	return path.Join(s.prefix, string(ns), addr.String())
}

// Write implements Store.
func (s *GCSStore) Write(ctx context.Context, ns Namespace, data []byte, meta Meta) (ids.Address, error) {
	if err := checkNamespace(ns); err != nil {
		return ids.Address{}, err
	}
	addr := ids.AddressOf(data)
	name := s.objectName(ns, addr)

	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"tenancy": meta.Tenancy, "actor": meta.Actor}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return ids.Address{}, fmt.Errorf("write gs://%s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return addr, nil
		}
		return ids.Address{}, fmt.Errorf("close gs://%s: %w", name, err)
	}
	return addr, nil
}

// Read implements Store.
func (s *GCSStore) Read(ctx context.Context, ns Namespace, addr ids.Address) ([]byte, bool, error) {
	if err := checkNamespace(ns); err != nil {
		return nil, false, err
	}
	name := s.objectName(ns, addr)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open gs://%s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read gs://%s: %w", name, err)
	}
	if ids.AddressOf(data) != addr {
		return nil, false, fmt.Errorf("%w: %s", ErrAddressMismatch, addr)
	}
	return data, true, nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
