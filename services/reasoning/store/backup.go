// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Backup streams a full BadgerDB backup to w and returns the backup
// version (usable as the `since` marker of a future incremental backup).
func (b *BadgerStore) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if b.closed.Load() {
		return 0, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.db.Backup(w, 0)
}

// BackupToFile writes a timestamped full backup under dir and returns the
// file path. The partial file is removed if the backup fails midway.
func BackupToFile(ctx context.Context, b *BadgerStore, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create backup directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("denali-%s.bak", time.Now().UTC().Format("20060102T150405Z"))
	dst := filepath.Join(dir, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create backup file %s: %w", dst, err)
	}

	if _, err := b.Backup(ctx, f); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write backup %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close backup file %s: %w", dst, err)
	}

	b.logger.Info("store backup written", slog.String("path", dst))
	return dst, nil
}

// Uploader pushes backup files to Google Cloud Storage. Session traces
// may embed user task content, so uploaded objects are never cacheable.
type Uploader struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploader creates a GCS uploader.
//
// Inputs:
//
//	ctx - Context for client construction.
//	bucket - Target bucket name. Required.
//	prefix - Object name prefix (e.g. "denali-backups"). May be empty.
//	credentialsFile - Service account key path. Empty uses application
//	                  default credentials.
//
// Outputs:
//
//	*Uploader - Ready-to-use uploader. Call Close() when done.
//	error - Non-nil if the key file is missing or the client fails.
func NewUploader(ctx context.Context, bucket, prefix, credentialsFile string, logger *slog.Logger) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "backup")),
	}, nil
}

// UploadFile copies a local backup file into the bucket and returns the
// object name.
func (u *Uploader) UploadFile(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file %s: %w", localPath, err)
	}
	defer f.Close()

	objectName := path.Join(u.prefix, filepath.Base(localPath))
	obj := u.client.Bucket(u.bucket).Object(objectName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, f); err != nil {
		return "", fmt.Errorf("copy %s to GCS object %s: %w", localPath, objectName, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", objectName, err)
	}

	u.logger.Info("backup uploaded",
		slog.String("bucket", u.bucket),
		slog.String("object", objectName))
	return objectName, nil
}

// Close releases the underlying GCS client.
func (u *Uploader) Close() error {
	return u.client.Close()
}
