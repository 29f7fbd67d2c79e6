/*
Package filestore writes build outputs to a local directory or an S3 bucket.

 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// FileStore reads and writes files by slash separated paths relative to its root.
// Implementations are safe for concurrent use.
type FileStore interface {
	// Read opens a file. Missing files produce an error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	// Write creates or truncates a file. The data is only complete once the writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)
	// Delete removes a file, succeeding if it doesn't exist.
	Delete(ctx context.Context, path string) error
	// Exists returns whether a file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Options configures Open.
type Options struct {
	// S3Endpoint overrides the S3 endpoint, for S3 compatible stores. Path style addressing is used with it.
	S3Endpoint string
	// S3Region overrides the region of the default AWS configuration.
	S3Region string
}

// Open returns the store of a location: s3://bucket/prefix for S3, anything else is a local directory.
func Open(ctx context.Context, location string, opts Options) (FileStore, error) {
	rest, isS3 := strings.CutPrefix(location, "s3://")
	if !isS3 {
		return NewLocal(location)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("filestore: no bucket in %q", location)
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.S3Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("filestore: loading AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, bucket, strings.TrimSuffix(prefix, "/")), nil
}
