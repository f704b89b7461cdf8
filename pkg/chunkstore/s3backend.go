// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Backend stores chunks as objects in an S3-compatible bucket, keyed by
// their sharded path: aws-sdk-go-v2 with static credentials and an
// optional custom endpoint for S3-compatible object stores.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend builds a backend for bucket[/prefix] (the part of an
// "s3://bucket/prefix" datapath URL after the scheme). Endpoint, region
// and credentials are read from the environment the same way the AWS SDK
// always does (SCANREC_S3_ENDPOINT is checked first for S3-compatible
// stores such as MinIO).
func NewS3Backend(bucketAndPrefix string) (*S3Backend, error) {
	bucket, prefix, _ := strings.Cut(bucketAndPrefix, "/")
	if bucket == "" {
		return nil, errors.New("chunkstore: empty S3 bucket in datapath")
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if ak, sk := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); ak != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := os.Getenv("SCANREC_S3_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, bucket: bucket, prefix: prefix}, nil
}

func (b *S3Backend) key(path string) string {
	sharded := ShardedPath(path)
	if b.prefix == "" {
		return sharded
	}
	return b.prefix + "/" + sharded
}

var _ AppendableBackend = (*S3Backend)(nil)

// Append performs a get-modify-put since S3 has no native append; it is
// only adequate for the modest per-flush batch sizes BufferList uses.
func (b *S3Backend) Append(ctx context.Context, path string, data []byte) error {
	existing, err := b.Get(ctx, path)
	if err != nil {
		existing = nil
	}
	return b.Put(ctx, path, append(existing, data...))
}

func (b *S3Backend) Put(ctx context.Context, path string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("chunkstore: s3 put %s: %w", path, err)
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: s3 get %s: %w", path, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Exists(ctx context.Context, path string) bool {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	return err == nil
}

func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
			return nil
		}
		return fmt.Errorf("chunkstore: s3 delete %s: %w", path, err)
	}
	return nil
}
