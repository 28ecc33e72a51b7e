// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// Config holds the connection settings for the S3-compatible backend.
type Config struct {
	Endpoint  string `help:"s3-compatible endpoint as host:port" default:"127.0.0.1:9000"`
	Bucket    string `help:"bucket holding staged and committed payloads" default:"artifortress"`
	AccessKey string `help:"access key id" default:""`
	SecretKey string `help:"secret access key" default:""`
	UseSSL    bool   `help:"use https towards the object store" default:"false"`
	Region    string `help:"bucket region" default:""`
}

// MinioStore implements Store on top of an S3-compatible backend through
// the minio client.
type MinioStore struct {
	log    *zap.Logger
	core   *minio.Core
	bucket string
}

// NewMinioStore connects a MinioStore per config.
func NewMinioStore(log *zap.Logger, config Config) (*MinioStore, error) {
	core, err := minio.NewCore(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &MinioStore{
		log:    log,
		core:   core,
		bucket: config.Bucket,
	}, nil
}

// StartMultipart begins a multipart upload for key.
func (store *MinioStore) StartMultipart(ctx context.Context, key string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	uploadID, err := store.core.NewMultipartUpload(ctx, store.bucket, key, minio.PutObjectOptions{})
	if err != nil {
		return "", classify("start multipart", err)
	}
	return uploadID, nil
}

// PresignPart returns a URL for uploading one part of the given upload.
func (store *MinioStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (_ *url.URL, err error) {
	defer mon.Task()(&ctx)(&err)

	params := make(url.Values)
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))

	presigned, err := store.core.Presign(ctx, http.MethodPut, store.bucket, key, expires, params)
	if err != nil {
		return nil, classify("presign part", err)
	}
	return presigned, nil
}

// CompleteMultipart assembles uploaded parts into the final object.
func (store *MinioStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	normalized, err := ValidatePartList(parts)
	if err != nil {
		return "", err
	}

	completeParts := make([]minio.CompletePart, 0, len(normalized))
	for _, part := range normalized {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: part.Number,
			ETag:       part.ETag,
		})
	}

	info, err := store.core.CompleteMultipartUpload(ctx, store.bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return "", classify("complete multipart", err)
	}
	return trimETag(info.ETag), nil
}

// AbortMultipart releases the staged parts of an upload.
func (store *MinioStore) AbortMultipart(ctx context.Context, key, uploadID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = store.core.AbortMultipartUpload(ctx, store.bucket, key, uploadID)
	if err != nil {
		return classify("abort multipart", err)
	}
	return nil
}

// Download streams the object at key, optionally sliced to byteRange.
func (store *MinioStore) Download(ctx context.Context, key string, byteRange *Range) (_ *Object, err error) {
	defer mon.Task()(&ctx)(&err)

	opts := minio.GetObjectOptions{}
	if byteRange != nil {
		if byteRange.Start < 0 || byteRange.End < byteRange.Start {
			return nil, ErrInvalidRange.New("bad range %d-%d", byteRange.Start, byteRange.End)
		}
		if err := opts.SetRange(byteRange.Start, byteRange.End); err != nil {
			return nil, ErrInvalidRange.Wrap(err)
		}
	}

	body, info, header, err := store.core.GetObject(ctx, store.bucket, key, opts)
	if err != nil {
		return nil, classify("download", err)
	}

	object := &Object{
		Body:         body,
		Length:       info.Size,
		ContentType:  info.ContentType,
		ETag:         trimETag(info.ETag),
		ContentRange: header.Get("Content-Range"),
	}
	return object, nil
}

// Delete removes the object at key. Missing keys succeed.
func (store *MinioStore) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = store.core.Client.RemoveObject(ctx, store.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		classified := classify("delete", err)
		if ErrNotFound.Has(classified) {
			return nil
		}
		return classified
	}
	return nil
}

// CheckAvailability probes the configured bucket.
func (store *MinioStore) CheckAvailability(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := store.core.Client.BucketExists(ctx, store.bucket)
	if err != nil {
		return classify("check availability", err)
	}
	if !exists {
		return Error.New("bucket %q does not exist", store.bucket)
	}
	return nil
}

// classify folds a backend failure into one of the error classes. Anything
// unrecognized stays in the catch-all Error class so it surfaces as an
// internal failure rather than blaming the caller.
func classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" || resp.StatusCode != 0 {
		switch resp.Code {
		case "NoSuchKey", "NoSuchUpload", "NoSuchBucket":
			return ErrNotFound.Wrap(err)
		case "InvalidRange":
			return ErrInvalidRange.Wrap(err)
		case "AccessDenied", "SignatureDoesNotMatch", "InvalidAccessKeyId":
			return ErrAccessDenied.Wrap(err)
		case "InvalidArgument", "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "MalformedXML":
			return ErrInvalidRequest.Wrap(err)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return ErrTransient.Wrap(err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound.Wrap(err)
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			return ErrInvalidRange.Wrap(err)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrAccessDenied.Wrap(err)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return ErrTransient.Wrap(err)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return ErrInvalidRequest.Wrap(err)
		}
		return Error.New("%s failed: %v", op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTransient.Wrap(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrTransient.Wrap(err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrTransient.Wrap(err)
	}

	return Error.New("%s failed: %v", op, err)
}
