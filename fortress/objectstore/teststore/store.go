// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory object store for tests.
package teststore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"artifortress.io/artifortress/fortress/objectstore"
	"artifortress.io/artifortress/internal/testrand"
)

var _ objectstore.Store = (*Store)(nil)

// Store is an in-memory objectstore.Store. All methods are safe for
// concurrent use.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
	etags   map[string]string
	uploads map[string]*multipart

	forced error
}

type multipart struct {
	key   string
	parts map[int]stagedPart
}

type stagedPart struct {
	data []byte
	etag string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects: map[string][]byte{},
		etags:   map[string]string{},
		uploads: map[string]*multipart{},
	}
}

// FailWith makes every subsequent call return err until called with nil.
func (store *Store) FailWith(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.forced = err
}

// StartMultipart begins a multipart upload for key.
func (store *Store) StartMultipart(ctx context.Context, key string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return "", store.forced
	}

	uploadID := testrand.Hex(16)
	store.uploads[uploadID] = &multipart{
		key:   key,
		parts: map[int]stagedPart{},
	}
	return uploadID, nil
}

// PresignPart returns a synthetic URL identifying the part slot.
func (store *Store) PresignPart(ctx context.Context, key, uploadID string, partNumber int, expires time.Duration) (*url.URL, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return nil, store.forced
	}

	upload, ok := store.uploads[uploadID]
	if !ok || upload.key != key {
		return nil, objectstore.ErrNotFound.New("upload %q", uploadID)
	}
	if partNumber < 1 {
		return nil, objectstore.ErrInvalidRequest.New("part number %d out of range", partNumber)
	}

	params := make(url.Values)
	params.Set("uploadId", uploadID)
	params.Set("partNumber", strconv.Itoa(partNumber))
	params.Set("X-Amz-Expires", strconv.Itoa(int(expires/time.Second)))
	return &url.URL{
		Scheme:   "https",
		Host:     "objects.test",
		Path:     "/" + key,
		RawQuery: params.Encode(),
	}, nil
}

// UploadPart stores part data the way a client holding the presigned URL
// would, returning the part's etag.
func (store *Store) UploadPart(uploadID string, partNumber int, data []byte) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	upload, ok := store.uploads[uploadID]
	if !ok {
		return "", objectstore.ErrNotFound.New("upload %q", uploadID)
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	upload.parts[partNumber] = stagedPart{
		data: append([]byte(nil), data...),
		etag: etag,
	}
	return etag, nil
}

// CompleteMultipart assembles the uploaded parts into the final object.
func (store *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objectstore.Part) (string, error) {
	normalized, err := objectstore.ValidatePartList(parts)
	if err != nil {
		return "", err
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return "", store.forced
	}

	upload, ok := store.uploads[uploadID]
	if !ok || upload.key != key {
		return "", objectstore.ErrNotFound.New("upload %q", uploadID)
	}

	var assembled bytes.Buffer
	for _, part := range normalized {
		staged, ok := upload.parts[part.Number]
		if !ok {
			return "", objectstore.ErrInvalidRequest.New("part %d was never uploaded", part.Number)
		}
		if staged.etag != part.ETag {
			return "", objectstore.ErrInvalidRequest.New("etag mismatch for part %d", part.Number)
		}
		assembled.Write(staged.data)
	}

	data := assembled.Bytes()
	sum := md5.Sum(data)
	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(normalized))

	store.objects[key] = data
	store.etags[key] = etag
	delete(store.uploads, uploadID)
	return etag, nil
}

// AbortMultipart discards staged parts.
func (store *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return store.forced
	}

	upload, ok := store.uploads[uploadID]
	if !ok || upload.key != key {
		return objectstore.ErrNotFound.New("upload %q", uploadID)
	}
	delete(store.uploads, uploadID)
	return nil
}

// Download returns the object or slice of it.
func (store *Store) Download(ctx context.Context, key string, byteRange *objectstore.Range) (*objectstore.Object, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return nil, store.forced
	}

	data, ok := store.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound.New("key %q", key)
	}

	object := &objectstore.Object{
		ContentType: "application/octet-stream",
		ETag:        store.etags[key],
	}

	if byteRange == nil {
		object.Body = io.NopCloser(bytes.NewReader(data))
		object.Length = int64(len(data))
		return object, nil
	}

	total := int64(len(data))
	if byteRange.Start < 0 || byteRange.End < byteRange.Start || byteRange.Start >= total {
		return nil, objectstore.ErrInvalidRange.New("range %d-%d outside object of %d bytes", byteRange.Start, byteRange.End, total)
	}
	end := byteRange.End
	if end >= total {
		end = total - 1
	}
	slice := data[byteRange.Start : end+1]
	object.Body = io.NopCloser(bytes.NewReader(slice))
	object.Length = int64(len(slice))
	object.ContentRange = objectstore.Range{Start: byteRange.Start, End: end}.ContentRange(total)
	return object, nil
}

// Delete removes the object. Missing keys succeed.
func (store *Store) Delete(ctx context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forced != nil {
		return store.forced
	}

	delete(store.objects, key)
	delete(store.etags, key)
	return nil
}

// CheckAvailability reports the forced error, if any.
func (store *Store) CheckAvailability(ctx context.Context) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.forced
}

// PutObject places a complete object directly, bypassing multipart.
func (store *Store) PutObject(key string, data []byte) {
	store.mu.Lock()
	defer store.mu.Unlock()

	sum := md5.Sum(data)
	store.objects[key] = append([]byte(nil), data...)
	store.etags[key] = hex.EncodeToString(sum[:])
}

// Keys lists stored object keys in sorted order.
func (store *Store) Keys() []string {
	store.mu.Lock()
	defer store.mu.Unlock()

	keys := make([]string, 0, len(store.objects))
	for key := range store.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Exists reports whether key holds an object.
func (store *Store) Exists(key string) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, ok := store.objects[key]
	return ok
}

// PendingUploads reports the number of unfinished multipart uploads.
func (store *Store) PendingUploads() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.uploads)
}
