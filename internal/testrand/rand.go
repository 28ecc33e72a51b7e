// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testrand implements generating random base types for testing.
package testrand

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand"

	"github.com/google/uuid"
)

// Int63n returns a non-negative pseudo-random number in [0,n).
// It panics if n <= 0.
func Int63n(n int64) int64 {
	return rand.Int63n(n)
}

// Read reads pseudo-random data into data.
func Read(data []byte) {
	const newSourceThreshold = 64
	if len(data) < newSourceThreshold {
		_, _ = rand.Read(data)
		return
	}

	src := rand.NewSource(rand.Int63())
	r := rand.New(src)
	_, _ = r.Read(data)
}

// BytesN generates size amount of random data.
func BytesN(size int) []byte {
	data := make([]byte, size)
	Read(data)
	return data
}

// Reader creates a new random data reader.
func Reader() io.Reader {
	return rand.New(rand.NewSource(rand.Int63()))
}

// UUID creates a random uuid.
func UUID() uuid.UUID {
	var id uuid.UUID
	Read(id[:])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// Digest returns the lowercase hex sha-256 of random data, which is what a
// content digest of an arbitrary payload looks like.
func Digest() string {
	sum := sha256.Sum256(BytesN(32))
	return hex.EncodeToString(sum[:])
}

// DigestOf returns the lowercase hex sha-256 of data.
func DigestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hex returns n random bytes in lowercase hex encoding.
func Hex(n int) string {
	return hex.EncodeToString(BytesN(n))
}
