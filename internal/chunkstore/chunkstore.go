// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package chunkstore provides a content-addressed database
// of validated Lua bytecode chunks
// along with a history of their runs.
package chunkstore

import (
	"bytes"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"zombiezen.com/go/sqlite/sqlitemigration"
)

// ErrNotFound is returned when a chunk reference
// does not name a chunk in the store.
var ErrNotFound = errors.New("chunk not found")

// Hash is the BLAKE2b-256 digest of an uncompressed binary chunk.
type Hash [blake2b.Size256]byte

// Sum returns the hash of the given chunk.
func Sum(chunk []byte) Hash {
	return blake2b.Sum256(chunk)
}

// ParseHash parses a hex-encoded hash as returned by [Hash.String].
func ParseHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// String returns the hash in lowercase hexadecimal.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements [encoding.TextMarshaler]
// by returning the same string as [Hash.String].
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler]
// by parsing a hex-encoded hash.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(h)) {
		return fmt.Errorf("parse chunk hash %q: wrong length", text)
	}
	var tmp Hash
	if _, err := hex.Decode(tmp[:], bytes.ToLower(text)); err != nil {
		return fmt.Errorf("parse chunk hash %q: %v", text, err)
	}
	*h = tmp
	return nil
}

// Chunk is the metadata of a stored chunk.
type Chunk struct {
	// Name is the name the chunk was stored under.
	// It is empty for chunks referenced only by hash.
	Name string
	Hash Hash
	// Size is the size of the uncompressed chunk in bytes.
	Size int64
	// StoredSize is the number of bytes the compressed chunk occupies.
	StoredSize int64
	AddedAt    time.Time
}

// Run is a record of a single execution of a chunk.
type Run struct {
	ID        uuid.UUID
	Hash      Hash
	StartedAt time.Time
	EndedAt   time.Time
	// Failed is true if the run ended in an error.
	// Error holds the error message.
	Failed bool
	Error  string
}

// Duration returns the time between the run's start and end.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})

	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}
