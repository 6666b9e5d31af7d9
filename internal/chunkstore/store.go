// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package chunkstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/henchmeninteractive/henchlua/internal/chunkio"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Store is a SQLite database of chunks.
// It is safe to use from multiple goroutines concurrently.
type Store struct {
	db *sqlitemigration.Pool
}

// Open returns a store backed by the database at path,
// creating and migrating it as needed.
// Open does not block:
// errors opening the database are reported by the first operation.
func Open(path string) *Store {
	return &Store{
		db: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
			PrepareConn: prepareConn,
			OnStartMigrate: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Migrating chunk store %s...", path)
			},
			OnReady: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Chunk store %s ready", path)
			},
			OnError: func(err error) {
				ctx := context.Background()
				log.Errorf(ctx, "Chunk store migration: %v", err)
			},
		}),
	}
}

// Close releases the store's database connections.
func (s *Store) Close() error {
	return s.db.Close()
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = on;", nil); err != nil {
		return err
	}
	return nil
}

// Put validates chunk as a binary chunk
// and stores it compressed under its hash.
// If name is not empty, Put also binds name to the chunk,
// replacing any chunk previously stored under that name.
func (s *Store) Put(ctx context.Context, name string, chunk []byte) (_ Hash, err error) {
	what := name
	if what == "" {
		what = "chunk"
	}
	if _, err := luacode.Load(bytes.NewReader(chunk)); err != nil {
		return Hash{}, fmt.Errorf("put %s: %w", what, err)
	}
	h := Sum(chunk)
	compressed, err := chunkio.CompressBzip2(chunk)
	if err != nil {
		return Hash{}, fmt.Errorf("put %s: %v", what, err)
	}

	conn, err := s.db.Get(ctx)
	if err != nil {
		return Hash{}, fmt.Errorf("put %s: %v", what, err)
	}
	defer s.db.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return Hash{}, fmt.Errorf("put %s: %v", what, err)
	}
	defer endFn(&err)

	err = sqlitex.ExecuteFS(conn, sqlFiles(), "insert_chunk.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":hash":     h[:],
			":data":     compressed,
			":size":     int64(len(chunk)),
			":added_at": time.Now().UnixMilli(),
		},
	})
	if err != nil {
		return Hash{}, fmt.Errorf("put %s: %v", what, err)
	}
	if conn.Changes() == 0 {
		log.Debugf(ctx, "Chunk %v already present", h)
	}
	if name != "" {
		err = sqlitex.ExecuteFS(conn, sqlFiles(), "upsert_name.sql", &sqlitex.ExecOptions{
			Named: map[string]any{
				":name": name,
				":hash": h[:],
			},
		})
		if err != nil {
			return Hash{}, fmt.Errorf("put %s: %v", what, err)
		}
	}
	log.Infof(ctx, "Stored %s as %v (%d bytes, %d compressed)", what, h, len(chunk), len(compressed))
	return h, nil
}

// Bytes returns the uncompressed chunk that ref refers to.
// ref is either a name passed to [*Store.Put] or a hash.
// Names take precedence over hashes.
func (s *Store) Bytes(ctx context.Context, ref string) ([]byte, Hash, error) {
	conn, err := s.db.Get(ctx)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("get %s: %v", ref, err)
	}
	defer s.db.Put(conn)

	h, _, err := resolve(conn, ref)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("get %s: %w", ref, err)
	}
	var compressed []byte
	found := false
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "chunk_data.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":hash": h[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			compressed = make([]byte, stmt.GetLen("data"))
			stmt.GetBytes("data", compressed)
			return nil
		},
	})
	if err != nil {
		return nil, Hash{}, fmt.Errorf("get %s: %v", ref, err)
	}
	if !found {
		return nil, Hash{}, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	chunk, err := chunkio.DecompressBzip2(compressed)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("get %s: %v", ref, err)
	}
	if got := Sum(chunk); got != h {
		return nil, Hash{}, fmt.Errorf("get %s: content hash is %v", ref, got)
	}
	return chunk, h, nil
}

// Get returns the parsed chunk that ref refers to.
// See [*Store.Bytes] for the format of ref.
func (s *Store) Get(ctx context.Context, ref string, opts *luacode.LoadOptions) (*luacode.Prototype, Hash, error) {
	chunk, h, err := s.Bytes(ctx, ref)
	if err != nil {
		return nil, Hash{}, err
	}
	p, err := opts.Load(bytes.NewReader(chunk))
	if err != nil {
		return nil, Hash{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return p, h, nil
}

// Info returns the metadata of the chunk that ref refers to.
// See [*Store.Bytes] for the format of ref.
func (s *Store) Info(ctx context.Context, ref string) (*Chunk, error) {
	conn, err := s.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s info: %v", ref, err)
	}
	defer s.db.Put(conn)

	h, isName, err := resolve(conn, ref)
	if err != nil {
		return nil, fmt.Errorf("get %s info: %w", ref, err)
	}
	var info *Chunk
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "chunk_info.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":hash": h[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			info = scanChunk(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get %s info: %v", ref, err)
	}
	if info == nil {
		return nil, fmt.Errorf("get %s info: %w", ref, ErrNotFound)
	}
	if isName {
		info.Name = ref
	}
	return info, nil
}

// List returns the named chunks in the store, sorted by name.
func (s *Store) List(ctx context.Context) ([]*Chunk, error) {
	conn, err := s.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %v", err)
	}
	defer s.db.Put(conn)

	var chunks []*Chunk
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "list.sql", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			c := scanChunk(stmt)
			c.Name = stmt.GetText("name")
			chunks = append(chunks, c)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %v", err)
	}
	return chunks, nil
}

// Delete removes ref from the store.
// If ref is a name, Delete unbinds the name
// and removes the chunk if no other names refer to it.
// If ref is a hash, Delete removes the chunk and every name bound to it.
// Deleting a chunk also deletes its run history.
func (s *Store) Delete(ctx context.Context, ref string) (err error) {
	conn, err := s.db.Get(ctx)
	if err != nil {
		return fmt.Errorf("delete %s: %v", ref, err)
	}
	defer s.db.Put(conn)
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("delete %s: %v", ref, err)
	}
	defer endFn(&err)

	h, isName, err := resolve(conn, ref)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	if !isName {
		err = sqlitex.ExecuteFS(conn, sqlFiles(), "delete_chunk.sql", &sqlitex.ExecOptions{
			Named: map[string]any{":hash": h[:]},
		})
		if err != nil {
			return fmt.Errorf("delete %s: %v", ref, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("delete %s: %w", ref, ErrNotFound)
		}
		log.Infof(ctx, "Deleted chunk %v", h)
		return nil
	}

	err = sqlitex.ExecuteFS(conn, sqlFiles(), "delete_name.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":name": ref},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %v", ref, err)
	}
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "delete_unreferenced.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":hash": h[:]},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %v", ref, err)
	}
	if conn.Changes() > 0 {
		log.Infof(ctx, "Deleted %s and unreferenced chunk %v", ref, h)
	} else {
		log.Infof(ctx, "Deleted %s", ref)
	}
	return nil
}

// RecordRun adds a run of the chunk with hash h to the store's history.
// runErr is the error the run ended with, if any.
func (s *Store) RecordRun(ctx context.Context, h Hash, startedAt, endedAt time.Time, runErr error) (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("record run of %v: %v", h, err)
	}
	var errorText any
	if runErr != nil {
		errorText = runErr.Error()
	}

	conn, err := s.db.Get(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record run of %v: %v", h, err)
	}
	defer s.db.Put(conn)
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "insert_run.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id":         id.String(),
			":hash":       h[:],
			":started_at": startedAt.UnixMilli(),
			":ended_at":   max(endedAt.UnixMilli(), startedAt.UnixMilli()),
			":error":      errorText,
		},
	})
	if sqlite.ErrCode(err) == sqlite.ResultConstraintForeignKey {
		return uuid.Nil, fmt.Errorf("record run of %v: %w", h, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("record run of %v: %v", h, err)
	}
	log.Debugf(ctx, "Recorded run %v of %v", id, h)
	return id, nil
}

// Runs returns the recorded runs of the chunk that ref refers to,
// oldest first.
func (s *Store) Runs(ctx context.Context, ref string) ([]*Run, error) {
	conn, err := s.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %v", ref, err)
	}
	defer s.db.Put(conn)

	h, _, err := resolve(conn, ref)
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", ref, err)
	}
	var runs []*Run
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "runs.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":hash": h[:]},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id, err := uuid.Parse(stmt.GetText("id"))
			if err != nil {
				return fmt.Errorf("id: %v", err)
			}
			r := &Run{
				ID:        id,
				Hash:      h,
				StartedAt: time.UnixMilli(stmt.GetInt64("started_at")).UTC(),
				EndedAt:   time.UnixMilli(stmt.GetInt64("ended_at")).UTC(),
			}
			switch typ := stmt.ColumnType(stmt.ColumnIndex("error")); typ {
			case sqlite.TypeNull:
			case sqlite.TypeText:
				r.Failed = true
				r.Error = stmt.GetText("error")
			default:
				return fmt.Errorf("type(error) = %v", typ)
			}
			runs = append(runs, r)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %v", ref, err)
	}
	return runs, nil
}

// resolve returns the hash of the chunk that ref refers to
// and whether ref is a name.
// It does not check whether the chunk exists.
func resolve(conn *sqlite.Conn, ref string) (_ Hash, isName bool, err error) {
	var h Hash
	found := false
	err = sqlitex.ExecuteFS(conn, sqlFiles(), "resolve_name.sql", &sqlitex.ExecOptions{
		Named: map[string]any{":name": ref},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			stmt.GetBytes("hash", h[:])
			return nil
		},
	})
	if err != nil {
		return Hash{}, false, err
	}
	if found {
		return h, true, nil
	}
	h, err = ParseHash(ref)
	if err != nil {
		return Hash{}, false, ErrNotFound
	}
	return h, false, nil
}

func scanChunk(stmt *sqlite.Stmt) *Chunk {
	c := &Chunk{
		Size:       stmt.GetInt64("size"),
		StoredSize: stmt.GetInt64("stored_size"),
		AddedAt:    time.UnixMilli(stmt.GetInt64("added_at")).UTC(),
	}
	stmt.GetBytes("hash", c.Hash[:])
	return c
}
