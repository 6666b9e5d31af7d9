// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package chunkio reads precompiled Lua chunks from files,
// transparently decompressing them.
package chunkio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

// BrotliExt is the file extension that marks a Brotli-compressed chunk.
// Brotli streams have no magic number, so the extension is the only signal.
const BrotliExt = ".br"

const bzip2Magic = "BZh"

// Open opens the chunk file at path for reading.
// Files whose name ends in [BrotliExt] are decompressed with Brotli
// and files that start with the bzip2 magic number are decompressed with bzip2.
// Other files are returned as-is.
// The path "-" refers to standard input.
//
// The file is closed when the returned reader is closed
// or when ctx is done, whichever comes first.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var src io.Reader
	var closer io.Closer
	if path == "-" {
		src, closer = os.Stdin, io.NopCloser(nil)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src, closer = f, xcontext.CloseWhenDone(ctx, f)
	}
	r, err := NewReader(src, strings.EqualFold(filepath.Ext(path), BrotliExt))
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Debugf(ctx, "Opened chunk file %s", path)
	return &readCloser{
		Reader:  r,
		closers: []io.Closer{r, closer},
	}, nil
}

// NewReader returns a reader that decompresses r.
// If isBrotli is true, then r is treated as a Brotli stream.
// Otherwise, NewReader sniffs r for the bzip2 magic number
// and passes other data through unchanged.
func NewReader(r io.Reader, isBrotli bool) (io.ReadCloser, error) {
	if isBrotli {
		br, err := brotli.NewReader(r, nil)
		if err != nil {
			return nil, err
		}
		return br, nil
	}
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(bzip2Magic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if string(magic) != bzip2Magic {
		return io.NopCloser(br), nil
	}
	zr, err := bzip2.NewReader(br, nil)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

// Read reads and parses the chunk file at path.
func Read(ctx context.Context, path string, opts *luacode.LoadOptions) (*luacode.Prototype, error) {
	rc, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	p, err := opts.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p, nil
}

// CompressBzip2 returns data compressed with bzip2 at the best compression level.
func CompressBzip2(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	zw, err := bzip2.NewWriter(buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, fmt.Errorf("compress: %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %v", err)
	}
	return buf.Bytes(), nil
}

// DecompressBzip2 returns the decompressed contents of a bzip2 stream.
func DecompressBzip2(data []byte) ([]byte, error) {
	zr, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %v", err)
	}
	return out, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var errs []error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
