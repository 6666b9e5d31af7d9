// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/henchmeninteractive/henchlua/internal/chunkio"
	"github.com/henchmeninteractive/henchlua/internal/chunkstore"
	"github.com/henchmeninteractive/henchlua/internal/lua"
	"github.com/henchmeninteractive/henchlua/internal/luacode"
	"github.com/henchmeninteractive/henchlua/internal/luanum"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"zombiezen.com/go/log"
)

type runOptions struct {
	chunks     []string
	format     outputFormat
	output     string
	record     bool
	stripDebug bool
	optimize   bool
}

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "run [options] CHUNK [...]",
		Short: "run precompiled chunks",
		Long: "Run one or more precompiled chunks concurrently and print their results.\n" +
			"Each CHUNK is a file path, \"-\" for standard input, or the name or hash of a stored chunk.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &runOptions{format: g.Format}
	c.Flags().VarP(&opts.format, "format", "f", "result `format`")
	c.Flags().StringVarP(&opts.output, "output", "o", "", "write results to `file` (\"-\" forces standard output)")
	c.Flags().IntVarP(&g.Jobs, "jobs", "j", g.Jobs, "run up to `n` chunks at once")
	c.Flags().BoolVar(&opts.record, "record", false, "add chunks to the store and record each run")
	c.Flags().BoolVarP(&opts.stripDebug, "strip-debug", "s", false, "discard debug information when loading")
	c.Flags().BoolVarP(&opts.optimize, "optimize", "O", false, "copy upvalues that are never reassigned")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.chunks = args
		return runRun(cmd.Context(), g, opts)
	}
	return c
}

// loadedChunk is a chunk ready to run.
type loadedChunk struct {
	ref   string
	proto *luacode.Prototype
	// raw is the uncompressed binary chunk.
	raw []byte
	// hash is set if the chunk came from the store.
	hash chunkstore.Hash
}

// chunkResult is the outcome of running one chunk.
type chunkResult struct {
	Chunk     string    `json:"chunk" cbor:"chunk"`
	Results   []any     `json:"results" cbor:"results"`
	Error     string    `json:"error,omitempty" cbor:"error,omitempty"`
	StartedAt time.Time `json:"startedAt" cbor:"startedAt"`
	EndedAt   time.Time `json:"endedAt" cbor:"endedAt"`

	err error
}

func runRun(ctx context.Context, g *globalConfig, opts *runOptions) (err error) {
	var out io.Writer
	switch {
	case opts.output == "" && opts.format == formatCBOR && term.IsTerminal(int(os.Stdout.Fd())):
		return errors.New("refusing to send CBOR to stdout (a tty). Pass --output=- to override.")
	case opts.output == "" || opts.output == "-":
		out = os.Stdout
	default:
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := f.Close(); err == nil && closeErr != nil {
				err = closeErr
			}
		}()
		out = f
	}

	var store *chunkstore.Store
	getStore := func() (*chunkstore.Store, error) {
		if store == nil {
			var err error
			store, err = g.openStore()
			if err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	defer func() {
		if store != nil {
			if err := store.Close(); err != nil {
				log.Errorf(ctx, "Closing chunk store: %v", err)
			}
		}
	}()

	loadOpts := &luacode.LoadOptions{
		StripDebug: opts.stripDebug,
		Optimize:   opts.optimize,
	}
	chunks := make([]*loadedChunk, 0, len(opts.chunks))
	for _, ref := range opts.chunks {
		c, err := loadChunk(ctx, getStore, ref, loadOpts)
		if err != nil {
			return err
		}
		chunks = append(chunks, c)
	}

	// print writes to stdout unless encoded results are going there.
	printOutput := io.Writer(os.Stdout)
	if opts.format != formatText && out == os.Stdout {
		printOutput = os.Stderr
	}
	printOutput = &lockedWriter{w: printOutput}

	results := make([]*chunkResult, len(chunks))
	grp := new(errgroup.Group)
	grp.SetLimit(g.Jobs)
	for i, c := range chunks {
		grp.Go(func() error {
			results[i] = runChunk(ctx, c, printOutput, g.MaxCCalls)
			return nil
		})
	}
	grp.Wait() // Goroutines report failures in results.

	if opts.record {
		s, err := getStore()
		if err != nil {
			return err
		}
		for i, c := range chunks {
			if err := recordRun(ctx, s, c, results[i]); err != nil {
				return err
			}
		}
	}

	if err := writeResults(out, opts.format, results); err != nil {
		return err
	}

	var failed []*chunkResult
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r)
		}
	}
	switch {
	case len(failed) == 0:
		return nil
	case len(results) == 1:
		return failed[0].err
	default:
		for _, r := range failed {
			log.Errorf(ctx, "%s: %v", r.Chunk, r.err)
		}
		return fmt.Errorf("%d of %d chunks failed", len(failed), len(results))
	}
}

// loadChunk reads a chunk from a file (or standard input)
// or, if no such file exists, from the chunk store.
func loadChunk(ctx context.Context, getStore func() (*chunkstore.Store, error), ref string, opts *luacode.LoadOptions) (*loadedChunk, error) {
	if _, statErr := os.Stat(ref); ref == "-" || statErr == nil {
		rc, err := chunkio.Open(ctx, ref)
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %v", ref, err)
		}
		p, err := opts.Load(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ref, err)
		}
		log.Debugf(ctx, "Loaded %s from file", ref)
		return &loadedChunk{ref: ref, proto: p, raw: raw}, nil
	}

	store, err := getStore()
	if err != nil {
		return nil, err
	}
	raw, h, err := store.Bytes(ctx, ref)
	if errors.Is(err, chunkstore.ErrNotFound) {
		return nil, fmt.Errorf("%s: no such file or stored chunk", ref)
	}
	if err != nil {
		return nil, err
	}
	p, err := opts.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	log.Debugf(ctx, "Loaded %s from store (%v)", ref, h)
	return &loadedChunk{ref: ref, proto: p, raw: raw, hash: h}, nil
}

// runChunk runs a chunk on a fresh thread.
func runChunk(ctx context.Context, c *loadedChunk, printOutput io.Writer, maxCCalls int) *chunkResult {
	r := &chunkResult{
		Chunk:     c.ref,
		StartedAt: time.Now(),
	}
	defer func() {
		r.EndedAt = time.Now()
		if r.err != nil {
			r.Error = r.err.Error()
		}
	}()

	l := lua.NewThread()
	l.SetMaxCCalls(maxCCalls)
	err := lua.OpenLibraries(l, &lua.Options{
		Base: &lua.BaseOptions{Output: printOutput},
	})
	if err != nil {
		r.err = err
		return r
	}
	if err := l.Load(c.proto); err != nil {
		r.err = err
		return r
	}
	if err := l.Call(ctx, 0, lua.CallReturnAll); err != nil {
		r.err = err
		return r
	}
	r.Results = make([]any, 0, l.Top())
	for i, v := range l.GetStackElements(1, l.Top()) {
		x, err := luaToGo(v)
		if err != nil {
			r.err = fmt.Errorf("result #%d: %v", i+1, err)
			return r
		}
		r.Results = append(r.Results, x)
	}
	return r
}

func recordRun(ctx context.Context, store *chunkstore.Store, c *loadedChunk, r *chunkResult) error {
	h := c.hash
	if h.IsZero() {
		var err error
		h, err = store.Put(ctx, "", c.raw)
		if err != nil {
			return fmt.Errorf("record %s: %w", c.ref, err)
		}
	}
	id, err := store.RecordRun(ctx, h, r.StartedAt, r.EndedAt, r.err)
	if err != nil {
		return fmt.Errorf("record %s: %w", c.ref, err)
	}
	log.Debugf(ctx, "Recorded run %v of %s", id, c.ref)
	return nil
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func writeResults(w io.Writer, format outputFormat, results []*chunkResult) error {
	switch format {
	case formatJSON:
		for _, r := range results {
			if err := jsonv2.MarshalWrite(w, r, jsonv2.Deterministic(true), jsontext.AllowInvalidUTF8(true)); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		return nil
	case formatCBOR:
		enc := cborEncMode.NewEncoder(w)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	default:
		buf := new(strings.Builder)
		for _, r := range results {
			if r.err != nil {
				continue
			}
			if len(results) > 1 {
				buf.WriteString(r.Chunk)
				buf.WriteString(":")
				if len(r.Results) > 0 {
					buf.WriteString("\t")
				}
			}
			for i, x := range r.Results {
				if i > 0 {
					buf.WriteString("\t")
				}
				writeTextValue(buf, x)
			}
			if len(results) > 1 || len(r.Results) > 0 {
				buf.WriteString("\n")
			}
		}
		_, err := io.WriteString(w, buf.String())
		return err
	}
}

func writeTextValue(buf *strings.Builder, x any) {
	switch x := x.(type) {
	case nil:
		buf.WriteString("nil")
	case float64:
		buf.WriteString(luanum.Format(x))
	case []byte:
		buf.Write(x)
	case []any, map[string]any:
		data, err := jsonv2.Marshal(x, jsonv2.Deterministic(true))
		if err != nil {
			fmt.Fprint(buf, x)
			return
		}
		buf.Write(data)
	default:
		fmt.Fprint(buf, x)
	}
}

// lockedWriter serializes writes from concurrently running chunks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
