// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

type globalConfig struct {
	Debug   bool         `json:"debug"`
	StoreDB string       `json:"storeDB"`
	Format  outputFormat `json:"format"`
	// Jobs is the maximum number of chunks that "run" executes at once.
	Jobs int `json:"jobs"`
	// MaxCCalls limits nested calls from Go back into the interpreter.
	// Zero uses the interpreter's default.
	MaxCCalls int `json:"maxCCalls"`
}

func defaultGlobalConfig() *globalConfig {
	g := &globalConfig{
		Format: formatText,
		Jobs:   runtime.GOMAXPROCS(0),
	}
	if dd := dataDir(); dd != "" {
		g.StoreDB = filepath.Join(dd, "henchlua", "chunks.db")
	}
	return g
}

func (g *globalConfig) mergeEnvironment() error {
	if path := os.Getenv("HENCHLUA_STORE"); path != "" {
		g.StoreDB = path
	}
	if s := os.Getenv("HENCHLUA_DEBUG"); s != "" {
		debug, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("HENCHLUA_DEBUG: %v", err)
		}
		g.Debug = debug
	}
	return nil
}

// configFiles returns the paths of the configuration files to read
// in increasing order of preference.
func configFiles() iter.Seq[string] {
	return func(yield func(string) bool) {
		for dir := range systemConfigDirs() {
			if !yield(filepath.Join(dir, "henchlua", "config.jsonc")) {
				return
			}
		}
	}
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}

	return nil
}

// UnmarshalJSONFrom unmarshals the configuration object from the JSON decoder,
// merging any fields in the JSON object with existing values.
func (g *globalConfig) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
			// Keep going.
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "debug":
			if err := jsonv2.UnmarshalDecode(in, &g.Debug); err != nil {
				return fmt.Errorf("unmarshal config.debug: %w", err)
			}
		case "storeDB":
			if err := jsonv2.UnmarshalDecode(in, &g.StoreDB); err != nil {
				return fmt.Errorf("unmarshal config.storeDB: %w", err)
			}
		case "format":
			var s string
			if err := jsonv2.UnmarshalDecode(in, &s); err != nil {
				return fmt.Errorf("unmarshal config.format: %w", err)
			}
			if err := g.Format.Set(s); err != nil {
				return fmt.Errorf("unmarshal config.format: %w", err)
			}
		case "jobs":
			if err := jsonv2.UnmarshalDecode(in, &g.Jobs); err != nil {
				return fmt.Errorf("unmarshal config.jobs: %w", err)
			}
		case "maxCCalls":
			if err := jsonv2.UnmarshalDecode(in, &g.MaxCCalls); err != nil {
				return fmt.Errorf("unmarshal config.maxCCalls: %w", err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
			if err := in.SkipValue(); err != nil {
				return err
			}
		}
	}
}

func (g *globalConfig) validate() error {
	if g.Jobs < 1 {
		return fmt.Errorf("jobs = %d; must be at least 1", g.Jobs)
	}
	if g.MaxCCalls < 0 {
		return fmt.Errorf("maxCCalls = %d; must not be negative", g.MaxCCalls)
	}
	return nil
}

// outputFormat is the encoding "run" uses for chunk results.
type outputFormat string

var _ pflag.Value = (*outputFormat)(nil)

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatCBOR outputFormat = "cbor"
)

func (f outputFormat) String() string { return string(f) }
func (f outputFormat) Type() string   { return "text|json|cbor" }

func (f *outputFormat) Set(s string) error {
	switch outputFormat(s) {
	case formatText, formatJSON, formatCBOR:
		*f = outputFormat(s)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (must be one of text, json, or cbor)", s)
	}
}
