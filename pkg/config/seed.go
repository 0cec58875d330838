package config

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/store"
)

// Seed kinds.
const (
	KindHTTP = "http"
	KindTCP  = "tcp"
)

//go:embed seed.schema.json
var seedSchemaJSON []byte

var (
	seedSchemaOnce sync.Once
	seedSchema     *jsonschema.Schema
	seedSchemaErr  error
)

// Seed is one handler declared in a seed file.
type Seed struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Method  string `json:"method,omitempty"`
	Path    string `json:"path,omitempty"`
	Order   int    `json:"order,omitempty"`
	Code    string `json:"code"`
	Enabled *bool  `json:"enabled,omitempty"`

	// Source is "file#document" and is used in error messages.
	Source string `json:"-"`
}

// Handler converts an http seed.
func (s *Seed) Handler() *handler.Handler {
	h := &handler.Handler{
		ID:     s.ID,
		Name:   s.Name,
		Method: s.Method,
		Path:   s.Path,
		Code:   s.Code,
		Order:  s.Order,
	}
	h.Normalize()
	return h
}

// TCPHandler converts a tcp seed. A seed without an enabled field is
// enabled.
func (s *Seed) TCPHandler() *handler.TCPHandler {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return &handler.TCPHandler{ID: s.ID, Name: s.Name, Code: s.Code, Enabled: enabled}
}

// SeedResult summarizes an ApplySeeds run.
type SeedResult struct {
	HTTP int
	TCP  int
}

// LoadSeeds reads every file matching pattern. ** matches any number of
// directories. Files are read in lexical order and every problem across all
// files is reported in the returned error.
func LoadSeeds(pattern string) ([]*Seed, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expanding seed pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	result := &ValidationResult{}
	var seeds []*Seed
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading seed file: %w", err)
		}
		seeds = append(seeds, ParseSeeds(filepath.ToSlash(path), data, result)...)
	}

	seen := make(map[string]string, len(seeds))
	for _, s := range seeds {
		key := s.Kind + "/" + s.ID
		if first, ok := seen[key]; ok {
			result.AddError(s.Source, fmt.Sprintf("%s handler %q already declared in %s", s.Kind, s.ID, first))
			continue
		}
		seen[key] = s.Source
	}

	if err := result.Err(); err != nil {
		return nil, err
	}
	return seeds, nil
}

// ParseSeeds decodes every YAML document in data. Problems are added to
// result and the offending documents are skipped.
func ParseSeeds(name string, data []byte, result *ValidationResult) []*Seed {
	schema, err := compileSeedSchema()
	if err != nil {
		result.AddError(name, err.Error())
		return nil
	}

	var seeds []*Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 0; ; doc++ {
		var raw any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		source := fmt.Sprintf("%s#%d", name, doc)
		if err != nil {
			result.AddError(source, fmt.Sprintf("invalid YAML: %v", err))
			break
		}
		if raw == nil {
			continue
		}

		for _, entry := range seedEntries(raw, source, result) {
			entrySource := source
			if entry.index >= 0 {
				entrySource = fmt.Sprintf("%s.handlers[%d]", source, entry.index)
			}
			if s := decodeSeed(schema, entry.value, entrySource, result); s != nil {
				seeds = append(seeds, s)
			}
		}
	}
	return seeds
}

type seedEntry struct {
	index int // position in a handlers list, or -1
	value any
}

// seedEntries unwraps a handlers list.
func seedEntries(raw any, source string, result *ValidationResult) []seedEntry {
	m, ok := raw.(map[string]any)
	if !ok {
		result.AddError(source, "document must be a mapping")
		return nil
	}
	list, ok := m["handlers"]
	if !ok {
		return []seedEntry{{index: -1, value: raw}}
	}
	if len(m) != 1 {
		result.AddError(source, "a handlers list cannot be combined with other keys")
		return nil
	}
	items, ok := list.([]any)
	if !ok {
		result.AddError(source+".handlers", "must be a list")
		return nil
	}
	out := make([]seedEntry, 0, len(items))
	for i, item := range items {
		out = append(out, seedEntry{index: i, value: item})
	}
	return out
}

func decodeSeed(schema *jsonschema.Schema, value any, source string, result *ValidationResult) *Seed {
	// Round-trip through JSON so the schema sees JSON types.
	b, err := json.Marshal(value)
	if err != nil {
		result.AddError(source, fmt.Sprintf("not representable as JSON: %v", err))
		return nil
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		result.AddError(source, err.Error())
		return nil
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			addSchemaErrors(verr, source, result)
		} else {
			result.AddError(source, err.Error())
		}
		return nil
	}

	var s Seed
	if err := json.Unmarshal(b, &s); err != nil {
		result.AddError(source, err.Error())
		return nil
	}
	s.Source = source
	return &s
}

// addSchemaErrors records the leaf causes of a schema failure.
func addSchemaErrors(err *jsonschema.ValidationError, source string, result *ValidationResult) {
	if len(err.Causes) == 0 {
		loc := strings.TrimPrefix(strings.ReplaceAll(err.InstanceLocation, "/", "."), ".")
		path := source
		if loc != "" {
			path += "." + loc
		}
		result.AddError(path, err.Message)
		return
	}
	for _, cause := range err.Causes {
		addSchemaErrors(cause, source, result)
	}
}

func compileSeedSchema() (*jsonschema.Schema, error) {
	seedSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("seed.schema.json", bytes.NewReader(seedSchemaJSON)); err != nil {
			seedSchemaErr = fmt.Errorf("failed to add seed schema: %w", err)
			return
		}
		seedSchema, seedSchemaErr = compiler.Compile("seed.schema.json")
	})
	return seedSchema, seedSchemaErr
}

// ApplySeeds upserts the seeds by id. It stops at the first handler the
// store rejects.
func ApplySeeds(ctx context.Context, hs store.HandlerStore, seeds []*Seed) (SeedResult, error) {
	var res SeedResult
	for _, s := range seeds {
		switch s.Kind {
		case KindHTTP:
			h := s.Handler()
			if err := h.Validate(); err != nil {
				return res, fmt.Errorf("%s: %w", s.Source, err)
			}
			if err := hs.SaveHTTP(ctx, h); err != nil {
				return res, fmt.Errorf("%s: saving handler %q: %w", s.Source, s.ID, err)
			}
			res.HTTP++
		case KindTCP:
			h := s.TCPHandler()
			if err := h.Validate(); err != nil {
				return res, fmt.Errorf("%s: %w", s.Source, err)
			}
			if err := hs.SaveTCP(ctx, h); err != nil {
				return res, fmt.Errorf("%s: saving tcp handler %q: %w", s.Source, s.ID, err)
			}
			res.TCP++
		default:
			return res, fmt.Errorf("%s: unknown kind %q", s.Source, s.Kind)
		}
	}
	return res, nil
}
