// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Compile-time interface implementation check.
var _ Retriever = (*StaticRetriever)(nil)

// Corpus is the on-disk format of a static passage corpus.
//
//	passages:
//	  - source: Laws of the Game - Page 34
//	    text: The offside position occurs when ...
type Corpus struct {
	Passages []datatypes.Passage `yaml:"passages"`
}

// LoadCorpus reads and parses a YAML corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return &c, nil
}

// WriteCorpus writes c to path as YAML.
func WriteCorpus(path string, c *Corpus) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal corpus: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write corpus %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// Index
// =============================================================================

// stopWords are ignored when matching query terms.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "how": {}, "does": {}, "can": {},
	"with": {}, "this": {}, "that": {}, "from": {}, "into": {}, "about": {}, "there": {},
	"their": {}, "they": {}, "have": {}, "has": {}, "been": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "rule": {}, "rules": {}, "you": {}, "your": {}, "not": {},
}

// terms splits text into lower-case index terms.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 && !isNumber(f) {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

type indexedPassage struct {
	passage datatypes.Passage
	terms   map[string]struct{}
}

type staticIndex struct {
	entries []indexedPassage
}

func buildIndex(passages []datatypes.Passage) *staticIndex {
	idx := &staticIndex{entries: make([]indexedPassage, 0, len(passages))}
	for _, p := range datatypes.DedupePassages(passages) {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		set := make(map[string]struct{})
		for _, t := range terms(p.Source + " " + p.Text) {
			set[t] = struct{}{}
		}
		idx.entries = append(idx.entries, indexedPassage{passage: p, terms: set})
	}
	return idx
}

type scored struct {
	pos   int
	score int
}

func (idx *staticIndex) search(query string, limit int) []datatypes.Passage {
	queryTerms := make(map[string]struct{})
	for _, t := range terms(query) {
		queryTerms[t] = struct{}{}
	}
	if len(queryTerms) == 0 {
		return []datatypes.Passage{}
	}

	hits := make([]scored, 0)
	for i, e := range idx.entries {
		n := 0
		for t := range queryTerms {
			if _, ok := e.terms[t]; ok {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{pos: i, score: n})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	out := make([]datatypes.Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, idx.entries[h.pos].passage)
	}
	return finalize(out, limit)
}

// =============================================================================
// StaticRetriever
// =============================================================================

// StaticRetriever ranks passages from an in-memory corpus by the number of
// distinct query terms each passage contains.
//
// # Description
//
// Ranking is deterministic: ties keep corpus order, passages sharing no
// term with the query are dropped. When created from a file the corpus can
// be reloaded, and Watch reloads it on change. A reload swaps the whole
// index at once, so concurrent Retrieve calls see either the old or the new
// corpus, never a mix.
//
// # Thread Safety
//
// Safe for concurrent use.
type StaticRetriever struct {
	path  string
	index atomic.Pointer[staticIndex]
}

// NewStaticRetriever indexes the given passages.
func NewStaticRetriever(passages []datatypes.Passage) *StaticRetriever {
	r := &StaticRetriever{}
	r.index.Store(buildIndex(passages))
	return r
}

// NewStaticRetrieverFromFile loads a YAML corpus from path.
func NewStaticRetrieverFromFile(path string) (*StaticRetriever, error) {
	r := &StaticRetriever{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Len returns the number of indexed passages.
func (r *StaticRetriever) Len() int {
	idx := r.index.Load()
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Reload re-reads the corpus file. On failure the current index is kept.
func (r *StaticRetriever) Reload() error {
	if r.path == "" {
		return errors.New("static retriever has no corpus path")
	}
	c, err := LoadCorpus(r.path)
	if err != nil {
		return err
	}
	r.index.Store(buildIndex(c.Passages))
	slog.Info("Loaded static corpus", "path", r.path, "passages", r.Len())
	return nil
}

// Retrieve implements Retriever.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	if err := checkQuery(query, limit); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := r.index.Load()
	if idx == nil {
		return nil, unavailable("static", errors.New("corpus not loaded"))
	}
	return idx.search(query, limit), nil
}

// watchDebounce collapses the burst of events editors emit on save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the corpus whenever its file changes. It blocks until ctx
// is canceled and returns nil in that case.
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename are handled.
func (r *StaticRetriever) Watch(ctx context.Context) error {
	if r.path == "" {
		return errors.New("static retriever has no corpus path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create corpus watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(r.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch corpus directory: %w", err)
	}
	slog.Info("Watching static corpus for changes", "path", target)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(watchDebounce)
			}
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				slog.Warn("Corpus reload failed, keeping previous index", "path", target, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Corpus watcher error", "error", err)
		}
	}
}
