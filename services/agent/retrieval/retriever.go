// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval provides the Retrieval Adapter for the rules agent.
//
// # Description
//
// A Retriever turns a raw user message into a bounded, ranked list of
// passages. Three outcomes are kept distinct:
//
//   - Passages found: a non-empty slice and a nil error.
//   - No relevant context: an empty slice and a nil error.
//   - Backend unavailable: an error matching ErrUnavailable.
//
// Input problems (empty or whitespace-only queries, non-positive limits)
// are reported as ErrInvalidQuery before any backend is consulted.
//
// # Backends
//
//   - WeaviateRetriever: semantic search over a Weaviate class.
//   - StaticRetriever: deterministic term-overlap ranking over a YAML corpus.
//   - CachingRetriever: Badger-backed TTL cache in front of another Retriever.
//
// # Thread Safety
//
// All implementations are safe for concurrent use by many sessions.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
)

// DefaultTopK is the number of passages requested per turn.
const DefaultTopK = 5

var (
	// ErrInvalidQuery is returned when the query or limit fails validation.
	ErrInvalidQuery = errors.New("invalid retrieval query")

	// ErrUnavailable is matched by every backend failure.
	ErrUnavailable = errors.New("retrieval backend unavailable")
)

// UnavailableError reports a backend failure.
//
// errors.Is(err, ErrUnavailable) is true for every *UnavailableError.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s retrieval unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes every UnavailableError match ErrUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(backend string, err error) error {
	return &UnavailableError{Backend: backend, Err: err}
}

// Retriever is the contract every retrieval backend implements.
type Retriever interface {
	// Retrieve returns at most limit passages relevant to query.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeouts.
	//   - query: Raw user message. Must not be empty or whitespace-only.
	//   - limit: Maximum passages to return. Must be positive.
	//
	// # Outputs
	//
	//   - []datatypes.Passage: Ranked passages, no duplicates. Empty when
	//     nothing relevant was found.
	//   - error: ErrInvalidQuery for bad input; ErrUnavailable (via
	//     *UnavailableError) when the backend failed.
	Retrieve(ctx context.Context, query string, limit int) ([]datatypes.Passage, error)
}

// checkQuery validates query and limit, wrapping failures in ErrInvalidQuery.
func checkQuery(query string, limit int) error {
	if err := (datatypes.Question{Text: query, Limit: limit}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return nil
}

// finalize normalizes sources, removes duplicates and applies the limit.
func finalize(passages []datatypes.Passage, limit int) []datatypes.Passage {
	out := make([]datatypes.Passage, 0, len(passages))
	for _, p := range passages {
		p.Source = baseSource(p.Source)
		out = append(out, p)
	}
	out = datatypes.DedupePassages(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// baseSource reduces a source label to its final path element.
func baseSource(source string) string {
	s := strings.TrimSpace(source)
	if s == "" {
		return ""
	}
	return filepath.Base(s)
}
