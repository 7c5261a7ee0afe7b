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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Compile-time interface implementation check.
var _ Retriever = (*CachingRetriever)(nil)

// DefaultCacheTTL is how long a cached result is served.
const DefaultCacheTTL = 5 * time.Minute

// CacheConfig configures the Badger database behind a CachingRetriever.
type CacheConfig struct {
	// Path is the database directory. Empty means in-memory.
	Path string

	// TTL is the lifetime of each cached result. Default: 5 minutes.
	TTL time.Duration

	// Logger receives Badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenCache opens the Badger database described by cfg.
func OpenCache(cfg CacheConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(false).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open retrieval cache: %w", err)
	}
	return db, nil
}

// CachingRetriever serves repeated identical questions from a TTL cache
// shared by all sessions.
//
// # Description
//
// Keys are the normalized query (lower-cased, whitespace collapsed) plus the
// limit. Only successful results are cached, including empty ones; errors
// from the wrapped retriever are returned unchanged and never stored. Cache
// read or write problems are logged and fall through to the wrapped
// retriever, so the cache can never turn a healthy backend into an
// unavailable one.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions are isolated.
type CachingRetriever struct {
	next Retriever
	db   *badger.DB
	ttl  time.Duration
}

// NewCachingRetriever wraps next with a cache stored in db.
// The caller owns db and closes it after the retriever is no longer used.
func NewCachingRetriever(next Retriever, db *badger.DB, ttl time.Duration) *CachingRetriever {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingRetriever{next: next, db: db, ttl: ttl}
}

// cacheKey builds the Badger key for a query and limit.
func cacheKey(query string, limit int) []byte {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return []byte("retrieval/" + strconv.Itoa(limit) + "/" + normalized)
}

// Retrieve implements Retriever.
func (c *CachingRetriever) Retrieve(ctx context.Context, query string, limit int) ([]datatypes.Passage, error) {
	if err := checkQuery(query, limit); err != nil {
		return nil, err
	}
	key := cacheKey(query, limit)

	if passages, ok := c.lookup(key); ok {
		slog.Debug("Retrieval cache hit", "limit", limit, "count", len(passages))
		return passages, nil
	}

	passages, err := c.next.Retrieve(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	c.store(key, passages)
	return passages, nil
}

func (c *CachingRetriever) lookup(key []byte) ([]datatypes.Passage, bool) {
	var passages []datatypes.Passage
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &passages)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("Retrieval cache read failed", "error", err)
		}
		return nil, false
	}
	if passages == nil {
		passages = []datatypes.Passage{}
	}
	return passages, true
}

func (c *CachingRetriever) store(key []byte, passages []datatypes.Passage) {
	val, err := json.Marshal(passages)
	if err != nil {
		slog.Warn("Retrieval cache encode failed", "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, val).WithTTL(c.ttl))
	})
	if err != nil {
		slog.Warn("Retrieval cache write failed", "error", err)
	}
}
