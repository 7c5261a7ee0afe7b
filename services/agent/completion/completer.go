// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package completion provides the Completion Adapter for the rules agent.
//
// A Completer sends the accumulated conversation history to an LLM backend
// and returns the assistant reply. Every failure, including a missed
// deadline and an empty reply, is reported as an error matching
// ErrFailure so the session loop can roll the turn back uniformly.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/AleutianAI/AleutianRules/services/llm"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// ErrFailure is matched by every completion failure.
var ErrFailure = errors.New("completion failed")

// Failure reasons.
const (
	ReasonProvider = "provider"
	ReasonTimeout  = "timeout"
	ReasonEmpty    = "empty"
	ReasonInput    = "input"
)

// FailureError describes why a completion failed.
type FailureError struct {
	Reason string
	Err    error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return "completion failed: " + e.Reason
	}
	return fmt.Sprintf("completion failed (%s): %v", e.Reason, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Is makes every FailureError match ErrFailure.
func (e *FailureError) Is(target error) bool { return target == ErrFailure }

// Completer is the contract the session loop depends on.
type Completer interface {
	Complete(ctx context.Context, history []datatypes.Message) (string, error)
}

// Config configures an Adapter.
type Config struct {
	// Timeout is the per-call deadline. Zero means DefaultTimeout; negative
	// disables the deadline.
	Timeout time.Duration

	// Params are passed through to the backend.
	Params llm.GenerationParams
}

// Compile-time interface implementation check.
var _ Completer = (*Adapter)(nil)

// Adapter wraps an llm.LLMClient with a deadline and reply validation.
//
// # Thread Safety
//
// Safe for concurrent use if the wrapped client is. Adapter holds no
// per-call state.
type Adapter struct {
	client  llm.LLMClient
	timeout time.Duration
	params  llm.GenerationParams
}

// NewAdapter creates an Adapter around client.
func NewAdapter(client llm.LLMClient, cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{client: client, timeout: timeout, params: cfg.Params}
}

// Complete sends history to the backend and returns the reply text.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it aborts the call.
//   - history: Full conversation history. Must not be empty.
//
// # Outputs
//
//   - string: The assistant reply, unmodified.
//   - error: *FailureError (matching ErrFailure) on any failure. A
//     cancelled parent context is returned as-is so callers can tell a
//     disconnect apart from a provider problem.
func (a *Adapter) Complete(ctx context.Context, history []datatypes.Message) (string, error) {
	if len(history) == 0 {
		return "", &FailureError{Reason: ReasonInput, Err: errors.New("empty history")}
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	reply, err := a.client.Chat(callCtx, history, a.params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("Completion timed out", "timeout", a.timeout)
			return "", &FailureError{Reason: ReasonTimeout, Err: err}
		}
		return "", &FailureError{Reason: ReasonProvider, Err: err}
	}
	if strings.TrimSpace(reply) == "" {
		return "", &FailureError{Reason: ReasonEmpty}
	}
	return reply, nil
}
