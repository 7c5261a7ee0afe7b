// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs one question-answer conversation over a Conn.
//
// Each turn moves through retrieval, prompt building and completion. The
// conversation history only ever grows by whole turns: a turn is committed
// after its answer has been delivered and is discarded on any failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRules/services/agent/completion"
	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/AleutianAI/AleutianRules/services/agent/observability"
	"github.com/AleutianAI/AleutianRules/services/agent/prompt"
	"github.com/AleutianAI/AleutianRules/services/agent/retrieval"
)

var tracer = otel.Tracer("aleutian.rules.session")

// Fixed replies sent when a turn cannot produce a grounded answer.
const (
	NoContextReply         = "I couldn't find any related rule in the documents."
	UnavailableReply       = "The rules library is temporarily unavailable. Please try again in a moment."
	CompletionFailureReply = "Something went wrong while preparing your answer. Please try again."
	InvalidInputReply      = "Please send a question about the rules of football."
)

// Turn outcomes.
const (
	OutcomeAnswered             = "answered"
	OutcomeNoContext            = "no_context"
	OutcomeRetrievalUnavailable = "retrieval_unavailable"
	OutcomeInvalidInput         = "invalid_input"
	OutcomeCompletionFailed     = "completion_failed"
)

// State is the position of a session in its turn cycle.
type State int32

const (
	StateAwaitingMessage State = iota
	StateRetrieving
	StateCompleting
	StateResponded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateRetrieving:
		return "retrieving"
	case StateCompleting:
		return "completing"
	case StateResponded:
		return "responded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the per-session knobs shared by every connection.
type Config struct {
	// TopK is the number of passages requested per question. Zero means
	// retrieval.DefaultTopK.
	TopK int

	// BaselinePrompt seeds the history. Empty means DefaultBaselinePrompt.
	BaselinePrompt string

	// MaxTurns bounds retained committed turns. Zero keeps all of them.
	MaxTurns int

	// MessagesPerMinute throttles inbound turns. Zero disables throttling.
	MessagesPerMinute int
}

// Deps are the shared adapters a session calls into. They are built once
// per process and must be safe for concurrent use.
type Deps struct {
	Retriever retrieval.Retriever
	Completer completion.Completer
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Session is one conversation bound to one Conn.
//
// # Description
//
// Run reads messages until the Conn closes or ctx is cancelled. For every
// message it performs one turn:
//
//  1. Retrieve up to TopK passages for the message text.
//  2. Invalid input, an unavailable backend or an empty result produce a
//     fixed reply and leave the history untouched.
//  3. Otherwise build the grounding prompt, stage it with the question and
//     ask the completer for an answer over the whole history.
//  4. Send the answer, then commit the turn. A failed completion or a
//     failed send rolls the turn back.
//
// # Thread Safety
//
// Run and HandleMessage must be called from one goroutine. State and ID
// may be read from any goroutine.
type Session struct {
	id        string
	conn      Conn
	retriever retrieval.Retriever
	completer completion.Completer
	metrics   *observability.Metrics
	logger    *slog.Logger
	history   *History
	limiter   *rate.Limiter
	topK      int
	state     atomic.Int32
}

// New creates a session with a fresh history.
func New(conn Conn, deps Deps, cfg Config) *Session {
	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	s := &Session{
		id:        id,
		conn:      conn,
		retriever: deps.Retriever,
		completer: deps.Completer,
		metrics:   deps.Metrics,
		logger:    logger.With("session_id", id),
		history:   NewHistory(cfg.BaselinePrompt, cfg.MaxTurns),
		topK:      topK,
	}
	if cfg.MessagesPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MessagesPerMinute)), 1)
	}
	s.setState(StateAwaitingMessage)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// History returns the session's history. Only read it from the goroutine
// driving the session, or after Run has returned.
func (s *Session) History() *History { return s.history }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run drives the session until the channel closes or ctx is done.
// A closed channel or a cancelled context are normal ends and return nil.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer s.setState(StateClosed)

	s.logger.Info("session opened")
	defer func() { s.logger.Info("session closed", "turns", s.history.Turns()) }()

	for {
		s.setState(StateAwaitingMessage)
		text, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, ErrUnsupportedFrame) {
				if err := s.reply(ctx, InvalidInputReply, OutcomeInvalidInput); err != nil {
					return normalEnd(err)
				}
				continue
			}
			return normalEnd(err)
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return normalEnd(err)
			}
		}

		if err := s.HandleMessage(ctx, text); err != nil {
			return normalEnd(err)
		}
	}
}

// HandleMessage performs one full turn for an inbound message. It returns
// an error only when the session must close.
func (s *Session) HandleMessage(ctx context.Context, text string) error {
	ctx, span := tracer.Start(ctx, "Session.Turn",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()

	outcome, err := s.turn(ctx, text)
	span.SetAttributes(attribute.String("turn.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if outcome != "" {
		s.metrics.RecordTurn(outcome)
	}
	return err
}

// turn uses the message exactly as received for retrieval, the prompt and
// the history. Only the blank check ignores surrounding whitespace.
func (s *Session) turn(ctx context.Context, question string) (string, error) {
	s.logger.Debug("message received", "question", question)

	if err := (datatypes.Question{Text: question, Limit: s.topK}).Validate(); err != nil {
		s.logger.Debug("invalid message", "error", err)
		return OutcomeInvalidInput, s.send(ctx, InvalidInputReply)
	}

	s.setState(StateRetrieving)
	passages, err := s.retrieve(ctx, question)
	switch {
	case err != nil && ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, retrieval.ErrInvalidQuery):
		return OutcomeInvalidInput, s.send(ctx, InvalidInputReply)
	case err != nil:
		s.logger.Warn("retrieval unavailable", "error", err)
		return OutcomeRetrievalUnavailable, s.send(ctx, UnavailableReply)
	case len(passages) == 0:
		return OutcomeNoContext, s.send(ctx, NoContextReply)
	}

	grounding := prompt.Build(passages, question)
	messages, err := s.history.Begin(grounding, question)
	if err != nil {
		return "", err
	}

	s.setState(StateCompleting)
	answer, err := s.complete(ctx, messages)
	if err != nil {
		s.history.Rollback()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Error("completion failed", "error", err, "history_len", len(messages))
		return OutcomeCompletionFailed, s.send(ctx, CompletionFailureReply)
	}

	s.setState(StateResponded)
	if err := s.send(ctx, answer); err != nil {
		s.history.Rollback()
		return "", err
	}
	if err := s.history.Commit(answer); err != nil {
		return "", err
	}
	s.logger.Info("turn answered",
		"passages", len(passages),
		"history_len", s.history.Len(),
		"answer", truncate(answer, 80),
	)
	return OutcomeAnswered, nil
}

func (s *Session) retrieve(ctx context.Context, question string) ([]datatypes.Passage, error) {
	ctx, span := tracer.Start(ctx, "Session.Retrieve")
	defer span.End()

	start := time.Now()
	passages, err := s.retriever.Retrieve(ctx, question, s.topK)
	result := observability.RetrievalFound
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		result = observability.RetrievalInvalid
	case err != nil:
		result = observability.RetrievalUnavailable
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case len(passages) == 0:
		result = observability.RetrievalEmpty
	}
	s.metrics.RecordRetrieval(result, time.Since(start))
	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	return passages, err
}

func (s *Session) complete(ctx context.Context, messages []datatypes.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "Session.Complete")
	defer span.End()
	span.SetAttributes(attribute.Int("history.messages", len(messages)))

	start := time.Now()
	answer, err := s.completer.Complete(ctx, messages)
	s.metrics.RecordCompletion(err == nil, len(messages), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return answer, err
}

// reply sends a fixed reply outside of a turn and records its outcome.
func (s *Session) reply(ctx context.Context, text, outcome string) error {
	s.metrics.RecordTurn(outcome)
	return s.send(ctx, text)
}

func (s *Session) send(ctx context.Context, text string) error {
	if err := s.conn.WriteMessage(ctx, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// normalEnd maps the expected ways a session ends to nil.
func normalEnd(err error) error {
	if errors.Is(err, ErrChannelClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
