// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"errors"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
)

// DefaultBaselinePrompt seeds every new conversation history.
const DefaultBaselinePrompt = "You are a helpful football rules assistant."

// ErrTurnInProgress is returned by Begin when a turn is already pending.
var ErrTurnInProgress = errors.New("turn already in progress")

// ErrNoTurnInProgress is returned by Commit when no turn is pending.
var ErrNoTurnInProgress = errors.New("no turn in progress")

// Turn is one committed exchange: the grounding prompt, the question and
// the answer, stored as three consecutive messages.
type Turn struct {
	Grounding string
	Question  string
	Answer    string
}

// History is the conversation history of one session.
//
// # Description
//
// The first message is always the baseline system message. Each committed
// turn adds exactly three messages in order: the grounding prompt as system,
// the question as user, the answer as assistant. A turn is staged with
// Begin, which makes its first two messages visible to the completion call,
// and then either committed or rolled back as a whole.
//
// With maxTurns > 0 only the newest maxTurns committed turns are kept;
// older ones are dropped when a new turn commits. Zero keeps everything.
//
// # Thread Safety
//
// Not safe for concurrent use. A History is owned by a single session.
type History struct {
	baseline datatypes.Message
	turns    []Turn
	pending  *Turn
	maxTurns int
}

// NewHistory creates a history seeded with the baseline system message.
func NewHistory(baseline string, maxTurns int) *History {
	if baseline == "" {
		baseline = DefaultBaselinePrompt
	}
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &History{
		baseline: datatypes.SystemMessage(baseline),
		maxTurns: maxTurns,
	}
}

// Len returns the number of messages, including a pending turn.
func (h *History) Len() int {
	n := 1 + 3*len(h.turns)
	if h.pending != nil {
		n += 2
	}
	return n
}

// Turns returns the number of committed turns retained.
func (h *History) Turns() int {
	return len(h.turns)
}

// Pending reports whether a turn has been begun but not finished.
func (h *History) Pending() bool {
	return h.pending != nil
}

// Messages returns a copy of the history as an ordered message list.
func (h *History) Messages() []datatypes.Message {
	out := make([]datatypes.Message, 0, h.Len())
	out = append(out, h.baseline)
	for _, t := range h.turns {
		out = append(out,
			datatypes.SystemMessage(t.Grounding),
			datatypes.UserMessage(t.Question),
			datatypes.AssistantMessage(t.Answer),
		)
	}
	if h.pending != nil {
		out = append(out,
			datatypes.SystemMessage(h.pending.Grounding),
			datatypes.UserMessage(h.pending.Question),
		)
	}
	return out
}

// Begin stages a new turn and returns the messages to send for completion.
// The last two returned messages are the grounding prompt and the question.
func (h *History) Begin(grounding, question string) ([]datatypes.Message, error) {
	if h.pending != nil {
		return nil, ErrTurnInProgress
	}
	h.pending = &Turn{Grounding: grounding, Question: question}
	return h.Messages(), nil
}

// Commit appends the answer to the pending turn and makes it permanent,
// pruning the oldest turns beyond maxTurns.
func (h *History) Commit(answer string) error {
	if h.pending == nil {
		return ErrNoTurnInProgress
	}
	t := *h.pending
	t.Answer = answer
	h.turns = append(h.turns, t)
	h.pending = nil

	if h.maxTurns > 0 && len(h.turns) > h.maxTurns {
		drop := len(h.turns) - h.maxTurns
		h.turns = append([]Turn(nil), h.turns[drop:]...)
	}
	return nil
}

// Rollback discards the pending turn. It is a no-op if none is pending.
func (h *History) Rollback() {
	h.pending = nil
}
