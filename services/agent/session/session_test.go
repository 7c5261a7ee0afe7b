// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRules/services/agent/completion"
	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/AleutianAI/AleutianRules/services/agent/observability"
	"github.com/AleutianAI/AleutianRules/services/agent/retrieval"
)

// =============================================================================
// Test doubles
// =============================================================================

type inbound struct {
	text string
	err  error
}

// fakeConn replays scripted inbound messages and records outbound ones.
// Once the script is exhausted ReadMessage reports a closed channel.
type fakeConn struct {
	mu       sync.Mutex
	in       []inbound
	out      []string
	writeErr error
}

func newFakeConn(msgs ...string) *fakeConn {
	c := &fakeConn{}
	for _, m := range msgs {
		c.in = append(c.in, inbound{text: m})
	}
	return c
}

func (c *fakeConn) ReadMessage(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(c.in) == 0 {
		return "", ErrChannelClosed
	}
	next := c.in[0]
	c.in = c.in[1:]
	return next.text, next.err
}

func (c *fakeConn) WriteMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out = append(c.out, text)
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.out...)
}

type mockRetriever struct {
	mu       sync.Mutex
	passages []datatypes.Passage
	err      error
	calls    int
	queries  []string
}

func (m *mockRetriever) Retrieve(_ context.Context, query string, limit int) ([]datatypes.Passage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.passages) > limit {
		return m.passages[:limit], nil
	}
	return m.passages, nil
}

// mockCompleter returns scripted results in order and records the history
// it was called with.
type mockCompleter struct {
	mu        sync.Mutex
	answers   []string
	errs      []error
	histories [][]datatypes.Message
	block     bool
}

func (m *mockCompleter) Complete(ctx context.Context, history []datatypes.Message) (string, error) {
	m.mu.Lock()
	i := len(m.histories)
	m.histories = append(m.histories, append([]datatypes.Message(nil), history...))
	block := m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.answers) {
		return m.answers[i], nil
	}
	return "default answer", nil
}

func (m *mockCompleter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.histories)
}

var law11 = datatypes.Passage{
	Source: "Law 11",
	Text:   "A player is in an offside position if any part of the head, body or feet is in the opponents' half and nearer to the opponents' goal line than both the ball and the second-last opponent.",
}

func newTestSession(conn Conn, r retrieval.Retriever, c completion.Completer, cfg Config) *Session {
	return New(conn, Deps{Retriever: r, Completer: c}, cfg)
}

// =============================================================================
// Turn tests
// =============================================================================

func TestSession_NewStartsAwaiting(t *testing.T) {
	s := newTestSession(newFakeConn(), &mockRetriever{}, &mockCompleter{}, Config{})

	assert.Equal(t, StateAwaitingMessage, s.State())
	assert.Equal(t, 1, s.History().Len())
	assert.NotEmpty(t, s.ID())
}

func TestSession_OffsideScenario(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{answers: []string{"**Offside**\n- A player is offside when..."}}
	s := newTestSession(conn, r, c, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "What is offside?"))

	assert.Equal(t, []string{"**Offside**\n- A player is offside when..."}, conn.sent())
	assert.Equal(t, StateResponded, s.State())

	msgs := s.History().Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, datatypes.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "[Source: Law 11]")
	assert.Contains(t, msgs[1].Content, law11.Text)
	assert.Equal(t, datatypes.UserMessage("What is offside?"), msgs[2])
	assert.Equal(t, datatypes.RoleAssistant, msgs[3].Role)

	// The completer saw the baseline, the grounding prompt and the question.
	require.Equal(t, 1, c.calls())
	sent := c.histories[0]
	require.Len(t, sent, 3)
	assert.Equal(t, DefaultBaselinePrompt, sent[0].Content)
	assert.Equal(t, "What is offside?", sent[2].Content)
}

func TestSession_HistoryGrowsByThree(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{answers: []string{"a1", "a2", "a3"}}
	s := newTestSession(conn, r, c, Config{})

	ctx := context.Background()
	for i, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, s.HandleMessage(ctx, q))
		assert.Equal(t, 1+3*(i+1), s.History().Len())
	}

	// Each completion call saw the full prior history plus the new turn.
	require.Equal(t, 3, c.calls())
	assert.Len(t, c.histories[0], 3)
	assert.Len(t, c.histories[1], 6)
	assert.Len(t, c.histories[2], 9)
	assert.Equal(t, "a1", c.histories[1][3].Content)
}

func TestSession_EmptyRetrieval(t *testing.T) {
	conn := newFakeConn()
	c := &mockCompleter{}
	s := newTestSession(conn, &mockRetriever{}, c, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "Who won in 1966?"))

	assert.Equal(t, []string{NoContextReply}, conn.sent())
	assert.Equal(t, 1, s.History().Len())
	assert.Zero(t, c.calls())
}

func TestSession_RetrievalUnavailable(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{err: &retrieval.UnavailableError{Backend: "weaviate", Err: errors.New("connection refused")}}
	c := &mockCompleter{}
	s := newTestSession(conn, r, c, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "What is a throw-in?"))

	assert.Equal(t, []string{UnavailableReply}, conn.sent())
	assert.Equal(t, 1, s.History().Len())
	assert.Zero(t, c.calls())
}

func TestSession_RetrieverRejectsQuery(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{err: retrieval.ErrInvalidQuery}
	s := newTestSession(conn, r, &mockCompleter{}, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "???"))

	assert.Equal(t, []string{InvalidInputReply}, conn.sent())
	assert.Equal(t, 1, s.History().Len())
}

func TestSession_WhitespaceInput(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{}
	s := newTestSession(conn, r, c, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "  \n\t "))

	assert.Equal(t, []string{InvalidInputReply}, conn.sent())
	assert.Zero(t, r.calls)
	assert.Zero(t, c.calls())
	assert.Equal(t, 1, s.History().Len())
}

func TestSession_RawMessageKept(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{}
	s := newTestSession(conn, r, c, Config{})
	raw := "  What is offside?\n"

	require.NoError(t, s.HandleMessage(context.Background(), raw))

	assert.Equal(t, []string{raw}, r.queries)
	msgs := s.History().Messages()
	require.Len(t, msgs, 4)
	assert.True(t, strings.HasSuffix(msgs[1].Content, raw), "grounding prompt must end with the message as sent")
	assert.Equal(t, raw, msgs[2].Content)
	assert.Equal(t, raw, c.histories[0][2].Content)
}

func TestSession_CompletionFailureRollsBack(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{
		errs:    []error{nil, &completion.FailureError{Reason: completion.ReasonProvider, Err: errors.New("503")}, nil},
		answers: []string{"a1", "", "a3"},
	}
	s := newTestSession(conn, r, c, Config{})
	ctx := context.Background()

	require.NoError(t, s.HandleMessage(ctx, "q1"))
	require.Equal(t, 4, s.History().Len())

	require.NoError(t, s.HandleMessage(ctx, "q2"))
	assert.Equal(t, 4, s.History().Len())
	assert.False(t, s.History().Pending())

	require.NoError(t, s.HandleMessage(ctx, "q3"))
	assert.Equal(t, 7, s.History().Len())

	assert.Equal(t, []string{"a1", CompletionFailureReply, "a3"}, conn.sent())

	// The failed question never reached the history.
	for _, m := range s.History().Messages() {
		assert.NotEqual(t, "q2", m.Content)
	}
}

func TestSession_CompletionTimeoutRollsBack(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{errs: []error{&completion.FailureError{Reason: completion.ReasonTimeout, Err: context.DeadlineExceeded}}}
	s := newTestSession(conn, r, c, Config{})

	require.NoError(t, s.HandleMessage(context.Background(), "What is offside?"))

	assert.Equal(t, []string{CompletionFailureReply}, conn.sent())
	assert.Equal(t, 1, s.History().Len())
}

func TestSession_CancelDuringCompletion(t *testing.T) {
	conn := newFakeConn()
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{block: true}
	s := newTestSession(conn, r, c, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.HandleMessage(ctx, "What is offside?") }()

	require.Eventually(t, func() bool { return c.calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("turn did not stop after cancellation")
	}
	assert.Empty(t, conn.sent())
	assert.Equal(t, 1, s.History().Len())
	assert.False(t, s.History().Pending())
}

func TestSession_SendFailureRollsBack(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = ErrChannelClosed
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	s := newTestSession(conn, r, &mockCompleter{}, Config{})

	err := s.HandleMessage(context.Background(), "What is offside?")

	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, 1, s.History().Len())
	assert.False(t, s.History().Pending())
}

func TestSession_TopKPassedToRetriever(t *testing.T) {
	var many []datatypes.Passage
	for i := 0; i < 10; i++ {
		many = append(many, datatypes.Passage{Source: "Law", Text: string(rune('a' + i))})
	}
	r := &mockRetriever{passages: many}
	c := &mockCompleter{}
	s := newTestSession(newFakeConn(), r, c, Config{TopK: 2})

	require.NoError(t, s.HandleMessage(context.Background(), "q"))

	grounding := c.histories[0][1].Content
	assert.Contains(t, grounding, "\na\n")
	assert.NotContains(t, grounding, "\nc\n")
}

func TestSession_SlidingWindow(t *testing.T) {
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{}
	s := newTestSession(newFakeConn(), r, c, Config{MaxTurns: 1})
	ctx := context.Background()

	require.NoError(t, s.HandleMessage(ctx, "q1"))
	require.NoError(t, s.HandleMessage(ctx, "q2"))
	require.NoError(t, s.HandleMessage(ctx, "q3"))

	assert.Equal(t, 4, s.History().Len())
	assert.Equal(t, "q3", s.History().Messages()[2].Content)
	// The request for q3 still carried q2's committed turn.
	assert.Len(t, c.histories[2], 6)
}

// =============================================================================
// Run loop tests
// =============================================================================

func TestSession_RunUntilClosed(t *testing.T) {
	conn := newFakeConn("What is offside?", "   ", "When is a penalty given?")
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{answers: []string{"offside answer", "penalty answer"}}
	s := newTestSession(conn, r, c, Config{})

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"offside answer", InvalidInputReply, "penalty answer"}, conn.sent())
	assert.Equal(t, 7, s.History().Len())
}

func TestSession_RunUnsupportedFrame(t *testing.T) {
	conn := newFakeConn()
	conn.in = []inbound{{err: ErrUnsupportedFrame}, {text: "What is offside?"}}
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	s := newTestSession(conn, r, &mockCompleter{answers: []string{"answer"}}, Config{})

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{InvalidInputReply, "answer"}, conn.sent())
	assert.Equal(t, 4, s.History().Len())
}

func TestSession_RunReadError(t *testing.T) {
	conn := newFakeConn()
	boom := errors.New("boom")
	conn.in = []inbound{{err: boom}}
	s := newTestSession(conn, &mockRetriever{}, &mockCompleter{}, Config{})

	err := s.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_RunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestSession(newFakeConn("q"), &mockRetriever{}, &mockCompleter{}, Config{})

	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_RunWithRateLimit(t *testing.T) {
	conn := newFakeConn("q1", "q2")
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	s := newTestSession(conn, r, &mockCompleter{}, Config{MessagesPerMinute: 6000})

	require.NoError(t, s.Run(context.Background()))

	assert.Len(t, conn.sent(), 2)
	assert.Equal(t, 7, s.History().Len())
}

func TestSession_IndependentHistories(t *testing.T) {
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	c := &mockCompleter{}

	connA := newFakeConn("alpha one", "alpha two")
	connB := newFakeConn("beta one")
	a := newTestSession(connA, r, c, Config{})
	b := newTestSession(connB, r, c, Config{})

	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			assert.NoError(t, s.Run(context.Background()))
		}(s)
	}
	wg.Wait()

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 7, a.History().Len())
	assert.Equal(t, 4, b.History().Len())
	for _, m := range a.History().Messages() {
		assert.NotContains(t, m.Content, "beta")
	}
	for _, m := range b.History().Messages() {
		assert.NotContains(t, m.Content, "alpha")
	}
}

func TestSession_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	conn := newFakeConn("What is offside?", "   ")
	r := &mockRetriever{passages: []datatypes.Passage{law11}}
	s := New(conn, Deps{Retriever: r, Completer: &mockCompleter{}, Metrics: m}, Config{})

	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues(OutcomeAnswered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues(OutcomeInvalidInput)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
}

// retrievalCount returns the number of retrieval observations recorded
// with the given result label.
func retrievalCount(t *testing.T, reg *prometheus.Registry, result string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "aleutian_rules_agent_retrieval_duration_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return 0
}

func TestSession_RetrievalResultLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	ctx := context.Background()

	found := New(newFakeConn(), Deps{Retriever: &mockRetriever{passages: []datatypes.Passage{law11}}, Completer: &mockCompleter{}, Metrics: m}, Config{})
	require.NoError(t, found.HandleMessage(ctx, "What is offside?"))

	empty := New(newFakeConn(), Deps{Retriever: &mockRetriever{}, Completer: &mockCompleter{}, Metrics: m}, Config{})
	require.NoError(t, empty.HandleMessage(ctx, "Who won in 1966?"))

	down := New(newFakeConn(), Deps{Retriever: &mockRetriever{err: &retrieval.UnavailableError{Backend: "weaviate", Err: errors.New("refused")}}, Completer: &mockCompleter{}, Metrics: m}, Config{})
	require.NoError(t, down.HandleMessage(ctx, "What is a throw-in?"))

	rejected := New(newFakeConn(), Deps{Retriever: &mockRetriever{err: retrieval.ErrInvalidQuery}, Completer: &mockCompleter{}, Metrics: m}, Config{})
	require.NoError(t, rejected.HandleMessage(ctx, "???"))

	assert.Equal(t, uint64(1), retrievalCount(t, reg, observability.RetrievalFound))
	assert.Equal(t, uint64(1), retrievalCount(t, reg, observability.RetrievalEmpty))
	assert.Equal(t, uint64(1), retrievalCount(t, reg, observability.RetrievalUnavailable))
	assert.Equal(t, uint64(1), retrievalCount(t, reg, observability.RetrievalInvalid))
	assert.Zero(t, retrievalCount(t, reg, "ok"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_message", StateAwaitingMessage.String())
	assert.Equal(t, "completing", StateCompleting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "⚽⚽...", truncate("⚽⚽⚽", 2))
}
