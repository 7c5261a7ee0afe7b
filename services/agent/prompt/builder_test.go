// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompt

import (
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPassages(t *testing.T) {
	got := FormatPassages([]datatypes.Passage{
		{Source: "Law 11", Text: "Offside."},
		{Source: "Law 12", Text: "Fouls and misconduct."},
	})
	assert.Equal(t, "[Source: Law 11]\nOffside.\n\n[Source: Law 12]\nFouls and misconduct.", got)
}

func TestFormatPassages_Empty(t *testing.T) {
	assert.Equal(t, "", FormatPassages(nil))
}

func TestBuild_OffsideScenario(t *testing.T) {
	question := "What is the offside rule?"
	passages := []datatypes.Passage{
		{Source: "Laws of the Game - Page 34", Text: "A player in an offside position at the moment the ball is played is only penalised if involved in active play."},
	}

	got := Build(passages, question)

	assert.Contains(t, got, "[Source: Laws of the Game - Page 34]\nA player in an offside position")
	assert.True(t, strings.HasSuffix(got, question), "question must terminate the prompt")
	assert.Contains(t, got, InsufficientContextReply)
	assert.Contains(t, got, "make it **bold**")
}

func TestBuild_Deterministic(t *testing.T) {
	passages := []datatypes.Passage{
		{Source: "b", Text: "two"},
		{Source: "a", Text: "one"},
	}
	first := Build(passages, "q?")
	second := Build(passages, "q?")
	assert.Equal(t, first, second)
}

func TestBuild_PreservesPassageOrder(t *testing.T) {
	passages := []datatypes.Passage{
		{Source: "Zeta", Text: "last alphabetically"},
		{Source: "Alpha", Text: "first alphabetically"},
		{Source: "Mu", Text: "middle"},
	}

	got := Build(passages, "order?")

	z := strings.Index(got, "[Source: Zeta]")
	a := strings.Index(got, "[Source: Alpha]")
	m := strings.Index(got, "[Source: Mu]")
	require.True(t, z >= 0 && a >= 0 && m >= 0)
	assert.Less(t, z, a)
	assert.Less(t, a, m)
}

func TestBuild_EmptyPassagesStillWellFormed(t *testing.T) {
	got := Build(nil, "Is a throw-in allowed to score directly?")

	assert.Contains(t, got, "Follow these rules:")
	assert.Contains(t, got, "Example:")
	assert.Equal(t, 2, strings.Count(got, contextHeader))
	assert.True(t, strings.HasSuffix(got, "Is a throw-in allowed to score directly?"))
}

func TestBuild_ExampleEmbedded(t *testing.T) {
	got := Build([]datatypes.Passage{{Source: "s", Text: "t"}}, "q")

	assert.Contains(t, got, Example.Question)
	assert.Contains(t, got, Example.Answer)
	assert.Less(t, strings.Index(got, Example.Answer), strings.Index(got, "[Source: s]"))
}

func TestBuild_QuestionFollowsContext(t *testing.T) {
	passages := []datatypes.Passage{{Source: "Law 11", Text: "Offside."}}

	got := Build(passages, "What is offside?")

	assert.NotContains(t, got, "Answer in the style")
	tail := contextHeader + "\n" + FormatPassages(passages) + "\n\n" + questionHeader + "\nWhat is offside?"
	assert.True(t, strings.HasSuffix(got, tail), "question section must directly follow the context section")
}
