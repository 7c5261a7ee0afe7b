// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleSystem.Valid())
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, Message{Role: RoleSystem, Content: "a"}, SystemMessage("a"))
	assert.Equal(t, Message{Role: RoleUser, Content: "b"}, UserMessage("b"))
	assert.Equal(t, Message{Role: RoleAssistant, Content: "c"}, AssistantMessage("c"))
}

func TestDedupePassages_PreservesOrder(t *testing.T) {
	in := []Passage{
		{Source: "Law 11", Text: "offside"},
		{Source: "Law 12", Text: "fouls"},
		{Source: "Law 11", Text: "offside"},
		{Source: "Law 11", Text: "offside position"},
	}

	out := DedupePassages(in)

	assert.Equal(t, []Passage{
		{Source: "Law 11", Text: "offside"},
		{Source: "Law 12", Text: "fouls"},
		{Source: "Law 11", Text: "offside position"},
	}, out)
}

func TestDedupePassages_Empty(t *testing.T) {
	assert.Empty(t, DedupePassages(nil))
}

func TestQuestion_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       Question
		wantErr bool
	}{
		{"valid", Question{Text: "What is the offside rule?", Limit: 5}, false},
		{"empty", Question{Text: "", Limit: 5}, true},
		{"whitespace", Question{Text: " \t\n ", Limit: 5}, true},
		{"zero limit", Question{Text: "handball?", Limit: 0}, true},
		{"limit too large", Question{Text: "handball?", Limit: 101}, true},
		{"too long", Question{Text: strings.Repeat("a", MaxQuestionLength+1), Limit: 5}, true},
		{"max length", Question{Text: strings.Repeat("a", MaxQuestionLength), Limit: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
