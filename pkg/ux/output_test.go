// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	assert.False(t, p.styled)
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Banner("ws://localhost:8765/ws")
	p.Answer("Offside is...\n", false)
	p.Answer("I couldn't find any related rule in the documents.", true)
	p.Error(errors.New("dial failed"))

	assert.Equal(t,
		"Connected to ws://localhost:8765/ws\n"+
			"Offside is...\n"+
			"I couldn't find any related rule in the documents.\n"+
			"error: dial failed\n",
		buf.String())
	assert.Equal(t, "> ", p.PromptString())
}

func TestStyledPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, styled: true}

	p.Answer("A free kick is awarded", false)
	p.Answer("library unavailable", true)
	p.Error(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "A free kick is awarded")
	assert.Contains(t, out, IconWarning+" library unavailable")
	assert.Contains(t, out, IconError+" boom")
	assert.Contains(t, p.PromptString(), IconArrow)
}

func TestStyledPrinter_RendersMarkdown(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, styled: true}

	p.Answer("## Offside\n\nA player is **offside** when:\n\n- nearer the goal line\n- in the opponents' half\n", false)

	out := buf.String()
	assert.Contains(t, out, "Offside")
	assert.Contains(t, out, "nearer the goal line")
	assert.Contains(t, out, "in the opponents' half")
	assert.NotContains(t, out, "- nearer")
}

func TestRenderMarkdown_PlainText(t *testing.T) {
	out := renderMarkdown("A free kick is awarded")
	assert.Contains(t, out, "A free kick is awarded")
	assert.False(t, strings.HasSuffix(out, "\n"))
}
