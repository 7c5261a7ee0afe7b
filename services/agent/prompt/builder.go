// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt builds the grounding prompt sent to the completion provider.
//
// The grounding prompt is a single system-role text combining a fixed
// instructional preamble, a one-shot worked example, the retrieved passages
// and the verbatim user question. Build is pure: identical inputs always
// produce byte-identical output, and nothing is cached between calls.
package prompt

import (
	"strings"

	"github.com/AleutianAI/AleutianRules/services/agent/datatypes"
)

// InsufficientContextReply is the phrase the model is told to use when the
// passages do not cover the question.
const InsufficientContextReply = "I’m sorry, the context provided does not contain enough detail about this topic."

const (
	contextHeader  = "**Context Chunks (Extracted Passages):**"
	questionHeader = "**User Question:**"
	answerHeader   = "**Your Answer (Based on Context Only):**"
	sectionRule    = "---"
)

// preamble defines the persona and the response rules.
var preamble = strings.Join([]string{
	"You are a domain-specific chatbot assistant trained to help users understand",
	"official football rules and related information. Your job is to provide clear, accurate, and easy-to-understand answers using only the provided context.",
	"",
	"Follow these rules:",
	"1. Only answer using the information in the context below.",
	"2. If the context does not contain enough information to answer the question, respond with:",
	`"` + InsufficientContextReply + `"`,
	"3. Explain football terms and rules in simple language, as if speaking to someone who enjoys football but is not an expert.",
	"4. When explaining a rule, include details such as conditions, penalties, and examples if available.",
	"5. Avoid vague summaries. Be specific and informative.",
	"6. Format your response using Markdown. Use proper headings, bullet points, and examples for clarity.",
	"7. When you mention the source (e.g., a rule section or page number), make it **bold** using Markdown.",
	"8. Make the response concise but informative. Avoid unnecessary repetition.",
}, "\n")

// Example is the one-shot demonstration embedded in every prompt.
var Example = struct {
	Passage  datatypes.Passage
	Question string
	Answer   string
}{
	Passage: datatypes.Passage{
		Source: "Laws of the Game - Page 34",
		Text:   "The offside position occurs when a player is nearer to the opponent's goal line than both the ball and the second-last opponent.",
	},
	Question: "What is the offside rule?",
	Answer: "The **offside rule** states that a player is in an offside position if they are nearer to the opponent's goal line " +
		"than both the ball and the second-last opponent when the ball is played, except when they are in their own half " +
		"or receiving the ball directly from a goal kick, throw-in, or corner kick.",
}

// FormatPassages renders passages as "[Source: <source>]\n<text>" blocks
// separated by a blank line, in the order given.
func FormatPassages(passages []datatypes.Passage) string {
	blocks := make([]string, 0, len(passages))
	for _, p := range passages {
		blocks = append(blocks, "[Source: "+p.Source+"]\n"+p.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// Build returns the grounding prompt for one turn.
//
// # Description
//
// Emits the preamble, the worked example, the formatted passages and finally
// the literal question. An empty passages slice still yields a well-formed
// prompt with an empty context section; callers short-circuit before this
// point when retrieval finds nothing.
//
// # Inputs
//
//   - passages: Retrieved passages in ranked order. Order is preserved.
//   - question: The raw user message, embedded verbatim.
//
// # Outputs
//
//   - string: The grounding prompt. The question is its final line(s).
func Build(passages []datatypes.Passage, question string) string {
	var b strings.Builder

	b.WriteString(preamble)
	b.WriteString("\n\n")
	b.WriteString(sectionRule)
	b.WriteString("\n\n")

	b.WriteString("Example:\n")
	writeSection(&b, contextHeader, FormatPassages([]datatypes.Passage{Example.Passage}))
	writeSection(&b, questionHeader, Example.Question)
	writeSection(&b, answerHeader, Example.Answer)
	b.WriteString(sectionRule)
	b.WriteString("\n\n")

	writeSection(&b, contextHeader, FormatPassages(passages))
	b.WriteString(questionHeader)
	b.WriteString("\n")
	b.WriteString(question)

	return b.String()
}

func writeSection(b *strings.Builder, header, body string) {
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}
