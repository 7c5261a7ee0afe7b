// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRules/pkg/ux"
	"github.com/AleutianAI/AleutianRules/services/agent/config"
	"github.com/AleutianAI/AleutianRules/services/agent/retrieval"
	"github.com/AleutianAI/AleutianRules/services/agent/session"
)

// newEchoAgent serves a websocket that answers "re: <question>", or the
// no-context reply for questions mentioning basketball.
func newEchoAgent(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			reply := "re: " + string(data)
			if strings.Contains(string(data), "basketball") {
				reply = session.NoContextReply
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestAgentURL(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "ws://localhost:8765/ws", agentURL(cfg))
}

func TestAskOnce(t *testing.T) {
	client, err := dialAgent(context.Background(), newEchoAgent(t))
	require.NoError(t, err)
	defer client.Close()

	var buf bytes.Buffer
	require.NoError(t, askOnce(client, ux.NewPlainPrinter(&buf), "What is offside?"))
	assert.Equal(t, "re: What is offside?\n", buf.String())
}

func TestAskLoop_PipedInput(t *testing.T) {
	client, err := dialAgent(context.Background(), newEchoAgent(t))
	require.NoError(t, err)
	defer client.Close()

	in := strings.NewReader("What is offside?\n\n   \nWho invented basketball?\nWhen is a penalty awarded?\n")
	var buf bytes.Buffer
	require.NoError(t, askLoop(client, in, ux.NewPlainPrinter(&buf), false))

	assert.Equal(t,
		"re: What is offside?\n"+
			session.NoContextReply+"\n"+
			"re: When is a penalty awarded?\n",
		buf.String())
}

func TestAskLoop_InteractiveQuit(t *testing.T) {
	client, err := dialAgent(context.Background(), newEchoAgent(t))
	require.NoError(t, err)
	defer client.Close()

	var buf bytes.Buffer
	in := strings.NewReader("offside?\nquit\nnever sent\n")
	require.NoError(t, askLoop(client, in, ux.NewPlainPrinter(&buf), true))

	assert.Equal(t, "> re: offside?\n> ", buf.String())
}

func TestDialAgent_Unreachable(t *testing.T) {
	_, err := dialAgent(context.Background(), "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}

func TestNotices(t *testing.T) {
	assert.True(t, notices[session.UnavailableReply])
	assert.False(t, notices["A throw-in is awarded when..."])
}

func TestCorpusBuildCommand(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "Law 11.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Offside. A player in an offside position is not penalised unless involved in active play."), 0o644))
	outputPath = filepath.Join(dir, "corpus.yaml")
	t.Cleanup(func() { outputPath = "corpus.yaml" })

	var buf bytes.Buffer
	corpusBuildCmd.SetOut(&buf)
	require.NoError(t, runCorpusBuildCommand(corpusBuildCmd, []string{doc}))
	assert.Contains(t, buf.String(), "Wrote 1 passages from 1 files")

	corpus, err := retrieval.LoadCorpus(outputPath)
	require.NoError(t, err)
	require.Len(t, corpus.Passages, 1)
	assert.Equal(t, "Law 11.txt - Part 1", corpus.Passages[0].Source)
}

func TestConfigCommand_HidesKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-secret")
	configPath = filepath.Join(t.TempDir(), "absent.yaml")
	t.Cleanup(func() { configPath = "rulesagent.yaml" })

	var out, errOut bytes.Buffer
	configCmd.SetOut(&out)
	configCmd.SetErr(&errOut)
	require.NoError(t, runConfigCommand(configCmd, nil))

	assert.NotContains(t, out.String(), "gsk-secret")
	assert.Contains(t, out.String(), "api_key: <set>")
	assert.Contains(t, out.String(), "port: 8765")
}
