// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"warning", LevelInfo, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Format: FormatJSON})
	require.NoError(t, err)

	logger.Info("turn answered", "session_id", "abc", "passages", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "turn answered", rec["msg"])
	assert.Equal(t, "rulesagent", rec["service"])
	assert.Equal(t, "abc", rec["session_id"])
	assert.Equal(t, float64(3), rec["passages"])
}

func TestNew_AutoFormatOnNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf})
	require.NoError(t, err)

	logger.Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "got %q", buf.String())
}

func TestNew_TextConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Format: FormatText, Service: "ask"})
	require.NoError(t, err)

	logger.Warn("retrying", "attempt", 2)
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "service=ask")
	assert.Contains(t, out, "attempt=2")
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Format: FormatText, Level: LevelWarn})
	require.NoError(t, err)

	logger.Debug("d")
	logger.Info("i")
	logger.Error("e")

	out := buf.String()
	assert.NotContains(t, out, "msg=d")
	assert.NotContains(t, out, "msg=i")
	assert.Contains(t, out, "msg=e")
}

func TestNew_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger, err := New(Config{Dir: dir, Service: "rulesagent", Console: &console, Format: FormatText})
	require.NoError(t, err)

	logger.Info("session opened", "session_id", "s1")
	require.NoError(t, logger.Close())

	name := "rulesagent_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "session opened", rec["msg"])
	assert.Equal(t, "s1", rec["session_id"])
	assert.Contains(t, console.String(), "session opened")
}

func TestNew_FileErrorKeepsConsole(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	var buf bytes.Buffer
	logger, err := New(Config{Dir: filepath.Join(blocker, "logs"), Console: &buf, Format: FormatText})
	assert.Error(t, err)
	require.NotNil(t, logger)

	logger.Info("still here")
	assert.Contains(t, buf.String(), "still here")
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Quiet: true})
	require.NoError(t, err)

	logger.Error("nothing")
	assert.Empty(t, buf.String())
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf, Format: FormatText})
	require.NoError(t, err)

	child := logger.With("session_id", "xyz")
	child.Info("child")
	logger.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "session_id=xyz")
	assert.NotContains(t, lines[1], "session_id")
	assert.NoError(t, child.Close())
}

func TestClose_Idempotent(t *testing.T) {
	logger, err := New(Config{Dir: t.TempDir(), Quiet: true})
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".aleutian/logs"), expandPath("~/.aleutian/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative", expandPath("relative"))
}
