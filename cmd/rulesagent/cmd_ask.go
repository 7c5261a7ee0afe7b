// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRules/pkg/ux"
	"github.com/AleutianAI/AleutianRules/services/agent/config"
	"github.com/AleutianAI/AleutianRules/services/agent/session"
)

// replyTimeout bounds the wait for one answer. It is longer than the
// server's completion deadline.
const replyTimeout = 2 * time.Minute

// notices are the fixed replies shown as warnings rather than answers.
var notices = map[string]bool{
	session.NoContextReply:         true,
	session.UnavailableReply:       true,
	session.CompletionFailureReply: true,
	session.InvalidInputReply:      true,
}

// askClient is a websocket client holding one conversation.
type askClient struct {
	ws *websocket.Conn
}

func dialAgent(ctx context.Context, rawURL string) (*askClient, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", rawURL, err)
	}
	return &askClient{ws: ws}, nil
}

// Ask sends one question and waits for its reply.
func (c *askClient) Ask(question string) (string, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(question)); err != nil {
		return "", fmt.Errorf("send question: %w", err)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(replyTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(data), nil
}

// Close ends the conversation with a normal close frame.
func (c *askClient) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// agentURL builds the websocket URL from the server config.
func agentURL(cfg config.Config) string {
	u := url.URL{
		Scheme: "ws",
		Host:   cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Path:   cfg.Server.Path,
	}
	return u.String()
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	target := serverURL
	if target == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target = agentURL(cfg)
	}

	client, err := dialAgent(cmd.Context(), target)
	if err != nil {
		return err
	}
	defer client.Close()

	out := ux.NewPrinter(cmd.OutOrStdout())

	if len(args) > 0 {
		return askOnce(client, out, strings.Join(args, " "))
	}
	interactive := ux.IsTerminal(os.Stdin)
	if interactive {
		out.Banner(target)
	}
	return askLoop(client, cmd.InOrStdin(), out, interactive)
}

func askOnce(client *askClient, out *ux.Printer, question string) error {
	reply, err := client.Ask(question)
	if err != nil {
		out.Error(err)
		return err
	}
	out.Answer(reply, notices[reply])
	return nil
}

// askLoop sends each non-blank input line as a question until EOF. With
// interactive set a prompt precedes every line.
func askLoop(client *askClient, in io.Reader, out *ux.Printer, interactive bool) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			out.Prompt()
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if interactive && (line == "exit" || line == "quit") {
			return nil
		}
		if err := askOnce(client, out, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
