// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianRules/services/agent/session"
)

// wsConn adapts a websocket connection to session.Conn.
//
// Every inbound message pushes the read deadline forward by idle, as does
// every pong. Any read or write failure is reported as
// session.ErrChannelClosed since gorilla connections are unusable after one.
type wsConn struct {
	ws           *websocket.Conn
	idle         time.Duration
	writeTimeout time.Duration
}

var _ session.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, idle time.Duration) *wsConn {
	c := &wsConn{ws: ws, idle: idle, writeTimeout: 10 * time.Second}
	c.extend()
	ws.SetPongHandler(func(string) error {
		c.extend()
		return nil
	})
	return c
}

func (c *wsConn) extend() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.idle))
}

func (c *wsConn) ReadMessage(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("%w: %v", session.ErrChannelClosed, err)
	}
	c.extend()
	if kind != websocket.TextMessage {
		return "", session.ErrUnsupportedFrame
	}
	return string(data), nil
}

func (c *wsConn) WriteMessage(_ context.Context, text string) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("%w: %v", session.ErrChannelClosed, err)
	}
	return nil
}

// ping sends a ping every interval until stop is closed. WriteControl may
// run concurrently with the session's writes.
func (c *wsConn) ping(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// closeWith sends a close frame with the given code and closes the socket.
func (c *wsConn) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.ws.Close()
}
