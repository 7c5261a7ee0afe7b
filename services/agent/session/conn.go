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
	"context"
	"errors"
)

var (
	// ErrChannelClosed is returned by a Conn once the client has gone away.
	ErrChannelClosed = errors.New("channel closed")

	// ErrUnsupportedFrame is returned by ReadMessage for a frame that does
	// not carry text. The connection stays usable.
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// Conn is one bidirectional text-message channel.
//
// ReadMessage and WriteMessage are called from the session goroutine only.
type Conn interface {
	// ReadMessage blocks until one inbound text message arrives.
	// Returns an error matching ErrChannelClosed when the client is gone.
	ReadMessage(ctx context.Context) (string, error)

	// WriteMessage sends one outbound text message.
	// Returns an error matching ErrChannelClosed when the client is gone.
	WriteMessage(ctx context.Context, text string) error
}
