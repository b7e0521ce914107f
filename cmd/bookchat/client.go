package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/booking-core/core/chat"
)

// client is a thin wrapper over the chat WebSocket: writes happen from
// the UI loop, reads are pumped into a channel for bubbletea.
type client struct {
	conn      *websocket.Conn
	sessionID string
	envelopes chan chat.Envelope
	errs      chan error
}

func dial(serverURL string) (*client, error) {
	sessionID := uuid.NewString()

	wsURL, err := toWebSocketURL(serverURL, sessionID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", wsURL, err)
	}

	c := &client{
		conn:      conn,
		sessionID: sessionID,
		envelopes: make(chan chat.Envelope),
		errs:      make(chan error, 1),
	}
	go c.readLoop()
	return c, nil
}

func toWebSocketURL(serverURL, sessionID string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/chat/ws"
	query := parsed.Query()
	query.Set("session_id", sessionID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (c *client) readLoop() {
	for {
		var envelope chat.Envelope
		if err := c.conn.ReadJSON(&envelope); err != nil {
			c.errs <- err
			return
		}
		c.envelopes <- envelope
	}
}

func (c *client) send(text string) error {
	return c.conn.WriteJSON(chat.Envelope{Type: chat.EnvelopeUtterance, Message: text})
}

func (c *client) reset() error {
	return c.conn.WriteJSON(chat.Envelope{Type: chat.EnvelopeReset})
}

func (c *client) close() error {
	return c.conn.Close()
}
