// Package chat exposes the booking engine over HTTP: a plain
// request/response endpoint at POST /chat and a WebSocket endpoint at
// /chat/ws for interactive clients. Both speak the same JSON envelope.
package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/booking-core/core/responses"
	"go.opentelemetry.io/otel/attribute"
)

// UtteranceHandler is the engine surface the transport needs.
type UtteranceHandler interface {
	HandleUtterance(ctx context.Context, sessionID string, rawText string) (responses.Response, error)
	Reset(ctx context.Context, sessionID string) error
}

// Envelope is one chat message on the wire, in either direction.
// Client envelopes carry Message; server envelopes carry the response
// kind in Type and the full response in Payload.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

const (
	// EnvelopeUtterance is a client message carrying one utterance.
	EnvelopeUtterance = "utterance"
	// EnvelopeReset is a client message discarding the session's state.
	EnvelopeReset = "reset"
	// EnvelopeError is a server message reporting a transport-level
	// failure.
	EnvelopeError = "error"
)

// Handler serves the chat endpoints for one engine.
type Handler struct {
	engine   UtteranceHandler
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// NewHandler creates the chat handler.
func NewHandler(engine UtteranceHandler) *Handler {
	handler := &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", handler.handleChat)
	mux.HandleFunc("POST /chat/reset", handler.handleReset)
	mux.HandleFunc("GET /chat/ws", handler.handleWebSocket)
	handler.mux = mux

	return handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handle chat request")
	defer span.End()

	var envelope Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Type: EnvelopeError, Text: "malformed request body"})
		return
	}
	if envelope.Message == "" {
		writeJSON(w, http.StatusBadRequest, Envelope{Type: EnvelopeError, Text: "message must not be empty"})
		return
	}

	sessionID := envelope.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("chat.session_id", sessionID))

	response, err := h.engine.HandleUtterance(ctx, sessionID, envelope.Message)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "failed to handle utterance", "error", err, "session_id", sessionID)
		writeJSON(w, http.StatusInternalServerError, Envelope{
			Type: EnvelopeError, SessionID: sessionID, Text: "something went wrong handling that message",
		})
		return
	}

	writeJSON(w, http.StatusOK, toEnvelope(sessionID, response))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handle chat reset")
	defer span.End()

	var envelope Envelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || envelope.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, Envelope{Type: EnvelopeError, Text: "session_id must be provided"})
		return
	}
	span.SetAttributes(attribute.String("chat.session_id", envelope.SessionID))

	if err := h.engine.Reset(ctx, envelope.SessionID); err != nil {
		span.RecordError(err)
		writeJSON(w, http.StatusInternalServerError, Envelope{
			Type: EnvelopeError, SessionID: envelope.SessionID, Text: "failed to reset session",
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket runs one interactive chat session. The connection is
// bound to a single session id for its whole lifetime.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger.InfoContext(ctx, "chat session connected", "session_id", sessionID)

	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnContext(ctx, "chat session closed unexpectedly", "error", err, "session_id", sessionID)
			}
			return
		}

		switch envelope.Type {
		case EnvelopeReset:
			if err := h.engine.Reset(ctx, sessionID); err != nil {
				h.writeError(ctx, conn, sessionID, "failed to reset session")
				continue
			}
			if err := conn.WriteJSON(Envelope{Type: EnvelopeReset, SessionID: sessionID}); err != nil {
				return
			}

		case EnvelopeUtterance:
			if envelope.Message == "" {
				h.writeError(ctx, conn, sessionID, "message must not be empty")
				continue
			}
			response, err := h.engine.HandleUtterance(ctx, sessionID, envelope.Message)
			if err != nil {
				logger.ErrorContext(ctx, "failed to handle utterance", "error", err, "session_id", sessionID)
				h.writeError(ctx, conn, sessionID, "something went wrong handling that message")
				continue
			}
			if err := conn.WriteJSON(toEnvelope(sessionID, response)); err != nil {
				return
			}

		default:
			h.writeError(ctx, conn, sessionID, "unknown envelope type: "+envelope.Type)
		}
	}
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, sessionID, text string) {
	if err := conn.WriteJSON(Envelope{Type: EnvelopeError, SessionID: sessionID, Text: text}); err != nil {
		logger.WarnContext(ctx, "failed to write error envelope", "error", err, "session_id", sessionID)
	}
}

func toEnvelope(sessionID string, response responses.Response) Envelope {
	return Envelope{
		Type:      string(response.Kind()),
		SessionID: sessionID,
		Text:      response.Text(),
		Payload:   response,
	}
}

func writeJSON(w http.ResponseWriter, status int, envelope Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
