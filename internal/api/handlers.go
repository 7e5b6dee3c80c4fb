// Package api provides HTTP handlers for BookingBridge endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// fallbackReply is the best-effort message sent to the channel when a turn
// fails. Delivery failure of this message is logged, never re-raised.
const fallbackReply = "Sorry, I encountered an error processing your message. Please try again in a moment."

// incomingHandler is the channel adapter: it receives the inbound webhook
// payload, drives one full conversation turn, and relays the reply back to the
// sender (POST /incoming).
func (s *Server) incomingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.incomingHandler: processing inbound message", "method", r.Method, "path", r.URL.Path)

	if r.Method == http.MethodOptions {
		writeCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.incomingHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	msg, err := parseIncoming(r)
	if err != nil {
		slog.Warn("Server.incomingHandler: failed to parse payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorBody{Error: err.Error()})
		return
	}
	slog.Info("Server.incomingHandler: inbound message", "from", msg.From, "bodyLength", len(msg.Body))

	ctx, cancel := context.WithTimeout(r.Context(), DefaultTurnTimeout)
	defer cancel()

	result, err := s.orch.RunTurn(ctx, msg.Body)

	record := models.TurnRecord{
		ID:        uuid.NewString(),
		From:      msg.From,
		Body:      msg.Body,
		Reply:     result.Reply,
		ContextID: result.ContextID,
		TurnID:    result.TurnID,
		Status:    models.TurnRecordStatusCompleted,
		Time:      time.Now().Unix(),
	}

	if err != nil {
		slog.Error("Server.incomingHandler: turn failed", "error", err, "from", msg.From, "contextID", result.ContextID, "turnID", result.TurnID)
		record.Status = models.TurnRecordStatusFailed
		if recErr := s.st.AddTurnRecord(record); recErr != nil {
			slog.Error("Server.incomingHandler: failed to record turn", "error", recErr)
		}
		// Best effort: tell the sender something went wrong.
		if sendErr := s.msgService.SendMessage(ctx, msg.From, fallbackReply); sendErr != nil {
			slog.Error("Server.incomingHandler: failed to deliver fallback message", "error", sendErr, "to", msg.From)
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.ErrorBody{Error: err.Error()})
		return
	}

	if recErr := s.st.AddTurnRecord(record); recErr != nil {
		slog.Error("Server.incomingHandler: failed to record turn", "error", recErr)
	}

	// The reply goes back to the inbound sender address exactly as received.
	// A delivery failure must not mask the successful turn: the caller still
	// gets the computed reply in the response body.
	if sendErr := s.msgService.SendMessage(ctx, msg.From, result.Reply); sendErr != nil {
		slog.Error("Server.incomingHandler: failed to deliver reply", "error", sendErr, "to", msg.From)
	}

	writeJSONResponse(w, http.StatusOK, models.TurnReceipt{
		Success:   true,
		Reply:     result.Reply,
		ContextID: result.ContextID,
		TurnID:    result.TurnID,
	})
}

// parseIncoming accepts the two payload encodings channels use: JSON and form
// encoding (Twilio posts form-encoded From/Body pairs).
func parseIncoming(r *http.Request) (models.IncomingMessage, error) {
	var msg models.IncomingMessage

	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			return msg, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return msg, err
		}
		msg.From = r.FormValue("From")
		msg.Body = r.FormValue("Body")
	}

	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

// writeCORSHeaders answers channel preflight requests permissively.
func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// sendHandler sends an operator-supplied message over the channel (POST /send).
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.sendHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(payload.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", payload.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(r.Context(), canonicalTo, payload.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	if recErr := s.st.AddReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()}); recErr != nil {
		slog.Error("Server.sendHandler: failed to add receipt", "error", recErr)
	}

	slog.Info("Server.sendHandler: message sent successfully", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// turnsHandler returns the logged turns (GET /turns).
func (s *Server) turnsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.turnsHandler: processing turns request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	records, err := s.st.GetTurnRecords()
	if err != nil {
		slog.Error("Server.turnsHandler: failed to fetch turn records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch turns"))
		return
	}
	slog.Debug("Server.turnsHandler: turns fetched", "count", len(records))
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// receiptsHandler returns all delivery receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.receiptsHandler: processing receipts request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// healthHandler provides a health check endpoint for monitoring (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if records, err := s.st.GetTurnRecords(); err != nil {
		slog.Warn("Server.healthHandler: failed to read turn log", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to read turn log"
	} else {
		healthData["turns_logged"] = len(records)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
