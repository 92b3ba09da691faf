// Package api provides HTTP handlers for the control channel endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// flowHandler handles the published flow definition (POST and GET /flow).
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.publishFlowHandler(w, r)
	case http.MethodGet:
		s.getFlowHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.flowHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// publishFlowHandler normalizes and installs a new flow definition, resetting
// every live conversation, and persists the publication.
func (s *Server) publishFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.publishFlowHandler: processing publish request", "path", r.URL.Path)

	document, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Server.publishFlowHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	def, err := s.engine.PublishFlow(document)
	if err != nil {
		slog.Warn("Server.publishFlowHandler: flow rejected", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if s.st != nil {
		normalized, marshalErr := json.Marshal(def)
		if marshalErr != nil {
			slog.Error("Server.publishFlowHandler: failed to marshal normalized flow", "error", marshalErr)
		} else if _, saveErr := s.st.SaveFlow(def.Version, string(normalized)); saveErr != nil {
			// The flow is already live; persistence failure only costs
			// restart recovery.
			slog.Error("Server.publishFlowHandler: failed to persist flow", "error", saveErr)
		}
	}

	slog.Info("Server.publishFlowHandler: flow published", "version", def.Version, "nodes", len(def.Nodes), "startNodeId", def.StartNodeID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow published successfully", def))
}

// getFlowHandler returns the currently published flow (GET /flow).
func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.getFlowHandler: processing flow request", "path", r.URL.Path)
	def := s.engine.Flow()
	if def == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No flow published"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(def))
}

// flowsHandler returns the saved flow history, newest first (GET /flows).
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.flowsHandler: processing flows request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.flowsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flows, err := s.st.ListFlows()
	if err != nil {
		slog.Error("Error fetching flows", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flows"))
		return
	}
	slog.Debug("flows fetched", "count", len(flows))
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

// broadcastHandler sends a message to every active conversation with a fixed
// delay between sends (POST /broadcast). The sends run in the background; the
// response reports how many recipients were captured.
func (s *Server) broadcastHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.broadcastHandler: processing broadcast request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.broadcastHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.broadcastHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Message == "" {
		slog.Warn("Server.broadcastHandler: missing message")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: message"))
		return
	}

	delay := s.broadcastDelay
	if req.DelaySeconds > 0 {
		delay = time.Duration(req.DelaySeconds) * time.Second
	}

	// Capture the recipient list now; conversations created or destroyed
	// after this point are not affected.
	recipients := s.engine.ListActiveConversations()
	slog.Info("Server.broadcastHandler: broadcast starting", "recipients", len(recipients), "delay", delay)

	go s.runBroadcast(recipients, req.Message, delay)

	writeJSONResponse(w, http.StatusAccepted, models.Broadcasting("Broadcast started", map[string]interface{}{
		"recipients": len(recipients),
	}))
}

// runBroadcast performs the sequential sends for one broadcast request.
func (s *Server) runBroadcast(recipients []string, message string, delay time.Duration) {
	for i, chatID := range recipients {
		if i > 0 {
			time.Sleep(delay)
		}
		if err := s.msgService.SendMessage(context.Background(), chatID, message); err != nil {
			slog.Error("Server.runBroadcast: send failed", "error", err, "to", chatID)
			s.addReceipt(models.Receipt{To: chatID, Status: models.MessageStatusFailed, Time: time.Now().Unix()})
			continue
		}
		s.addReceipt(models.Receipt{To: chatID, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	}
	slog.Info("Server.runBroadcast: broadcast finished", "recipients", len(recipients))
}

// conversationsHandler returns snapshots of all live conversations (GET /conversations).
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationsHandler: processing conversations request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshots := s.engine.Conversations()
	slog.Debug("conversations fetched", "count", len(snapshots))
	writeJSONResponse(w, http.StatusOK, models.Success(snapshots))
}

// sendHandler performs a one-off direct send outside any flow (POST /send).
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

	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.sendHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.msgService.SendMessage(context.Background(), canonicalTo, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	s.addReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})

	slog.Info("Server.sendHandler: message sent successfully", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// receiptsHandler returns all recorded delivery receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.receiptsHandler: processing receipts request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.receiptsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Error fetching receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// responsesHandler returns all collected inbound messages (GET /responses).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.responsesHandler: processing responses request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.responsesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Error fetching responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	slog.Debug("responses fetched", "count", len(responses))
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// statsHandler returns statistics about collected inbound messages (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing stats request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Error fetching responses in statsHandler", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	total := len(responses)
	perSender := make(map[string]int)
	var sumLen int
	for _, resp := range responses {
		perSender[resp.From]++
		sumLen += len(resp.Body)
	}
	avgLen := 0.0
	if total > 0 {
		avgLen = float64(sumLen) / float64(total)
	}
	stats := map[string]interface{}{
		"total_responses":      total,
		"responses_per_sender": perSender,
		"avg_response_length":  avgLen,
	}
	slog.Debug("stats computed", "total_responses", total, "avg_response_length", avgLen)
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":               "healthy",
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"flow_published":       s.engine.Flow() != nil,
		"active_conversations": len(s.engine.ListActiveConversations()),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// addReceipt records a receipt, logging instead of failing on store errors.
func (s *Server) addReceipt(r models.Receipt) {
	if s.st == nil {
		return
	}
	if err := s.st.AddReceipt(r); err != nil {
		slog.Error("Server failed to add receipt", "error", err, "to", r.To)
	}
}
