package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/store"
)

const testFlowDocument = `{
	"version": "2.0.0",
	"startNodeId": "welcome",
	"inactivityMessage": "Still there?",
	"nodes": {
		"welcome": {
			"text": "Hi! Reply yes to continue.",
			"options": [
				{"label": "yes", "replyMessage": "Great!", "nextNodeId": "done"}
			]
		},
		"done": {
			"text": "All set."
		}
	}
}`

func newTestServer(t *testing.T, opts ...Option) (*Server, *messaging.MockService, store.Store) {
	t.Helper()
	svc := messaging.NewMockService()
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(svc)
	return NewServer(engine, svc, st, opts...), svc, st
}

func decodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode API response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestPublishFlowHandler(t *testing.T) {
	s, _, st := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/flow", bytes.NewBufferString(testFlowDocument))
	rr := httptest.NewRecorder()
	s.flowHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeAPIResponse(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if s.engine.Flow() == nil {
		t.Error("expected flow to be published on the engine")
	}

	flows, err := st.ListFlows()
	if err != nil {
		t.Fatalf("failed to list flows: %v", err)
	}
	if len(flows) != 1 {
		t.Fatalf("expected 1 persisted flow, got %d", len(flows))
	}
	if flows[0].Version != "2.0.0" {
		t.Errorf("expected persisted version 2.0.0, got %q", flows[0].Version)
	}
}

func TestPublishFlowHandlerRejectsNonObject(t *testing.T) {
	s, _, st := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/flow", bytes.NewBufferString(`[1, 2, 3]`))
	rr := httptest.NewRecorder()
	s.flowHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if s.engine.Flow() != nil {
		t.Error("rejected document must not install a flow")
	}
	flows, err := st.ListFlows()
	if err != nil {
		t.Fatalf("failed to list flows: %v", err)
	}
	if len(flows) != 0 {
		t.Errorf("rejected document must not be persisted, got %d flows", len(flows))
	}
}

func TestGetFlowHandlerWithoutFlow(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/flow", nil)
	rr := httptest.NewRecorder()
	s.flowHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no flow published, got %d", rr.Code)
	}
}

func TestGetFlowHandlerReturnsPublishedFlow(t *testing.T) {
	s, _, _ := newTestServer(t)
	if _, err := s.engine.PublishFlow([]byte(testFlowDocument)); err != nil {
		t.Fatalf("failed to publish flow: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/flow", nil)
	rr := httptest.NewRecorder()
	s.flowHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	if result["startNodeId"] != "welcome" {
		t.Errorf("expected startNodeId welcome, got %v", result["startNodeId"])
	}
}

func TestFlowHandlerMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/flow", nil)
	rr := httptest.NewRecorder()
	s.flowHandler(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestSendHandler(t *testing.T) {
	s, svc, st := newTestServer(t)

	body := `{"to":"+5511999990000","body":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	s.sendHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	sent := svc.SentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(sent))
	}
	if sent[0].To != "+5511999990000" || sent[0].Body != "hello" {
		t.Errorf("unexpected send %+v", sent[0])
	}

	receipts, err := st.GetReceipts()
	if err != nil {
		t.Fatalf("failed to fetch receipts: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Status != models.MessageStatusSent {
		t.Errorf("expected one sent receipt, got %+v", receipts)
	}
}

func TestSendHandlerMissingFields(t *testing.T) {
	s, svc, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"to":"+5511999990000"}`))
	rr := httptest.NewRecorder()
	s.sendHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", rr.Code)
	}
	if len(svc.SentMessages()) != 0 {
		t.Error("invalid request must not send")
	}
}

func TestSendHandlerInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{not json`))
	rr := httptest.NewRecorder()
	s.sendHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rr.Code)
	}
}

func TestBroadcastHandler(t *testing.T) {
	s, svc, st := newTestServer(t, WithBroadcastDelay(10*time.Millisecond))
	if _, err := s.engine.PublishFlow([]byte(testFlowDocument)); err != nil {
		t.Fatalf("failed to publish flow: %v", err)
	}

	// Two inbound messages create two conversations, each receiving the
	// start node text.
	s.engine.HandleInboundMessage(context.Background(), "+5511999990001", "oi")
	s.engine.HandleInboundMessage(context.Background(), "+5511999990002", "oi")
	createdSends := len(svc.SentMessages())

	req := httptest.NewRequest(http.MethodPost, "/broadcast", bytes.NewBufferString(`{"message":"maintenance tonight"}`))
	rr := httptest.NewRecorder()
	s.broadcastHandler(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeAPIResponse(t, rr)
	if resp.Status != string(models.APIStatusBroadcasting) {
		t.Errorf("expected broadcasting status, got %q", resp.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(svc.SentMessages()) >= createdSends+2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var broadcastSends int
	for _, m := range svc.SentMessages() {
		if m.Body == "maintenance tonight" {
			broadcastSends++
		}
	}
	if broadcastSends != 2 {
		t.Errorf("expected broadcast to reach 2 conversations, got %d", broadcastSends)
	}

	receipts, err := st.GetReceipts()
	if err != nil {
		t.Fatalf("failed to fetch receipts: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 broadcast receipts, got %d", len(receipts))
	}
}

func TestBroadcastHandlerMissingMessage(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/broadcast", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	s.broadcastHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing message, got %d", rr.Code)
	}
}

func TestConversationsHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	if _, err := s.engine.PublishFlow([]byte(testFlowDocument)); err != nil {
		t.Fatalf("failed to publish flow: %v", err)
	}
	s.engine.HandleInboundMessage(context.Background(), "+5511999990001", "oi")

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rr := httptest.NewRecorder()
	s.conversationsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("expected array result, got %T", resp.Result)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 conversation snapshot, got %d", len(result))
	}
	snapshot, ok := result[0].(map[string]interface{})
	if !ok {
		t.Fatalf("expected object snapshot, got %T", result[0])
	}
	if snapshot["chatId"] != "+5511999990001" {
		t.Errorf("expected chatId +5511999990001, got %v", snapshot["chatId"])
	}
	if snapshot["currentNodeId"] != "welcome" {
		t.Errorf("expected currentNodeId welcome, got %v", snapshot["currentNodeId"])
	}
}

func TestReceiptsHandler(t *testing.T) {
	s, _, st := newTestServer(t)
	if err := st.AddReceipt(models.Receipt{To: "+123", Status: models.MessageStatusSent, Time: time.Now().Unix()}); err != nil {
		t.Fatalf("failed to add receipt: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/receipts", nil)
	rr := httptest.NewRecorder()
	s.receiptsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.([]interface{})
	if !ok || len(result) != 1 {
		t.Errorf("expected 1 receipt in result, got %v", resp.Result)
	}
}

func TestResponsesHandler(t *testing.T) {
	s, _, st := newTestServer(t)
	if err := st.AddResponse(models.Response{From: "+123", Body: "yes", Time: time.Now().Unix()}); err != nil {
		t.Fatalf("failed to add response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/responses", nil)
	rr := httptest.NewRecorder()
	s.responsesHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.([]interface{})
	if !ok || len(result) != 1 {
		t.Errorf("expected 1 response in result, got %v", resp.Result)
	}
}

func TestStatsHandler(t *testing.T) {
	s, _, st := newTestServer(t)
	st.AddResponse(models.Response{From: "+1", Body: "yes"})
	st.AddResponse(models.Response{From: "+1", Body: "no"})
	st.AddResponse(models.Response{From: "+2", Body: "maybe"})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	s.statsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeAPIResponse(t, rr)
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	if result["total_responses"] != float64(3) {
		t.Errorf("expected 3 total responses, got %v", result["total_responses"])
	}
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.healthHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", health["status"])
	}
	if health["flow_published"] != false {
		t.Errorf("expected flow_published false, got %v", health["flow_published"])
	}
}
