package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

type mockEngine struct {
	mu       sync.Mutex
	inbound  []models.Response
	resets   int
	handled  chan struct{}
	didReset chan struct{}
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		handled:  make(chan struct{}, 10),
		didReset: make(chan struct{}, 10),
	}
}

func (m *mockEngine) HandleInboundMessage(ctx context.Context, chatID, text string) {
	m.mu.Lock()
	m.inbound = append(m.inbound, models.Response{From: chatID, Body: text})
	m.mu.Unlock()
	m.handled <- struct{}{}
}

func (m *mockEngine) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	m.didReset <- struct{}{}
}

func (m *mockEngine) inboundMessages() []models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Response, len(m.inbound))
	copy(out, m.inbound)
	return out
}

func (m *mockEngine) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

type mockRecorder struct {
	mu        sync.Mutex
	responses []models.Response
	err       error
}

func (m *mockRecorder) AddResponse(r models.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m.err
}

func (m *mockRecorder) recorded() []models.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Response, len(m.responses))
	copy(out, m.responses)
	return out
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDispatcherRoutesResponsesToEngine(t *testing.T) {
	service := NewMockService()
	engine := newMockEngine()
	recorder := &mockRecorder{}
	dispatcher := NewDispatcher(service, engine, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	service.EmitResponse(models.Response{From: "+5511999990000", Body: "hello", Time: time.Now().Unix()})
	waitSignal(t, engine.handled, "inbound message handling")

	inbound := engine.inboundMessages()
	if len(inbound) != 1 {
		t.Fatalf("expected 1 inbound message, got %d", len(inbound))
	}
	if inbound[0].From != "+5511999990000" || inbound[0].Body != "hello" {
		t.Errorf("unexpected inbound message %+v", inbound[0])
	}

	recorded := recorder.recorded()
	if len(recorded) != 1 {
		t.Fatalf("expected 1 recorded response, got %d", len(recorded))
	}
	if recorded[0].Body != "hello" {
		t.Errorf("expected recorded body %q, got %q", "hello", recorded[0].Body)
	}
}

func TestDispatcherResetsEngineOnDisconnect(t *testing.T) {
	service := NewMockService()
	engine := newMockEngine()
	dispatcher := NewDispatcher(service, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	service.EmitDisconnect()
	waitSignal(t, engine.didReset, "engine reset")

	if got := engine.resetCount(); got != 1 {
		t.Errorf("expected 1 reset, got %d", got)
	}
}

func TestDispatcherRecorderErrorDoesNotBlockEngine(t *testing.T) {
	service := NewMockService()
	engine := newMockEngine()
	recorder := &mockRecorder{err: fmt.Errorf("db unavailable")}
	dispatcher := NewDispatcher(service, engine, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	service.EmitResponse(models.Response{From: "+15550001111", Body: "yes"})
	waitSignal(t, engine.handled, "inbound message handling")

	if len(engine.inboundMessages()) != 1 {
		t.Errorf("engine should still receive the message when recording fails")
	}
}

func TestDispatcherStopsWhenServiceCloses(t *testing.T) {
	service := NewMockService()
	engine := newMockEngine()
	dispatcher := NewDispatcher(service, engine, nil)

	done := make(chan struct{})
	go func() {
		dispatcher.Run(context.Background())
		close(done)
	}()

	if err := service.Stop(); err != nil {
		t.Fatalf("failed to stop service: %v", err)
	}
	waitSignal(t, done, "dispatcher shutdown")
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	service := NewMockService()
	engine := newMockEngine()
	dispatcher := NewDispatcher(service, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	cancel()
	waitSignal(t, done, "dispatcher shutdown")
}
