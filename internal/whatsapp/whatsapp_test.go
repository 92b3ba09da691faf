package whatsapp

import (
	"context"
	"testing"

	"github.com/zapflow/zapflow/internal/store"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain number", input: "15551234567", want: "+15551234567"},
		{name: "with plus", input: "+15551234567", want: "+15551234567"},
		{name: "with whitespace", input: "  15551234567 ", want: "+15551234567"},
		{name: "jid form", input: "15551234567@s.whatsapp.net", want: "+15551234567"},
		{name: "empty", input: "", wantErr: true},
		{name: "letters", input: "not-a-number", wantErr: true},
		{name: "too short", input: "12345", wantErr: true},
		{name: "too long", input: "1234567890123456", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAndCanonicalizeRecipient(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDriverDetectionForWhatsAppDSNs(t *testing.T) {
	if store.DetectDSNType("/var/lib/zapflow/whatsmeow.db") != "sqlite3" {
		t.Error("expected file path to be detected as sqlite3")
	}
	if store.DetectDSNType("postgres://localhost/whatsmeow") != "postgres" {
		t.Error("expected postgres URL to be detected as postgres")
	}
}

func TestMockClientRecordsMessages(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Sent) != 1 || m.Sent[0].Body != "hello" {
		t.Errorf("unexpected recorded messages: %+v", m.Sent)
	}
}
