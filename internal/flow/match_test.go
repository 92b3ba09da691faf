package flow

import (
	"testing"

	"github.com/zapflow/zapflow/internal/models"
)

func TestMatchOptionFirstMatchWins(t *testing.T) {
	options := []models.Option{
		{Label: "yes", NormalizedLabel: "yes", MatchType: models.MatchTypeEquals, NextNodeID: "first"},
		{Label: "yes", NormalizedLabel: "yes", MatchType: models.MatchTypeEquals, NextNodeID: "second"},
	}
	got := MatchOption("yes", options)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.NextNodeID != "first" {
		t.Errorf("expected first declared option to win, got nextNodeId %q", got.NextNodeID)
	}
}

func TestMatchOptionEqualsVsContains(t *testing.T) {
	options := []models.Option{
		{Label: "yes", NormalizedLabel: "yes", MatchType: models.MatchTypeEquals, ReplyMessage: "exact"},
		{Label: "info", NormalizedLabel: "info", MatchType: models.MatchTypeContains, ReplyMessage: "partial"},
	}

	tests := []struct {
		name      string
		input     string
		wantReply string
		wantNil   bool
	}{
		{name: "equals matches exact input", input: "yes", wantReply: "exact"},
		{name: "equals rejects superstring", input: "yes please", wantNil: true},
		{name: "contains matches substring", input: "send me info now", wantReply: "partial"},
		{name: "contains matches exact", input: "info", wantReply: "partial"},
		{name: "no match", input: "maybe", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchOption(tt.input, options)
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected no match for %q, got %+v", tt.input, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected a match for %q, got nil", tt.input)
			}
			if got.ReplyMessage != tt.wantReply {
				t.Errorf("expected reply %q, got %q", tt.wantReply, got.ReplyMessage)
			}
		})
	}
}

func TestMatchOptionSkipsEmptyLabels(t *testing.T) {
	options := []models.Option{
		{Label: "   ", NormalizedLabel: "", MatchType: models.MatchTypeContains, ReplyMessage: "never"},
		{Label: "ok", NormalizedLabel: "ok", MatchType: models.MatchTypeEquals, ReplyMessage: "eligible"},
	}
	got := MatchOption("ok", options)
	if got == nil {
		t.Fatal("expected the eligible option to match")
	}
	if got.ReplyMessage != "eligible" {
		t.Errorf("expected empty-label option to be skipped, got reply %q", got.ReplyMessage)
	}
}

func TestMatchOptionEmptyList(t *testing.T) {
	if got := MatchOption("anything", nil); got != nil {
		t.Errorf("expected nil for empty option list, got %+v", got)
	}
}
