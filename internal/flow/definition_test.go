package flow

import (
	"errors"
	"testing"

	"github.com/zapflow/zapflow/internal/models"
)

func TestNormalizeFlowRejectsNonObject(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "array", data: `[1, 2, 3]`},
		{name: "string", data: `"flow"`},
		{name: "number", data: `42`},
		{name: "empty", data: ``},
		{name: "garbage", data: `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeFlow([]byte(tt.data))
			if !errors.Is(err, ErrInvalidFlow) {
				t.Errorf("expected ErrInvalidFlow, got %v", err)
			}
		})
	}
}

func TestNormalizeFlowDefaults(t *testing.T) {
	def, err := NormalizeFlow([]byte(`{"nodes": {"a": {"text": "Hi"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Version != models.DefaultFlowVersion {
		t.Errorf("expected default version %q, got %q", models.DefaultFlowVersion, def.Version)
	}
	if def.InactivityMessage != models.DefaultInactivityMessage {
		t.Errorf("expected default inactivity message, got %q", def.InactivityMessage)
	}
	node := def.Nodes["a"]
	if node == nil {
		t.Fatal("expected node a to exist")
	}
	if node.ID != "a" {
		t.Errorf("expected node id filled from key, got %q", node.ID)
	}
	if node.Type != models.DefaultNodeType {
		t.Errorf("expected default node type %q, got %q", models.DefaultNodeType, node.Type)
	}
	if node.Options == nil || len(node.Options) != 0 {
		t.Errorf("expected empty option list, got %v", node.Options)
	}
}

func TestNormalizeFlowStartNodeFallback(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantStart string
	}{
		{
			name:      "missing start uses first declared node",
			data:      `{"nodes": {"z": {"text": "Z"}, "a": {"text": "A"}}}`,
			wantStart: "z",
		},
		{
			name:      "unknown start uses first declared node",
			data:      `{"startNodeId": "ghost", "nodes": {"b": {"text": "B"}, "a": {"text": "A"}}}`,
			wantStart: "b",
		},
		{
			name:      "valid start kept",
			data:      `{"startNodeId": "a", "nodes": {"b": {"text": "B"}, "a": {"text": "A"}}}`,
			wantStart: "a",
		},
		{
			name:      "no nodes leaves start empty",
			data:      `{"startNodeId": "a"}`,
			wantStart: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := NormalizeFlow([]byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def.StartNodeID != tt.wantStart {
				t.Errorf("expected start node %q, got %q", tt.wantStart, def.StartNodeID)
			}
		})
	}
}

func TestNormalizeFlowNodeOrderPreserved(t *testing.T) {
	def, err := NormalizeFlow([]byte(`{"nodes": {"c": {}, "a": {}, "b": {}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"c", "a", "b"}
	if len(def.NodeOrder) != len(want) {
		t.Fatalf("expected %d nodes in order, got %d", len(want), len(def.NodeOrder))
	}
	for i, id := range want {
		if def.NodeOrder[i] != id {
			t.Errorf("expected NodeOrder[%d] = %q, got %q", i, id, def.NodeOrder[i])
		}
	}
}

func TestNormalizeFlowUpsellDelayCoercion(t *testing.T) {
	tests := []struct {
		name string
		data string
		want float64
	}{
		{name: "number", data: `{"nodes": {"a": {"upsellDelay": 2, "upsellMessage": "m"}}}`, want: 2},
		{name: "fractional", data: `{"nodes": {"a": {"upsellDelay": 1.5, "upsellMessage": "m"}}}`, want: 1.5},
		{name: "numeric string", data: `{"nodes": {"a": {"upsellDelay": "3", "upsellMessage": "m"}}}`, want: 3},
		{name: "non-numeric disables", data: `{"nodes": {"a": {"upsellDelay": "soon", "upsellMessage": "m"}}}`, want: 0},
		{name: "zero disables", data: `{"nodes": {"a": {"upsellDelay": 0, "upsellMessage": "m"}}}`, want: 0},
		{name: "negative disables", data: `{"nodes": {"a": {"upsellDelay": -1, "upsellMessage": "m"}}}`, want: 0},
		{name: "missing disables", data: `{"nodes": {"a": {"upsellMessage": "m"}}}`, want: 0},
		{name: "null disables", data: `{"nodes": {"a": {"upsellDelay": null, "upsellMessage": "m"}}}`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := NormalizeFlow([]byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			node := def.Nodes["a"]
			if node.UpsellDelay != tt.want {
				t.Errorf("expected upsellDelay %v, got %v", tt.want, node.UpsellDelay)
			}
		})
	}
}

func TestNormalizeFlowOptionNormalization(t *testing.T) {
	data := `{
		"startNodeId": "a",
		"nodes": {
			"a": {
				"text": "Pick one",
				"options": [
					{"label": "Não", "matchType": "contains", "replyMessage": "ok", "followupTrigger": "MAIS Info"},
					{"label": "Sim", "matchType": "bogus"}
				]
			}
		}
	}`
	def, err := NormalizeFlow([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts := def.Nodes["a"].Options
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
	if opts[0].NormalizedLabel != "nao" {
		t.Errorf("expected normalized label %q, got %q", "nao", opts[0].NormalizedLabel)
	}
	if opts[0].MatchType != models.MatchTypeContains {
		t.Errorf("expected matchType contains, got %q", opts[0].MatchType)
	}
	if opts[0].FollowupTriggerNormalized != "mais info" {
		t.Errorf("expected normalized followup trigger %q, got %q", "mais info", opts[0].FollowupTriggerNormalized)
	}
	if opts[1].MatchType != models.MatchTypeEquals {
		t.Errorf("expected unrecognized matchType to default to equals, got %q", opts[1].MatchType)
	}
	if opts[1].FollowupTriggerNormalized != "" {
		t.Errorf("expected empty followup trigger to stay empty, got %q", opts[1].FollowupTriggerNormalized)
	}
}

func TestNormalizeFlowMalformedNodeAndOptions(t *testing.T) {
	data := `{"nodes": {"a": "not an object", "b": {"options": "nope", "text": "B"}}}`
	def, err := NormalizeFlow([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Nodes["a"] == nil || def.Nodes["a"].ID != "a" {
		t.Errorf("expected malformed node to collapse to defaults, got %+v", def.Nodes["a"])
	}
	if len(def.Nodes["b"].Options) != 0 {
		t.Errorf("expected malformed options to collapse to empty list, got %v", def.Nodes["b"].Options)
	}
	if def.StartNodeID != "a" {
		t.Errorf("expected fallback start node %q, got %q", "a", def.StartNodeID)
	}
}
