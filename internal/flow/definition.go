package flow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/zapflow/zapflow/internal/models"
)

// ErrInvalidFlow is returned when a published flow document is not a JSON
// object. It is the only structural rejection; everything inside a valid
// object is defaulted instead.
var ErrInvalidFlow = errors.New("invalid flow document: expected a JSON object")

// flowDocument is the loosely-structured wire shape of a flow publication.
type flowDocument struct {
	Version           string          `json:"version"`
	StartNodeID       string          `json:"startNodeId"`
	InactivityMessage string          `json:"inactivityMessage"`
	Nodes             json.RawMessage `json:"nodes"`
}

type nodeDocument struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Text          string          `json:"text"`
	DefaultReply  string          `json:"defaultReply"`
	UpsellDelay   json.RawMessage `json:"upsellDelay"`
	UpsellMessage string          `json:"upsellMessage"`
	Options       json.RawMessage `json:"options"`
}

type optionDocument struct {
	Label           string `json:"label"`
	MatchType       string `json:"matchType"`
	ReplyMessage    string `json:"replyMessage"`
	NextNodeID      string `json:"nextNodeId"`
	FollowupTrigger string `json:"followupTrigger"`
	FollowupMessage string `json:"followupMessage"`
}

// NormalizeFlow turns a raw flow document into a validated, fully-defaulted
// FlowDefinition. This is the only path by which a FlowDefinition comes into
// existence.
//
// A document whose top level is not a JSON object is rejected with
// ErrInvalidFlow. Inside a valid object every missing or malformed field is
// replaced by its default: version and inactivity message get fixed
// defaults, node type defaults to "question", upsell delays are coerced to a
// number (non-numeric or non-positive values disable the upsell), and option
// labels and followup triggers get their normalized forms computed. If the
// declared start node id is absent or unknown it is replaced by the first
// node in the document's declaration order, or left empty when the flow has
// no nodes.
func NormalizeFlow(data []byte) (*models.FlowDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		slog.Warn("NormalizeFlow rejected non-object document", "length", len(trimmed))
		return nil, ErrInvalidFlow
	}

	var doc flowDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		slog.Warn("NormalizeFlow failed to decode document", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}

	def := &models.FlowDefinition{
		Version:           doc.Version,
		StartNodeID:       doc.StartNodeID,
		InactivityMessage: doc.InactivityMessage,
	}
	if def.Version == "" {
		def.Version = models.DefaultFlowVersion
	}
	if def.InactivityMessage == "" {
		def.InactivityMessage = models.DefaultInactivityMessage
	}

	nodes, order, err := decodeNodes(doc.Nodes)
	if err != nil {
		slog.Warn("NormalizeFlow failed to decode nodes", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	def.Nodes = nodes
	def.NodeOrder = order

	// Start-node fallback: first declared node, or empty when there are none.
	if def.Nodes[def.StartNodeID] == nil {
		if len(order) > 0 {
			if def.StartNodeID != "" {
				slog.Warn("NormalizeFlow replacing unknown start node", "declared", def.StartNodeID, "fallback", order[0])
			}
			def.StartNodeID = order[0]
		} else {
			def.StartNodeID = ""
		}
	}

	slog.Debug("NormalizeFlow succeeded", "version", def.Version, "nodes", len(def.Nodes), "startNodeId", def.StartNodeID)
	return def, nil
}

// decodeNodes decodes the nodes mapping while recording key declaration
// order, which the start-node fallback depends on.
func decodeNodes(raw json.RawMessage) (map[string]*models.Node, []string, error) {
	nodes := make(map[string]*models.Node)
	var order []string

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nodes, order, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("nodes must be an object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		id := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}

		var nodeDoc nodeDocument
		if err := json.Unmarshal(value, &nodeDoc); err != nil {
			// A node that is not an object collapses to an empty node with
			// all defaults rather than failing the publish.
			slog.Warn("NormalizeFlow ignoring malformed node value", "id", id, "error", err)
			nodeDoc = nodeDocument{}
		}

		if _, exists := nodes[id]; !exists {
			order = append(order, id)
		}
		nodes[id] = normalizeNode(id, nodeDoc)
	}

	return nodes, order, nil
}

// normalizeNode fills node defaults and normalizes its options.
func normalizeNode(id string, doc nodeDocument) *models.Node {
	node := &models.Node{
		ID:            doc.ID,
		Type:          doc.Type,
		Text:          doc.Text,
		DefaultReply:  doc.DefaultReply,
		UpsellDelay:   coerceDelay(doc.UpsellDelay),
		UpsellMessage: doc.UpsellMessage,
	}
	if node.ID == "" {
		node.ID = id
	}
	if node.Type == "" {
		node.Type = models.DefaultNodeType
	}

	var optionDocs []optionDocument
	if len(doc.Options) > 0 {
		if err := json.Unmarshal(doc.Options, &optionDocs); err != nil {
			slog.Warn("NormalizeFlow ignoring malformed options", "nodeId", node.ID, "error", err)
			optionDocs = nil
		}
	}
	node.Options = make([]models.Option, 0, len(optionDocs))
	for _, optDoc := range optionDocs {
		node.Options = append(node.Options, normalizeOption(optDoc))
	}

	return node
}

// normalizeOption fills option defaults and computes the normalized label
// and followup trigger used by the matcher.
func normalizeOption(doc optionDocument) models.Option {
	opt := models.Option{
		Label:           doc.Label,
		NormalizedLabel: NormalizeText(doc.Label),
		MatchType:       models.MatchTypeEquals,
		ReplyMessage:    doc.ReplyMessage,
		NextNodeID:      doc.NextNodeID,
		FollowupTrigger: doc.FollowupTrigger,
		FollowupMessage: doc.FollowupMessage,
	}
	if doc.MatchType == string(models.MatchTypeContains) {
		opt.MatchType = models.MatchTypeContains
	}
	if doc.FollowupTrigger != "" {
		opt.FollowupTriggerNormalized = NormalizeText(doc.FollowupTrigger)
	}
	return opt
}

// coerceDelay converts an upsell delay value (number or numeric string) to
// minutes. Anything non-numeric or non-positive disables the upsell.
func coerceDelay(raw json.RawMessage) float64 {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0
	}
	trimmed = strings.Trim(trimmed, `"`)
	value, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0
	}
	return value
}
