// Package models defines core data structures used across ZapFlow modules.
//
// It contains the typed flow schema (FlowDefinition, Node, Option), the
// per-conversation records exchanged between the engine and its callers, and
// the JSON envelope returned by the HTTP control channel.
package models

import "fmt"

// MatchType determines how an option label is compared against inbound text.
type MatchType string

const (
	// MatchTypeEquals matches when the normalized input equals the label exactly.
	MatchTypeEquals MatchType = "equals"
	// MatchTypeContains matches when the normalized input contains the label.
	MatchTypeContains MatchType = "contains"
)

// Default values applied by the flow normalizer.
const (
	// DefaultFlowVersion is used when a flow document carries no version.
	DefaultFlowVersion = "1.0.0"
	// DefaultNodeType is used when a node carries no type tag.
	DefaultNodeType = "question"
	// DefaultInactivityMessage is sent by the inactivity timer when the flow
	// does not configure its own re-engagement text.
	DefaultInactivityMessage = "Hello! We noticed you did not reply. Are you still interested in our services?"
)

// Option is a recognized user reply pattern attached to a node.
// Order within a node's option list is significant: matching is
// first-match-wins in declared order.
type Option struct {
	Label                     string    `json:"label"`
	NormalizedLabel           string    `json:"normalizedLabel"`
	MatchType                 MatchType `json:"matchType"`
	ReplyMessage              string    `json:"replyMessage,omitempty"`
	NextNodeID                string    `json:"nextNodeId,omitempty"`
	FollowupTrigger           string    `json:"followupTrigger,omitempty"`
	FollowupTriggerNormalized string    `json:"followupTriggerNormalized,omitempty"`
	FollowupMessage           string    `json:"followupMessage,omitempty"`
}

// Node is one step of the scripted dialogue.
type Node struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Text          string   `json:"text"`
	DefaultReply  string   `json:"defaultReply,omitempty"`
	UpsellDelay   float64  `json:"upsellDelay,omitempty"` // minutes; zero disables
	UpsellMessage string   `json:"upsellMessage,omitempty"`
	Options       []Option `json:"options"`
}

// HasUpsell reports whether this node arms a timed upsell. Both a positive
// delay and a message are required.
func (n *Node) HasUpsell() bool {
	return n != nil && n.UpsellDelay > 0 && n.UpsellMessage != ""
}

// FlowDefinition is a validated, fully-defaulted automation flow. Instances
// are only produced by the flow normalizer.
type FlowDefinition struct {
	Version           string           `json:"version"`
	StartNodeID       string           `json:"startNodeId"`
	InactivityMessage string           `json:"inactivityMessage"`
	Nodes             map[string]*Node `json:"nodes"`
	// NodeOrder preserves the declaration order of the source document so the
	// start-node fallback is deterministic.
	NodeOrder []string `json:"-"`
}

// Node returns the node with the given id, or nil if the id is unknown.
func (f *FlowDefinition) Node(id string) *Node {
	if f == nil || id == "" {
		return nil
	}
	return f.Nodes[id]
}

// StartNode returns the flow's start node, or nil if the flow has none.
func (f *FlowDefinition) StartNode() *Node {
	if f == nil {
		return nil
	}
	return f.Node(f.StartNodeID)
}

// AwaitingOption records the side-channel hint left behind after an option
// match: if the user later types the followup trigger (and not the reply the
// bot just sent), the followup message is sent without changing nodes.
type AwaitingOption struct {
	ExpectedReplyNormalized   string `json:"expectedReplyNormalized,omitempty"`
	OptionLabelNormalized     string `json:"optionLabelNormalized,omitempty"`
	FollowupTriggerNormalized string `json:"followupTriggerNormalized,omitempty"`
	FollowupMessage           string `json:"followupMessage,omitempty"`
}

// ConversationSnapshot is a read-only view of one live conversation, exposed
// through the control channel.
type ConversationSnapshot struct {
	ChatID          string `json:"chatId"`
	CurrentNodeID   string `json:"currentNodeId"`
	LastMessageTime int64  `json:"lastMessageTime"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates a message was handed to the transport.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the transport rejected the send.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusDelivered indicates the transport reported delivery.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the recipient read the message.
	MessageStatusRead MessageStatus = "read"
)

// Receipt records the outcome of one outbound send.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a chat participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// SavedFlow is one persisted flow publication.
type SavedFlow struct {
	ID          int64  `json:"id"`
	Version     string `json:"version"`
	Definition  string `json:"definition"` // normalized flow as JSON
	PublishedAt int64  `json:"publishedAt"`
}

// BroadcastRequest asks for a message to be sent to every active conversation
// with a fixed delay between sends.
type BroadcastRequest struct {
	Message      string `json:"message"`
	DelaySeconds int    `json:"delaySeconds,omitempty"`
}

// SendRequest asks for a one-off direct send.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Validate checks that a send request carries both required fields.
func (r SendRequest) Validate() error {
	if r.To == "" {
		return fmt.Errorf("missing required field: to")
	}
	if r.Body == "" {
		return fmt.Errorf("missing required field: body")
	}
	return nil
}

// API response types for consistent JSON responses.

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusBroadcasting indicates a broadcast was accepted and is running.
	APIStatusBroadcasting APIStatus = "broadcasting"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}

// Broadcasting creates an accepted-broadcast API response.
func Broadcasting(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusBroadcasting).WithMessage(message).WithResult(result).Build()
}
