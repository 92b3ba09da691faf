package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// DefaultInactivityTimeout is how long a conversation may stay silent before
// the flow's re-engagement message is sent.
const DefaultInactivityTimeout = 10 * time.Minute

// Sender delivers outbound text to a conversation. Implemented by the
// messaging services and by test mocks.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Engine.
type Opts struct {
	InactivityTimeout time.Duration
	UpsellUnit        time.Duration
	States            StateStore
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithInactivityTimeout overrides the inactivity re-engagement timeout.
func WithInactivityTimeout(d time.Duration) Option {
	return func(o *Opts) { o.InactivityTimeout = d }
}

// WithUpsellUnit overrides the time unit an upsell delay is expressed in.
// Production uses the default of one minute; tests shrink it.
func WithUpsellUnit(d time.Duration) Option {
	return func(o *Opts) { o.UpsellUnit = d }
}

// WithStateStore replaces the conversation state store.
func WithStateStore(s StateStore) Option {
	return func(o *Opts) { o.States = s }
}

// Engine owns the published flow definition and all live conversation
// states, and applies the transition algorithm on every inbound event.
//
// Every entry point (inbound messages, timer firings, publish, reset,
// listing) acquires the engine mutex and runs to completion, so handlers are
// serialized and each sees a consistent state. Timer callbacks re-check that
// their conversation still exists before acting, because a cancellation can
// race a firing.
type Engine struct {
	mu                sync.Mutex
	flow              *models.FlowDefinition
	states            StateStore
	sender            Sender
	inactivityTimeout time.Duration
	upsellUnit        time.Duration
}

// NewEngine creates an Engine that sends through the given Sender.
func NewEngine(sender Sender, opts ...Option) *Engine {
	cfg := Opts{
		InactivityTimeout: DefaultInactivityTimeout,
		UpsellUnit:        time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.States == nil {
		cfg.States = NewMemoryStateStore()
	}
	slog.Debug("Engine created", "inactivityTimeout", cfg.InactivityTimeout, "upsellUnit", cfg.UpsellUnit)
	return &Engine{
		states:            cfg.States,
		sender:            sender,
		inactivityTimeout: cfg.InactivityTimeout,
		upsellUnit:        cfg.UpsellUnit,
	}
}

// PublishFlow normalizes and atomically installs a new flow definition.
// Publishing cascades a full reset: every live conversation is destroyed and
// its timers cancelled. On a validation error the prior flow and all live
// conversations are left untouched.
func (e *Engine) PublishFlow(document []byte) (*models.FlowDefinition, error) {
	def, err := NormalizeFlow(document)
	if err != nil {
		slog.Warn("Engine.PublishFlow rejected document", "error", err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.flow = def
	slog.Info("Engine.PublishFlow installed flow", "version", def.Version, "nodes", len(def.Nodes), "startNodeId", def.StartNodeID)
	return def, nil
}

// Flow returns the currently published flow definition, or nil.
func (e *Engine) Flow() *models.FlowDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flow
}

// Reset destroys every live conversation and cancels all timers. Invoked on
// transport disconnect; publishing a flow performs the same reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	count := e.states.Len()
	var ids []string
	e.states.ForEach(func(st *ConversationState) {
		st.cancelTimers()
		ids = append(ids, st.ChatID)
	})
	for _, id := range ids {
		e.states.Delete(id)
	}
	if count > 0 {
		slog.Info("Engine reset conversation state", "conversations", count)
	}
}

// ListActiveConversations returns the chat ids of all live conversations in
// sorted order.
func (e *Engine) ListActiveConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, e.states.Len())
	e.states.ForEach(func(st *ConversationState) {
		ids = append(ids, st.ChatID)
	})
	return ids
}

// Conversations returns a snapshot of every live conversation.
func (e *Engine) Conversations() []models.ConversationSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshots := make([]models.ConversationSnapshot, 0, e.states.Len())
	e.states.ForEach(func(st *ConversationState) {
		snapshots = append(snapshots, models.ConversationSnapshot{
			ChatID:          st.ChatID,
			CurrentNodeID:   st.CurrentNodeID,
			LastMessageTime: st.LastMessageTime.Unix(),
		})
	})
	return snapshots
}

// HandleInboundMessage applies the transition algorithm for one inbound
// message from a chat.
func (e *Engine) HandleInboundMessage(ctx context.Context, chatID, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flow == nil || e.flow.StartNodeID == "" {
		slog.Debug("Engine ignoring message, no flow published", "chatId", chatID)
		return
	}

	normalized := NormalizeText(text)
	if normalized == "" {
		slog.Debug("Engine ignoring empty message", "chatId", chatID)
		return
	}

	st := e.states.Get(chatID)
	if st == nil {
		// First contact: position the chat at the start node, send its
		// prompt, arm both timers, and stop. The matching below never runs
		// on the turn that creates the state.
		startNode := e.flow.StartNode()
		if startNode == nil {
			return
		}
		st = newConversationState(chatID, startNode.ID)
		e.states.Upsert(st)
		slog.Info("Engine starting conversation", "chatId", chatID, "nodeId", startNode.ID)
		e.send(ctx, chatID, startNode.Text)
		e.armInactivity(st)
		e.armUpsell(st, startNode)
		return
	}

	// Followup side channel: typing the trigger keyword (and not the reply
	// the bot just sent) earns an extra message but is not a transition.
	// The hint stays set until the node changes.
	if st.Awaiting != nil && st.Awaiting.FollowupTriggerNormalized != "" &&
		normalized == st.Awaiting.FollowupTriggerNormalized &&
		normalized != st.Awaiting.ExpectedReplyNormalized {
		if st.Awaiting.FollowupMessage != "" {
			slog.Debug("Engine sending followup message", "chatId", chatID)
			e.send(ctx, chatID, st.Awaiting.FollowupMessage)
		}
	}

	st.LastMessageTime = time.Now()
	e.armInactivity(st)

	node := e.flow.Node(st.CurrentNodeID)
	if node == nil {
		slog.Warn("Engine destroying conversation with unknown current node", "chatId", chatID, "nodeId", st.CurrentNodeID)
		e.destroyLocked(st)
		return
	}

	matched := MatchOption(normalized, node.Options)
	if matched == nil {
		// No match never advances the node; nudge with the default reply or
		// the node prompt and give the upsell timer a fresh window.
		if node.DefaultReply != "" {
			e.send(ctx, chatID, node.DefaultReply)
		} else if node.Text != "" {
			e.send(ctx, chatID, node.Text)
		}
		e.armUpsell(st, node)
		return
	}

	slog.Debug("Engine matched option", "chatId", chatID, "nodeId", node.ID, "label", matched.Label)
	if matched.ReplyMessage != "" {
		e.send(ctx, chatID, matched.ReplyMessage)
	}

	awaiting := &models.AwaitingOption{
		OptionLabelNormalized:     matched.NormalizedLabel,
		FollowupTriggerNormalized: matched.FollowupTriggerNormalized,
		FollowupMessage:           matched.FollowupMessage,
	}
	if matched.ReplyMessage != "" {
		awaiting.ExpectedReplyNormalized = NormalizeText(matched.ReplyMessage)
	}
	st.Awaiting = awaiting

	// The user answered, but might still need the nudge before the next
	// node's timer takes over.
	if node.HasUpsell() {
		e.armUpsell(st, node)
	}

	var next *models.Node
	if matched.NextNodeID != "" {
		next = e.flow.Node(matched.NextNodeID)
	}
	if next == nil {
		// No next node, or a dangling reference: the conversation ends here.
		slog.Info("Engine terminating conversation", "chatId", chatID, "nodeId", node.ID, "nextNodeId", matched.NextNodeID)
		e.destroyLocked(st)
		return
	}

	st.CurrentNodeID = next.ID
	st.Awaiting = nil
	slog.Info("Engine advancing conversation", "chatId", chatID, "fromNodeId", node.ID, "toNodeId", next.ID)
	e.send(ctx, chatID, next.Text)
	e.armUpsell(st, next)
}

// armInactivity (re)arms the repeating inactivity timer, cancelling any
// previous arming.
func (e *Engine) armInactivity(st *ConversationState) {
	chatID := st.ChatID
	st.InactivityTimer.Arm(e.inactivityTimeout, func() {
		e.onInactivityTimeout(chatID)
	})
}

// armUpsell (re)arms the node's upsell timer. The previous arming is always
// cancelled, even when the node defines no upsell.
func (e *Engine) armUpsell(st *ConversationState, node *models.Node) {
	st.UpsellTimer.Cancel()
	if !node.HasUpsell() {
		return
	}
	chatID := st.ChatID
	message := node.UpsellMessage
	delay := time.Duration(node.UpsellDelay * float64(e.upsellUnit))
	st.UpsellTimer.Arm(delay, func() {
		e.onUpsellTimeout(chatID, message)
	})
}

// onInactivityTimeout fires when a conversation has been silent for the
// configured timeout. It re-arms itself indefinitely; only another terminal
// path ends the cycle.
func (e *Engine) onInactivityTimeout(chatID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.states.Get(chatID)
	if st == nil || e.flow == nil {
		slog.Debug("Engine inactivity timer fired for gone conversation", "chatId", chatID)
		return
	}

	slog.Info("Engine sending inactivity message", "chatId", chatID)
	e.send(context.Background(), chatID, e.flow.InactivityMessage)
	st.LastMessageTime = time.Now()
	e.armInactivity(st)
}

// onUpsellTimeout fires when the user did not advance within the node's
// upsell window. The upsell message is sent and the conversation ends.
func (e *Engine) onUpsellTimeout(chatID, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.states.Get(chatID)
	if st == nil {
		slog.Debug("Engine upsell timer fired for gone conversation", "chatId", chatID)
		return
	}

	slog.Info("Engine sending upsell message and ending conversation", "chatId", chatID)
	e.send(context.Background(), chatID, message)
	e.destroyLocked(st)
}

// destroyLocked removes a conversation and cancels its timers. Callers must
// hold the engine mutex.
func (e *Engine) destroyLocked(st *ConversationState) {
	st.cancelTimers()
	e.states.Delete(st.ChatID)
}

// send delivers one outbound message. Failures are logged and reported
// nowhere else: the transition that triggered the send has already
// committed, consistent with best-effort at-most-once delivery.
func (e *Engine) send(ctx context.Context, chatID, body string) {
	if body == "" {
		slog.Debug("Engine skipping empty send", "chatId", chatID)
		return
	}
	if err := e.sender.SendMessage(ctx, chatID, body); err != nil {
		slog.Error("Engine send failed", "error", err, "chatId", chatID)
	}
}
