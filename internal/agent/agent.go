package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qmuntal/stateless" // FSM library

	"github.com/comigor/chatproxy/internal/conversation"
	"github.com/comigor/chatproxy/internal/llm"
	"github.com/comigor/chatproxy/internal/logger"
	"github.com/comigor/chatproxy/internal/metrics"
	"github.com/comigor/chatproxy/internal/session"
)

// FallbackReply is stored and returned when the upstream answers without text.
const FallbackReply = "No response received."

// DefaultMaxEntries is the in-memory retention cap used when none is configured.
const DefaultMaxEntries = 12

// FSM States
type FSMState stateless.State

var (
	StatePending       FSMState = "Pending"
	StateRecorded      FSMState = "Recorded"      // user entry appended
	StateAwaitingReply FSMState = "AwaitingReply" // upstream call in flight
	StateReplied       FSMState = "Replied"       // Terminal: reply stored
	StateFailed        FSMState = "Failed"        // Terminal: upstream error
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerAccept  FSMTrigger = "Accept"
	TriggerCall    FSMTrigger = "Call"
	TriggerReplied FSMTrigger = "Replied"
	TriggerFailed  FSMTrigger = "Failed"
)

// ErrEmptyMessage rejects a turn without user text.
var ErrEmptyMessage = errors.New("message is required")

// UpstreamError wraps a failed or unreadable completion call.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream completion failed: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Appender is the write side of the message log.
type Appender interface {
	Append(sessionID string, role conversation.Role, content string)
}

// Turn is the outcome of a successful Process call.
type Turn struct {
	SessionID string
	Reply     string
	Minted    bool
}

// Agent runs chat turns against a completion client.
type Agent struct {
	llmClient  llm.Client
	sessions   *session.Registry
	log        Appender
	maxEntries int
}

// New creates a new agent. maxEntries <= 0 uses DefaultMaxEntries.
func New(llmClient llm.Client, sessions *session.Registry, log Appender, maxEntries int) *Agent {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Agent{
		llmClient:  llmClient,
		sessions:   sessions,
		log:        log,
		maxEntries: maxEntries,
	}
}

// Process runs one chat turn for sessionID (minting one when empty).
// Process returns ErrEmptyMessage before touching any state, and an
// *UpstreamError after the user message has been recorded.
func (a *Agent) Process(ctx context.Context, sessionID, message string) (Turn, error) {
	if message == "" {
		metrics.ChatTurn("invalid")
		return Turn{}, ErrEmptyMessage
	}

	sess, minted := a.sessions.Resolve(ctx, sessionID)
	turn := Turn{SessionID: sess.ID, Minted: minted}

	// Turns on one session are serialized for their whole duration.
	sess.Lock()
	defer sess.Unlock()

	t := &turnContext{session: sess, message: message}
	fsm := a.newTurnMachine(t)

	for _, trigger := range []FSMTrigger{TriggerAccept, TriggerCall} {
		if err := fsm.FireCtx(ctx, trigger); err != nil {
			return turn, fmt.Errorf("turn state machine: %w", err)
		}
	}

	next := TriggerReplied
	if t.err != nil {
		next = TriggerFailed
	}
	if err := fsm.FireCtx(ctx, next); err != nil {
		return turn, fmt.Errorf("turn state machine: %w", err)
	}

	if t.err != nil {
		return turn, &UpstreamError{Err: t.err}
	}
	turn.Reply = t.reply
	return turn, nil
}

// turnContext carries the data of one turn between FSM states.
type turnContext struct {
	session  *session.Session
	message  string
	reply    string
	fallback bool
	err      error
}

func (a *Agent) newTurnMachine(t *turnContext) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StatePending)
	conv := t.session.Conversation()

	fsm.Configure(StatePending).
		Permit(TriggerAccept, StateRecorded)

	// State: Recorded
	// Action: append the user entry to memory and queue it to the log.
	fsm.Configure(StateRecorded).
		OnEntry(func(ctx context.Context, args ...any) error {
			conv.Append(conversation.NewEntry(conversation.RoleUser, t.message))
			a.log.Append(t.session.ID, conversation.RoleUser, t.message)
			return nil
		}).
		Permit(TriggerCall, StateAwaitingReply)

	// State: AwaitingReply
	// Action: send the whole conversation upstream.
	fsm.Configure(StateAwaitingReply).
		OnEntry(func(ctx context.Context, args ...any) error {
			start := time.Now()
			reply, err := a.llmClient.Complete(ctx, conv.Entries())
			metrics.ObserveUpstream(a.llmClient.Provider(), time.Since(start), err == nil)
			if err != nil {
				t.err = err
				return nil
			}
			if reply == "" {
				logger.L.Warn("upstream returned no output text; using fallback", "session_id", t.session.ID)
				t.fallback = true
				reply = FallbackReply
			}
			t.reply = reply
			return nil
		}).
		Permit(TriggerReplied, StateReplied).
		Permit(TriggerFailed, StateFailed)

	// State: Replied
	// Action: store the reply, then enforce the retention cap.
	fsm.Configure(StateReplied).
		OnEntry(func(ctx context.Context, args ...any) error {
			conv.Append(conversation.NewEntry(conversation.RoleAssistant, t.reply))
			a.log.Append(t.session.ID, conversation.RoleAssistant, t.reply)
			if dropped := conv.Truncate(a.maxEntries); dropped > 0 {
				logger.L.Debug("conversation truncated", "session_id", t.session.ID, "dropped", dropped)
			}
			if t.fallback {
				metrics.ChatTurn("fallback")
			} else {
				metrics.ChatTurn("ok")
			}
			return nil
		})

	// State: Failed
	// Action: nothing is rolled back; the user entry stays recorded.
	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Error("LLM call failed", "session_id", t.session.ID, "error", t.err)
			metrics.ChatTurn("upstream_error")
			return nil
		})

	return fsm
}
