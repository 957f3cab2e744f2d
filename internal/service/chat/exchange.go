package chat

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/model/chat"
)

const (
	// FallbackReply is shown when the backend answers without a reply field.
	FallbackReply = "Sorry — no reply returned from backend."
	// ConnectivityMessage is shown for every transport or backend failure.
	ConnectivityMessage = "⚠️ Error connecting to the backend. Please make sure the chat service is reachable and try again."
)

// Replier sends one user message to the inference backend.
// An empty reply with a nil error means the backend returned no reply field.
type Replier interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Result describes what a single submission did to the transcript.
type Result struct {
	Accepted  bool        `json:"accepted"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Turns     []chat.Turn `json:"turns"`
}

// Exchange couples a transcript with a busy flag so that at most one
// request is outstanding at a time.
type Exchange struct {
	transcript *chat.Transcript
	replier    Replier
	busy       atomic.Bool
	logger     *zap.Logger
}

// NewExchange builds an exchange whose transcript opens with greeting.
func NewExchange(replier Replier, greeting string, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		transcript: chat.NewTranscript(greeting),
		replier:    replier,
		logger:     logger,
	}
}

// Busy reports whether a submission is awaiting its reply.
func (e *Exchange) Busy() bool {
	return e.busy.Load()
}

// Turns returns a snapshot of the transcript.
func (e *Exchange) Turns() []chat.Turn {
	return e.transcript.Turns()
}

// Submit appends the user turn, asks the replier and appends exactly one
// assistant turn. Blank input and submissions made while busy are ignored.
// If ctx ends before the reply arrives the assistant turn is suppressed.
func (e *Exchange) Submit(ctx context.Context, input string) Result {
	return e.SubmitWith(ctx, input, nil)
}

// SubmitWith is Submit with onTurn called after each turn is appended,
// so live views can show the user turn before the reply arrives.
func (e *Exchange) SubmitWith(ctx context.Context, input string, onTurn func(chat.Turn)) Result {
	res, ok := e.Reserve(input)
	if !ok {
		return Result{}
	}
	return res.Run(ctx, onTurn)
}

// Reservation holds the busy flag for one accepted submission.
// Run must be called exactly once to release it.
type Reservation struct {
	exchange *Exchange
	input    string
}

// Reserve claims the exchange for input without contacting the replier.
// It reports false for blank input or while another submission is
// outstanding, which lets callers fix submission order before handing
// the work to another goroutine.
func (e *Exchange) Reserve(input string) (*Reservation, bool) {
	if strings.TrimSpace(input) == "" {
		return nil, false
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.logger.Debug("submission ignored while busy")
		return nil, false
	}
	return &Reservation{exchange: e, input: input}, true
}

// Run appends the user turn, waits for the reply and releases the exchange.
func (r *Reservation) Run(ctx context.Context, onTurn func(chat.Turn)) Result {
	e := r.exchange
	defer e.busy.Store(false)
	if onTurn == nil {
		onTurn = func(chat.Turn) {}
	}

	userTurn := chat.UserTurn(r.input)
	e.transcript.Append(userTurn)
	onTurn(userTurn)
	result := Result{Accepted: true, Turns: []chat.Turn{userTurn}}

	reply, err := e.askReplier(ctx, r.input)
	if ctx.Err() != nil {
		e.logger.Info("submission abandoned before reply", zap.Error(ctx.Err()))
		result.Cancelled = true
		return result
	}

	content := reply
	switch {
	case err != nil:
		e.logger.Error("chat backend request failed", zap.Error(err))
		content = ConnectivityMessage
	case reply == "":
		content = FallbackReply
	}

	assistantTurn := chat.AssistantTurn(content)
	e.transcript.Append(assistantTurn)
	onTurn(assistantTurn)
	result.Turns = append(result.Turns, assistantTurn)
	return result
}

func (e *Exchange) askReplier(ctx context.Context, input string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replier panic: %v", r)
		}
	}()
	if e.replier == nil {
		return "", fmt.Errorf("no chat backend configured")
	}
	return e.replier.Reply(ctx, input)
}
