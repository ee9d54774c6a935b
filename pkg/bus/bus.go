// Package bus decouples message channels (the REPL, the WebSocket gateway)
// from the orchestrator: channels publish inbound utterances, the agent
// consumes them and publishes outbound replies addressed back to the
// originating channel and session.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrBusClosed = errors.New("message bus closed")

// InboundMessage is one user utterance with its per-turn overrides.
type InboundMessage struct {
	Channel   string
	SessionID string
	Content   string
	// AutoConfirm, when set, applies the destructive-action confirmation
	// policy for this turn only.
	AutoConfirm  *bool
	ForceConfirm bool
	// Model overrides the session model for this turn.
	Model string
}

// OutboundMessage is the agent's reply for one turn.
type OutboundMessage struct {
	Channel   string
	SessionID string
	Response  string
	Ok        bool
	// RequiresConfirmation marks a reply that is a yes/no question about a
	// destructive action held for the next turn.
	RequiresConfirmation bool
	Model                string
	// Items carries the enumerated result list shown to the user, if any.
	Items []string
	Data  map[string]interface{}
}

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		outbound: make(chan OutboundMessage, 100),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if err := mb.publishStateErr(ctx); err != nil {
		return err
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case mb.inbound <- msg:
		return nil
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if err := mb.publishStateErr(ctx); err != nil {
		return err
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	case mb.outbound <- msg:
		return nil
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) publishStateErr(ctx context.Context) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
