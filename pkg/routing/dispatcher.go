// Package routing moves inbound utterances from the bus to the orchestrator.
// One worker goroutine per session keeps a session's turns ordered while
// different sessions run in parallel.
package routing

import (
	"context"
	"sync"

	"deskmate/pkg/bus"
	"deskmate/pkg/logger"
)

const sessionQueueSize = 8

// TurnHandler processes one turn and returns the reply.
type TurnHandler interface {
	ProcessMessage(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage
}

type sessionWorker struct {
	inbound chan bus.InboundMessage
	cancel  context.CancelFunc
}

type Dispatcher struct {
	bus     *bus.MessageBus
	handler TurnHandler

	mu      sync.Mutex
	workers map[string]*sessionWorker
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(messageBus *bus.MessageBus, handler TurnHandler) *Dispatcher {
	return &Dispatcher{
		bus:     messageBus,
		handler: handler,
		workers: map[string]*sessionWorker{},
	}
}

// Run consumes inbound messages until the context ends, then drains the
// per-session workers.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		msg, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			d.Close()
			return
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg bus.InboundMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	worker, ok := d.workers[msg.SessionID]
	if !ok {
		workerCtx, cancel := context.WithCancel(ctx)
		worker = &sessionWorker{
			inbound: make(chan bus.InboundMessage, sessionQueueSize),
			cancel:  cancel,
		}
		d.workers[msg.SessionID] = worker
		d.wg.Add(1)
		go d.runWorker(workerCtx, msg.SessionID, worker)
	}
	// The send stays under the lock so Close never closes a channel
	// mid-send.
	select {
	case worker.inbound <- msg:
	default:
		// Dropping the turn beats blocking the dispatcher for every
		// other session.
		logger.WarnCF("routing", "session queue full, turn dropped", map[string]interface{}{
			"session": msg.SessionID,
		})
	}
	d.mu.Unlock()
}

func (d *Dispatcher) runWorker(ctx context.Context, sessionID string, worker *sessionWorker) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-worker.inbound:
			if !ok {
				return
			}
			out := d.handler.ProcessMessage(ctx, msg)
			if err := d.bus.PublishOutbound(ctx, out); err != nil {
				logger.WarnCF("routing", "outbound publish failed", map[string]interface{}{
					"session": sessionID,
					"error":   err.Error(),
				})
			}
		}
	}
}

// Close stops all workers and waits for in-flight turns to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, worker := range d.workers {
		worker.cancel()
		close(worker.inbound)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
