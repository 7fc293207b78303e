// Package approval implements the Human-Approval Gate: a typed
// request/decision channel pair that a HUMAN workflow node suspends on,
// plus concrete decision sources (a terminal prompt, an always-approve
// no-op) that feed decisions back into the gate.
package approval

import (
	"context"
	"sync"
	"time"

	"taskforge/internal/events"
	"taskforge/internal/logging"
)

// Decision is the closed set of dispositions a HUMAN node's gate accepts.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionReject      Decision = "reject"
	DecisionEditApprove Decision = "edit_and_approve"
)

// Request is what the engine emits when a HUMAN node suspends. Timeout == 0
// means the decision must be taken immediately (treated as an instant
// reject); Timeout < 0 means wait indefinitely for a Decide call.
type Request struct {
	ID          string
	ExecutionID string
	NodeID      string
	Payload     map[string]any
	Timeout     time.Duration
	RequestedAt time.Time
}

// DecisionMsg is the inbound counterpart to a Request.
type DecisionMsg struct {
	RequestID string
	Decision  Decision
	Payload   map[string]any // overlay applied to state.data on edit-and-approve
	Reason    string         // recorded into state.data["human:<nodeId>"] on reject
}

// Gate is the single-threaded-cooperative suspension point a HUMAN node
// blocks on: Request emits the ApprovalRequest event (the outbound channel,
// carried on the shared events.Bus) and blocks on a private inbound channel
// until a matching Decide call arrives, the request's own timeout elapses,
// or the caller's context is cancelled.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan DecisionMsg
	bus     *events.Bus
	logger  *logging.Logger
}

// NewGate returns a Gate publishing ApprovalRequest events on bus. bus may
// be nil, in which case Request still works but nothing observes the
// outbound event.
func NewGate(bus *events.Bus) *Gate {
	return &Gate{
		pending: make(map[string]chan DecisionMsg),
		bus:     bus,
		logger:  logging.NewComponentLogger("approval-gate"),
	}
}

// Request blocks until req.ID is resolved by a Decide call, a zero or
// elapsed timeout forces a reject, or ctx is cancelled. It never returns an
// error: every outcome is expressed as a DecisionMsg, matching the rest of
// this engine's "always return a usable result" convention.
func (g *Gate) Request(ctx context.Context, req Request) DecisionMsg {
	if req.Timeout == 0 {
		g.logger.Warn("approval request %s has zero timeout, rejecting immediately", req.ID)
		return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "timeout"}
	}

	ch := make(chan DecisionMsg, 1)
	g.mu.Lock()
	g.pending[req.ID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if g.bus != nil {
		g.bus.Publish(events.Event{
			Kind:        events.KindApprovalRequest,
			Timestamp:   req.RequestedAt,
			ExecutionID: req.ExecutionID,
			Payload:     req,
		})
	}

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case d := <-ch:
		return d
	case <-timeoutCh:
		g.logger.Warn("approval request %s timed out after %v", req.ID, req.Timeout)
		return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "timeout"}
	case <-ctx.Done():
		return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "cancelled"}
	}
}

// Decide delivers d to the request it answers. It reports false if no
// request with that identifier is currently pending (already answered,
// already timed out, or never issued) so a stale or duplicate decision
// never blocks or panics a caller.
func (g *Gate) Decide(d DecisionMsg) bool {
	g.mu.Lock()
	ch, ok := g.pending[d.RequestID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- d:
		return true
	default:
		return false
	}
}
