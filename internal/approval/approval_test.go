package approval

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskforge/internal/events"
)

func TestGate_DecideDeliversApprove(t *testing.T) {
	gate := NewGate(events.NewBus())
	req := Request{ID: "r1", NodeID: "H", Timeout: time.Second}

	resultCh := make(chan DecisionMsg, 1)
	go func() { resultCh <- gate.Request(context.Background(), req) }()

	require.Eventually(t, func() bool {
		return gate.Decide(DecisionMsg{RequestID: "r1", Decision: DecisionApprove})
	}, time.Second, time.Millisecond)

	got := <-resultCh
	require.Equal(t, DecisionApprove, got.Decision)
}

func TestGate_ZeroTimeoutImmediatelyRejects(t *testing.T) {
	gate := NewGate(nil)
	got := gate.Request(context.Background(), Request{ID: "r2", NodeID: "H"})
	require.Equal(t, DecisionReject, got.Decision)
	require.Equal(t, "timeout", got.Reason)
}

func TestGate_TimeoutRejectsWithReason(t *testing.T) {
	gate := NewGate(nil)
	start := time.Now()
	got := gate.Request(context.Background(), Request{ID: "r3", NodeID: "H", Timeout: 20 * time.Millisecond})
	require.Equal(t, DecisionReject, got.Decision)
	require.Equal(t, "timeout", got.Reason)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestGate_ContextCancelledRejects(t *testing.T) {
	gate := NewGate(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := gate.Request(ctx, Request{ID: "r4", NodeID: "H", Timeout: time.Minute})
	require.Equal(t, DecisionReject, got.Decision)
	require.Equal(t, "cancelled", got.Reason)
}

func TestGate_StaleDecideIsNoOp(t *testing.T) {
	gate := NewGate(nil)
	require.False(t, gate.Decide(DecisionMsg{RequestID: "never-requested"}))
}

func TestGate_PublishesApprovalRequestEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(4)
	gate := NewGate(bus)

	go gate.Request(context.Background(), Request{ID: "r5", NodeID: "H", ExecutionID: "exec1", Timeout: time.Second})

	select {
	case evt := <-sub:
		require.Equal(t, events.KindApprovalRequest, evt.Kind)
		req, ok := evt.Payload.(Request)
		require.True(t, ok)
		require.Equal(t, "r5", req.ID)
	case <-time.After(time.Second):
		t.Fatal("expected an ApprovalRequest event")
	}
	gate.Decide(DecisionMsg{RequestID: "r5", Decision: DecisionApprove})
}

func TestNoOpDecider_AlwaysApproves(t *testing.T) {
	d := NewNoOpDecider()
	got := d.Decide(context.Background(), Request{ID: "r6"})
	require.Equal(t, DecisionApprove, got.Decision)
}

func TestTerminalDecider_AutoApproveShortCircuits(t *testing.T) {
	d := NewTerminalDecider(time.Second, true, false)
	got := d.Decide(context.Background(), Request{ID: "r7"})
	require.Equal(t, DecisionApprove, got.Decision)
}

func TestTerminalDecider_ReadsApproveFromStdin(t *testing.T) {
	d := NewTerminalDecider(time.Second, false, false)
	d.in = bytes.NewBufferString("y\n")
	var out bytes.Buffer
	d.out = &out

	got := d.Decide(context.Background(), Request{ID: "r8", NodeID: "H"})
	require.Equal(t, DecisionApprove, got.Decision)
	require.Contains(t, out.String(), "Approval requested")
}

func TestTerminalDecider_ReadsRejectFromStdin(t *testing.T) {
	d := NewTerminalDecider(time.Second, false, false)
	d.in = bytes.NewBufferString("n\n")
	d.out = &bytes.Buffer{}

	got := d.Decide(context.Background(), Request{ID: "r9"})
	require.Equal(t, DecisionReject, got.Decision)
	require.Equal(t, "rejected by reviewer", got.Reason)
}

func TestTerminalDecider_EditAndApproveParsesPayload(t *testing.T) {
	d := NewTerminalDecider(time.Second, false, false)
	d.in = bytes.NewBufferString("e\nkey=value,other=thing\n")
	d.out = &bytes.Buffer{}

	got := d.Decide(context.Background(), Request{ID: "r10"})
	require.Equal(t, DecisionEditApprove, got.Decision)
	require.Equal(t, "value", got.Payload["key"])
	require.Equal(t, "thing", got.Payload["other"])
}

func TestTerminalDecider_ReprromptsOnInvalidInput(t *testing.T) {
	d := NewTerminalDecider(time.Second, false, false)
	d.in = bytes.NewBufferString("bogus\ny\n")
	d.out = &bytes.Buffer{}

	got := d.Decide(context.Background(), Request{ID: "r11"})
	require.Equal(t, DecisionApprove, got.Decision)
}

func TestTerminalDecider_TimesOutWithNoInput(t *testing.T) {
	d := NewTerminalDecider(20*time.Millisecond, false, false)
	d.in = blockingReader{}
	d.out = &bytes.Buffer{}

	got := d.Decide(context.Background(), Request{ID: "r12"})
	require.Equal(t, DecisionReject, got.Decision)
	require.Equal(t, "timeout", got.Reason)
}

// blockingReader never returns, simulating a terminal with no input yet.
type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	select {}
}

func TestPump_ResolvesRequestThroughDecider(t *testing.T) {
	bus := events.NewBus()
	gate := NewGate(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Pump(ctx, gate, bus, NewNoOpDecider())
	time.Sleep(20 * time.Millisecond) // let Pump's Subscribe register before Request publishes

	got := gate.Request(context.Background(), Request{ID: "r13", NodeID: "H", Timeout: 2 * time.Second})
	require.Equal(t, DecisionApprove, got.Decision)
}
