package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"taskforge/internal/events"
)

// Decider resolves one pending Request into a DecisionMsg. Pump wires a
// Decider to a Gate's outbound events so the two packages never need to
// know about each other directly.
type Decider interface {
	Decide(ctx context.Context, req Request) DecisionMsg
}

// Pump subscribes to bus for ApprovalRequest events and resolves each one
// concurrently by calling decider.Decide, feeding the result back into
// gate. It blocks until ctx is cancelled; callers run it in its own
// goroutine alongside the execution it serves.
func Pump(ctx context.Context, gate *Gate, bus *events.Bus, decider Decider) {
	sub := bus.Subscribe(32)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub:
			if evt.Kind != events.KindApprovalRequest {
				continue
			}
			req, ok := evt.Payload.(Request)
			if !ok {
				continue
			}
			go func(req Request) {
				gate.Decide(decider.Decide(ctx, req))
			}(req)
		}
	}
}

// NoOpDecider always approves; it is the default decision source for
// non-interactive batch runs and tests, grounded on the teacher's
// NoOpApprover.
type NoOpDecider struct{}

// NewNoOpDecider returns a Decider that always approves.
func NewNoOpDecider() *NoOpDecider { return &NoOpDecider{} }

// Decide always approves.
func (NoOpDecider) Decide(_ context.Context, req Request) DecisionMsg {
	return DecisionMsg{RequestID: req.ID, Decision: DecisionApprove, Reason: "auto-approved (no-op)"}
}

// TerminalDecider prompts a human on a terminal for each request, grounded
// on the teacher's InteractiveApprover: auto-approve short-circuit, colored
// prompt, and a reject-on-timeout race between stdin and a timer.
type TerminalDecider struct {
	timeout      time.Duration
	autoApprove  bool
	colorEnabled bool
	in           io.Reader
	out          io.Writer
}

// NewTerminalDecider returns a TerminalDecider reading from stdin and
// writing to stdout.
func NewTerminalDecider(timeout time.Duration, autoApprove, colorEnabled bool) *TerminalDecider {
	return &TerminalDecider{
		timeout:      timeout,
		autoApprove:  autoApprove,
		colorEnabled: colorEnabled,
		in:           os.Stdin,
		out:          os.Stdout,
	}
}

// Decide prompts for y/n/e/q, racing the read against d.timeout and ctx.
func (d *TerminalDecider) Decide(ctx context.Context, req Request) DecisionMsg {
	if d.autoApprove {
		return DecisionMsg{RequestID: req.ID, Decision: DecisionApprove, Reason: "auto-approved"}
	}

	fmt.Fprintln(d.out, d.colorize(fmt.Sprintf("Approval requested for node %s", req.NodeID), color.FgYellow))
	if req.Payload != nil {
		fmt.Fprintf(d.out, "  payload: %v\n", req.Payload)
	}
	fmt.Fprint(d.out, "Approve? [y]es/[n]o/[e]dit-and-approve/[q]uit: ")

	type outcome struct {
		msg DecisionMsg
		err error
	}
	respCh := make(chan outcome, 1)
	go func() {
		msg, err := d.readDecision(req)
		respCh <- outcome{msg, err}
	}()

	var timeoutCh <-chan time.Time
	if d.timeout > 0 {
		timer := time.NewTimer(d.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-respCh:
		if r.err != nil {
			return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: r.err.Error()}
		}
		return r.msg
	case <-timeoutCh:
		fmt.Fprintln(d.out, d.colorize("Approval timeout", color.FgRed))
		return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "timeout"}
	case <-ctx.Done():
		return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "cancelled"}
	}
}

// readDecision reads one line from d.in and re-prompts on anything it
// doesn't recognize.
func (d *TerminalDecider) readDecision(req Request) (DecisionMsg, error) {
	reader := bufio.NewReader(d.in)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return DecisionMsg{}, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return DecisionMsg{RequestID: req.ID, Decision: DecisionApprove}, nil
		case "n", "no":
			return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "rejected by reviewer"}, nil
		case "e", "edit":
			fmt.Fprint(d.out, "Edit payload (key=value[,key=value...]): ")
			editLine, _ := reader.ReadString('\n')
			return DecisionMsg{RequestID: req.ID, Decision: DecisionEditApprove, Payload: parseEditPayload(editLine)}, nil
		case "q", "quit":
			return DecisionMsg{RequestID: req.ID, Decision: DecisionReject, Reason: "quit"}, nil
		default:
			fmt.Fprint(d.out, "Please answer y, n, e, or q: ")
			if err != nil {
				return DecisionMsg{}, err
			}
		}
	}
}

func (d *TerminalDecider) colorize(msg string, attr color.Attribute) string {
	if !d.colorEnabled {
		return msg
	}
	return color.New(attr).Sprint(msg)
}

// parseEditPayload turns "k=v,k2=v2" into a map, skipping malformed pairs.
func parseEditPayload(line string) map[string]any {
	out := make(map[string]any)
	for _, pair := range strings.Split(strings.TrimSpace(line), ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[kv[0]] = kv[1]
	}
	return out
}
