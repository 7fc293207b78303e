// Package scheduler executes a task.Plan by successive topological batches,
// bounding concurrency, retrying per internal/retry's policy table, and
// checkpointing progress at batch boundaries.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"taskforge/internal/agent"
	"taskforge/internal/checkpoint"
	"taskforge/internal/events"
	"taskforge/internal/executor"
	"taskforge/internal/logging"
	"taskforge/internal/retry"
	"taskforge/internal/selector"
	"taskforge/internal/task"
)

const defaultMaxConcurrent = 10
const defaultTimeoutSeconds = 600
const cancelGrace = 2 * time.Second

// Config configures one Run or Resume call.
type Config struct {
	Mode            task.Mode
	MaxConcurrent   int
	DefaultTimeout  time.Duration // per-task ceiling when Task.Timeout is unset
	ContinueOnError bool
	WorkspaceRoot   string
	EnabledAgents   []string
	MaxRounds       int // >0 drives tasks through the Multi-Round Executor instead of a bare Invoke
	Checkpoint      bool
}

// withDefaults fills zero-valued fields with spec.md §5's defaults.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = task.ModeHybrid
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeoutSeconds * time.Second
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	return c
}

// Scheduler runs plans. One Scheduler can run many executions concurrently;
// state specific to a single Run/Resume call lives in the run value below.
type Scheduler struct {
	invoker     *agent.Invoker
	executor    *executor.Executor
	toolset     executor.Toolset
	selector    *selector.Selector
	checkpoints checkpoint.Manager
	bus         *events.Bus
	logger      *logging.Logger
}

// New returns a Scheduler. toolset may be nil; when set, tasks run through
// the Multi-Round Executor whenever cfg.MaxRounds > 0.
func New(invoker *agent.Invoker, sel *selector.Selector, checkpoints checkpoint.Manager, bus *events.Bus, toolset executor.Toolset) *Scheduler {
	return &Scheduler{
		invoker:     invoker,
		executor:    executor.New(invoker),
		toolset:     toolset,
		selector:    sel,
		checkpoints: checkpoints,
		bus:         bus,
		logger:      logging.NewComponentLogger("scheduler"),
	}
}

// run carries per-execution mutable state threaded through one Run call.
// results and cancelled are written concurrently by the goroutines runBand
// dispatches per band, so every access to them goes through mu.
type run struct {
	executionID string
	plan        *task.Plan
	cfg         Config
	adjacency   map[string][]string // dep -> dependents, for cascading cancellation

	mu           sync.Mutex
	results      map[string]task.Result
	completed    []string
	cancelled    map[string]bool
	lastFailedID string

	sem *semaphore.Weighted
}

func (r *run) setResult(id string, res task.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = res
}

func (r *run) isCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[id]
}

// cascadeCancelLocked marks every transitive dependent of failedID as
// cancelled under a single lock acquisition.
func (r *run) cascadeCancelLocked(failedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := append([]string{}, r.adjacency[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if r.cancelled[id] {
			continue
		}
		r.cancelled[id] = true
		queue = append(queue, r.adjacency[id]...)
	}
}

// snapshotResults returns a copy of the results map safe to range over
// without holding mu (used by aggregate and checkpoint writes).
func (r *run) snapshotResults() map[string]task.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]task.Result, len(r.results))
	for id, res := range r.results {
		out[id] = res
	}
	return out
}

// Run executes plan from scratch under a fresh execution identifier.
func (s *Scheduler) Run(ctx context.Context, plan *task.Plan, executionID string, cfg Config) (task.ExecutionResult, error) {
	cfg = cfg.withDefaults()
	adjacency, _, _ := task.BuildGraph(plan)
	r := &run{
		executionID: executionID,
		plan:        plan,
		cfg:         cfg,
		adjacency:   adjacency,
		results:     make(map[string]task.Result),
		cancelled:   make(map[string]bool),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	return s.execute(ctx, r)
}

// Resume reloads the checkpoint for executionID and continues running plan,
// skipping tasks already present in the checkpoint's completed set. plan
// must be the same plan the original Run was given — checkpoints persist
// progress, not the plan itself (spec.md §4.8 scopes Checkpoint to
// workflow/execution identifiers, completed/pending sets, and data; the
// plan is the caller's to keep and resupply, the same way a workflow
// graph is resupplied to Execute on resume).
func (s *Scheduler) Resume(ctx context.Context, executionID string, plan *task.Plan, cfg Config) (task.ExecutionResult, error) {
	cfg = cfg.withDefaults()
	cp, err := s.checkpoints.Load(executionID)
	if err != nil {
		return task.ExecutionResult{}, fmt.Errorf("scheduler: resume %q: %w", executionID, err)
	}

	adjacency, _, _ := task.BuildGraph(plan)
	r := &run{
		executionID: executionID,
		plan:        plan,
		cfg:         cfg,
		adjacency:   adjacency,
		results:     make(map[string]task.Result),
		cancelled:   make(map[string]bool),
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}

	// Only SUCCESS results carry forward: a checkpointed FAILED or CANCELLED
	// entry means that task never genuinely finished, so resume must retry
	// it rather than treat it as done. This runs before execute starts any
	// goroutines, so direct map access here (unlike everywhere else touching
	// r.results/r.cancelled) is safe.
	if raw, ok := cp.Data["results"]; ok {
		if m, ok := decodeResults(raw); ok {
			for id, res := range m {
				if res.Status != task.StatusSuccess {
					continue
				}
				r.results[id] = res
				r.completed = append(r.completed, id)
			}
		}
	}

	return s.execute(ctx, r)
}

// decodeResults recovers a map[string]task.Result from a Checkpoint's Data
// payload. When the checkpoint was loaded in-process without a JSON
// round-trip, raw is already the right type; when it came back from a real
// Manager (JSON-backed), raw is a map[string]any and must be re-decoded.
func decodeResults(raw any) (map[string]task.Result, bool) {
	if m, ok := raw.(map[string]task.Result); ok {
		return m, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var m map[string]task.Result
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

// execute drives the batch loop common to Run and Resume.
func (s *Scheduler) execute(ctx context.Context, r *run) (task.ExecutionResult, error) {
	start := time.Now()
	batches, err := s.computeBatches(r.plan, r.cfg.Mode)
	if err != nil {
		return task.ExecutionResult{}, fmt.Errorf("scheduler: %w", err)
	}

	s.publish(r.executionID, events.KindPlanGenerated, map[string]any{"batches": len(batches)})

	stop := false
batchLoop:
	for _, batch := range batches {
		pending := filterPending(batch, r.snapshotResults())
		if len(pending) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			stop = true
			break batchLoop
		default:
		}

		s.publish(r.executionID, events.KindBatchStarted, map[string]any{"batch": pending})

		for _, band := range partitionByPriority(pending, r.plan) {
			if err := s.runBand(ctx, r, band); err != nil {
				stop = true
				break
			}
			if ctx.Err() != nil {
				stop = true
				break
			}
			if failedID, failed := s.firstNonRetriableFailure(r, band); failed {
				r.lastFailedID = failedID
				if !r.cfg.ContinueOnError {
					stop = true
					break
				}
			}
		}

		s.publish(r.executionID, events.KindBatchFinished, map[string]any{"batch": pending})

		if r.cfg.Checkpoint {
			s.writeCheckpoint(r, checkpoint.StatusRunning, "")
		}
		if stop {
			break
		}
	}

	result := s.aggregate(r, start, stop, ctx.Err() != nil)

	if r.cfg.Checkpoint {
		switch {
		case ctx.Err() != nil:
			s.waitForStragglers()
			s.writeCheckpoint(r, checkpoint.StatusCancelled, "")
		case stop:
			s.writeCheckpointNode(r, checkpoint.StatusFailed, "batch stopped: non-retriable failure", r.lastFailedID)
		default:
			s.writeCheckpoint(r, checkpoint.StatusCompleted, "")
		}
	}

	s.publish(r.executionID, events.KindExecutionFinished, map[string]any{
		"success": result.FailureCount == 0,
	})
	return result, nil
}

// waitForStragglers gives in-flight invocations the cancellation grace
// period before the run finishes collecting results.
func (s *Scheduler) waitForStragglers() {
	time.Sleep(cancelGrace)
}

// computeBatches returns the ordered batch list for the configured mode.
func (s *Scheduler) computeBatches(plan *task.Plan, mode task.Mode) ([][]string, error) {
	switch mode {
	case task.ModeParallel:
		ids := make([]string, 0, plan.Len())
		for _, t := range plan.Tasks() {
			ids = append(ids, t.ID)
		}
		sortByPriorityThenID(ids, plan)
		return [][]string{ids}, nil
	case task.ModeSequential:
		batches, err := task.TopologicalBatches(plan)
		if err != nil {
			return nil, err
		}
		var flat []string
		for _, b := range batches {
			flat = append(flat, b...)
		}
		out := make([][]string, len(flat))
		for i, id := range flat {
			out[i] = []string{id}
		}
		return out, nil
	default: // hybrid
		return task.TopologicalBatches(plan)
	}
}

func sortByPriorityThenID(ids []string, plan *task.Plan) {
	sort.Slice(ids, func(i, j int) bool {
		ti, _ := plan.Task(ids[i])
		tj, _ := plan.Task(ids[j])
		if ti.Priority != tj.Priority {
			return ti.Priority < tj.Priority
		}
		return ids[i] < ids[j]
	})
}

// partitionByPriority groups ids into priority bands, lower (more urgent)
// first; a band runs fully in parallel (bounded by the shared semaphore)
// before the next band starts.
func partitionByPriority(ids []string, plan *task.Plan) [][]string {
	byPriority := make(map[int][]string)
	var priorities []int
	for _, id := range ids {
		t, _ := plan.Task(id)
		if _, seen := byPriority[t.Priority]; !seen {
			priorities = append(priorities, t.Priority)
		}
		byPriority[t.Priority] = append(byPriority[t.Priority], id)
	}
	sort.Ints(priorities)
	bands := make([][]string, 0, len(priorities))
	for _, p := range priorities {
		band := byPriority[p]
		sort.Strings(band)
		bands = append(bands, band)
	}
	return bands
}

func filterPending(ids []string, results map[string]task.Result) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, done := results[id]; !done {
			out = append(out, id)
		}
	}
	return out
}

// runBand dispatches every task in band concurrently, bounded by r.sem, and
// waits for them all to report before returning. Tasks in a band are
// independent of each other (same priority, no intra-band dependency edge),
// so one task's failure never cancels a sibling already dispatched in the
// same band — only its dependents in a later batch, via cascadeCancelLocked.
func (s *Scheduler) runBand(ctx context.Context, r *run, band []string) error {
	var g errgroup.Group
	for _, id := range band {
		id := id
		if r.isCancelled(id) {
			r.setResult(id, task.Result{TaskID: id, Status: task.StatusCancelled, Error: "ancestor task failed"})
			continue
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.setResult(id, task.Result{TaskID: id, Status: task.StatusCancelled, Error: ctx.Err().Error()})
			continue
		}
		g.Go(func() error {
			defer r.sem.Release(1)
			s.runTask(ctx, r, id)
			return nil
		})
	}
	return g.Wait()
}

// runTask selects an agent, invokes it with retries, and records the
// resulting task.Result. It never returns an error: failures live in the
// recorded Result, not in a Go error, matching spec.md §7's "the task's
// TaskResult carries the final status" propagation policy.
func (s *Scheduler) runTask(ctx context.Context, r *run, id string) {
	t, _ := r.plan.Task(id)
	s.publish(r.executionID, events.KindTaskStarted, map[string]any{"task_id": id})

	workspace := filepath.Join(r.cfg.WorkspaceRoot, r.executionID, id)
	timeoutSecs := effectiveTimeoutSeconds(t, r.cfg.DefaultTimeout)

	agentName, err := s.selector.Select(t, r.cfg.EnabledAgents)
	if err != nil {
		r.setResult(id, task.Result{
			TaskID: id, Status: task.StatusFailed, Error: "agent selection: " + err.Error(),
			StartedAt: time.Now(), EndedAt: time.Now(),
		})
		r.cascadeCancelLocked(id)
		s.publish(r.executionID, events.KindTaskFinished, map[string]any{"task_id": id, "status": task.StatusFailed})
		return
	}

	result := s.invokeWithRetry(ctx, t, agentName, workspace, timeoutSecs)
	r.setResult(id, result)
	s.selector.Report(agentName, t.Type, result.Status == task.StatusSuccess, result.Duration().Seconds())

	if result.Status != task.StatusSuccess {
		r.cascadeCancelLocked(id)
	}
	s.publish(r.executionID, events.KindTaskFinished, map[string]any{"task_id": id, "status": result.Status})
}

// effectiveTimeoutSeconds is min(task.Timeout, config.DefaultTimeout).
func effectiveTimeoutSeconds(t task.Task, defaultTimeout time.Duration) int {
	eff := defaultTimeout
	if t.Timeout > 0 && t.Timeout < eff {
		eff = t.Timeout
	}
	secs := int(eff.Seconds())
	if secs <= 0 {
		secs = defaultTimeoutSeconds
	}
	return secs
}

// invokeWithRetry runs the task, retrying per internal/retry's policy table
// when the failure kind is retriable, preserving the task identifier and
// workspace across attempts. The retry loop itself lives in
// internal/retry.Loop; this method only supplies the per-attempt call and
// how to render a cancellation as a task.Result.
func (s *Scheduler) invokeWithRetry(ctx context.Context, t task.Task, agentName, workspace string, timeoutSecs int) task.Result {
	return retry.Loop(ctx, s.logger, func(last task.Result) task.Result {
		started := last.StartedAt
		if started.IsZero() {
			started = time.Now()
		}
		return task.Result{TaskID: t.ID, Status: task.StatusCancelled, Agent: agentName, Error: ctx.Err().Error(), StartedAt: started, EndedAt: time.Now()}
	}, func(ctx context.Context, attempt int) (task.Result, error) {
		result := s.invokeOnce(ctx, t, agentName, workspace, timeoutSecs)
		if result.Status == task.StatusSuccess {
			return result, nil
		}
		return result, fmt.Errorf("%s", result.Error)
	})
}

// invokeOnce runs the task a single time, through the Multi-Round Executor
// when cfg.MaxRounds > 0 and a toolset is configured, else via a bare
// Agent Invoker call.
func (s *Scheduler) invokeOnce(ctx context.Context, t task.Task, agentName, workspace string, timeoutSecs int) task.Result {
	started := time.Now()

	if s.toolset != nil {
		execRes := s.executor.Run(ctx, executor.Task{
			ID: t.ID, Prompt: t.Prompt, AgentName: agentName, WorkspacePath: workspace, TimeoutSecs: timeoutSecs,
		}, s.toolset, 0)
		ended := time.Now()
		if execRes.Success {
			return task.Result{
				TaskID: t.ID, Status: task.StatusSuccess, Agent: agentName,
				Output: execRes.FinalAnswer, FinalAnswer: execRes.FinalAnswer,
				StartedAt: started, EndedAt: ended,
			}
		}
		return task.Result{
			TaskID: t.ID, Status: task.StatusFailed, Agent: agentName,
			Error: execRes.Reason, StartedAt: started, EndedAt: ended,
		}
	}

	invRes := s.invoker.Invoke(ctx, agentName, t.Prompt, workspace, timeoutSecs)
	ended := time.Now()

	status := task.StatusFailed
	switch invRes.Status {
	case agent.StatusSuccess:
		status = task.StatusSuccess
	case agent.StatusTimeout:
		status = task.StatusTimeout
	case agent.StatusCancelled:
		status = task.StatusCancelled
	}
	return task.Result{
		TaskID: t.ID, Status: status, Agent: agentName,
		Output: invRes.Output, Error: invRes.Error,
		StartedAt: started, EndedAt: ended,
	}
}

// firstNonRetriableFailure reports the first task in band that ended up
// FAILED or TIMEOUT after retries were exhausted. Called only after runBand
// (and its goroutines) have returned, so a direct r.results read is safe.
func (s *Scheduler) firstNonRetriableFailure(r *run, band []string) (string, bool) {
	for _, id := range band {
		res, ok := r.results[id]
		if !ok {
			continue
		}
		if res.Status == task.StatusFailed || res.Status == task.StatusTimeout {
			return id, true
		}
	}
	return "", false
}

func (s *Scheduler) aggregate(r *run, start time.Time, stopped, wasCancelled bool) task.ExecutionResult {
	mode := r.cfg.Mode
	if mode == "" {
		mode = task.ModeHybrid
	}
	batches, _ := s.computeBatches(r.plan, mode)

	successCount, failureCount := 0, 0
	for _, res := range r.results {
		if res.Status == task.StatusSuccess {
			successCount++
		} else {
			failureCount++
		}
	}
	for id := range r.cancelled {
		if _, already := r.results[id]; !already {
			r.results[id] = task.Result{TaskID: id, Status: task.StatusCancelled, Error: "ancestor task failed"}
			failureCount++
		}
	}

	return task.ExecutionResult{
		Mode:         mode,
		Batches:      batches,
		Results:      r.results,
		Duration:     time.Since(start),
		SuccessCount: successCount,
		FailureCount: failureCount,
	}
}

func (s *Scheduler) writeCheckpoint(r *run, status checkpoint.Status, errText string) {
	s.writeCheckpointNode(r, status, errText, "")
}

func (s *Scheduler) writeCheckpointNode(r *run, status checkpoint.Status, errText, currentNode string) {
	if s.checkpoints == nil {
		return
	}
	completed := make([]string, 0, len(r.results))
	for id, res := range r.results {
		if res.Status == task.StatusSuccess {
			completed = append(completed, id)
		}
	}
	sort.Strings(completed)

	pending := make([]string, 0)
	for _, t := range r.plan.Tasks() {
		if _, done := r.results[t.ID]; !done {
			pending = append(pending, t.ID)
		}
	}
	sort.Strings(pending)

	cp := checkpoint.Checkpoint{
		ExecutionID: r.executionID,
		Status:      status,
		CurrentNode: currentNode,
		Completed:   completed,
		Pending:     pending,
		Error:       errText,
		Timestamp:   time.Now(),
		Data:        map[string]any{"results": r.results},
	}
	if _, err := s.checkpoints.Save(cp); err != nil {
		s.logger.Warn("Checkpoint write failed for execution %s: %v", r.executionID, err)
		return
	}
	s.publish(r.executionID, events.KindCheckpointWritten, map[string]any{"status": status})
}

func (s *Scheduler) publish(executionID string, kind events.Kind, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Kind: kind, Timestamp: time.Now(), ExecutionID: executionID, Payload: payload})
}
