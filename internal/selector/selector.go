// Package selector picks which agent should run a task: explicit
// assignment first, then a static type-rule map, then a history-weighted
// score across the enabled agent set.
package selector

import (
	"fmt"
	"sort"
	"sync"

	"taskforge/internal/task"
)

// typeRules maps a task type to the agent that handles it best by default.
var typeRules = map[task.Type]string{
	task.TypeCoding:   "codex",
	task.TypeAnalysis: "claude",
	task.TypeSimple:   "gemini",
	task.TypeTesting:  "codex",
	task.TypeGeneral:  "claude",
}

// stats accumulates one agent's historical performance for one task type.
type stats struct {
	attempts       int
	successes      int
	totalDuration  float64 // seconds, successes only
}

// Selector picks an agent per task and tracks historical performance
// reported by the scheduler after each TaskResult.
type Selector struct {
	mu      sync.Mutex
	history map[string]map[task.Type]*stats // agent -> type -> stats
}

// New returns an empty Selector with no history.
func New() *Selector {
	return &Selector{history: make(map[string]map[task.Type]*stats)}
}

// ErrNoAgent is returned when enabledAgents is empty.
var ErrNoAgent = fmt.Errorf("selector: no enabled agents available")

// Select picks an agent for t from enabledAgents, in this order:
// explicit t.Agent, the static type-rule map, then a history-weighted
// score. Ties in the score break by agent identifier order.
func (s *Selector) Select(t task.Task, enabledAgents []string) (string, error) {
	if len(enabledAgents) == 0 {
		return "", ErrNoAgent
	}
	enabled := make(map[string]bool, len(enabledAgents))
	for _, a := range enabledAgents {
		enabled[a] = true
	}

	if t.Agent != "" && enabled[t.Agent] {
		return t.Agent, nil
	}

	if mapped, ok := typeRules[t.Type]; ok && enabled[mapped] {
		return mapped, nil
	}

	return s.bestScoring(t.Type, enabledAgents), nil
}

// bestScoring returns the enabled agent with the highest weighted score,
// breaking ties by agent identifier order.
func (s *Selector) bestScoring(taskType task.Type, enabledAgents []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]string{}, enabledAgents...)
	sort.Strings(sorted)

	best := sorted[0]
	bestScore := s.score(best, taskType)
	for _, a := range sorted[1:] {
		sc := s.score(a, taskType)
		if sc > bestScore {
			best = a
			bestScore = sc
		}
	}
	return best
}

// score computes 0.5*successRate + 0.3*typeAffinity + 0.2*speedScore.
// Caller must hold s.mu.
func (s *Selector) score(agentName string, taskType task.Type) float64 {
	byType, ok := s.history[agentName]
	if !ok {
		return 0.5*0.5 + 0.3*0 + 0.2*(1/0.1)
	}

	var totalAttempts, totalSuccesses int
	for _, st := range byType {
		totalAttempts += st.attempts
		totalSuccesses += st.successes
	}

	successRate := 0.5
	if totalAttempts > 0 {
		successRate = float64(totalSuccesses) / float64(totalAttempts)
	}

	typeAffinity := 0.0
	if totalAttempts > 0 {
		if st, ok := byType[taskType]; ok {
			typeAffinity = float64(st.attempts) / float64(totalAttempts)
		}
	}

	// Without a successful run of this type there is no duration to average,
	// so the agent earns no speed credit.
	speedScore := 0.0
	if st, ok := byType[taskType]; ok && st.successes > 0 {
		avgDuration := st.totalDuration / float64(st.successes)
		speedScore = 1 / (avgDuration + 0.1)
	}

	return 0.5*successRate + 0.3*typeAffinity + 0.2*speedScore
}

// Report records the outcome of one task execution so future Select calls
// reflect it. Call this once per TaskResult.
func (s *Selector) Report(agentName string, taskType task.Type, success bool, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.history[agentName]
	if !ok {
		byType = make(map[task.Type]*stats)
		s.history[agentName] = byType
	}
	st, ok := byType[taskType]
	if !ok {
		st = &stats{}
		byType[taskType] = st
	}
	st.attempts++
	if success {
		st.successes++
		st.totalDuration += durationSeconds
	}
}
