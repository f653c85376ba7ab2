// Package survey loads, validates, and caches survey definitions.
//
// This file implements the graph-level validator: cycle detection over the
// step adjacency map and reachability diagnostics from the consent step.
package survey

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// CycleError indicates a survey flow contains a cycle among its steps.
type CycleError struct {
	SurveyID string
	StepID   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("survey %q: cycle detected through step %q", e.SurveyID, e.StepID)
}

// ValidateGraph runs structural analysis on a schema-valid survey:
// it builds the adjacency map (default next plus all conditional nexts),
// rejects any cycle reachable from any step, and logs a warning for
// non-terminal steps unreachable from the consent step. Isolated terminal
// branches are a valid authoring pattern and produce no warning.
func ValidateGraph(s *models.Survey) error {
	graph := buildAdjacency(s)

	// Cycle detection runs from every step, not just the entry, so cycles in
	// detached branches are still load-time failures.
	visited := make(map[string]bool, len(s.Steps))
	onPath := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		id := s.Steps[i].ID
		if !visited[id] {
			if cycleNode := findCycle(graph, id, visited, onPath); cycleNode != "" {
				return &CycleError{SurveyID: s.Metadata.ID, StepID: cycleNode}
			}
		}
	}

	reachable := reachableFrom(graph, s.Consent.StepID)
	var unreachable []string
	for i := range s.Steps {
		step := &s.Steps[i]
		if !reachable[step.ID] && !step.IsTerminal() {
			unreachable = append(unreachable, step.ID)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		slog.Warn("Survey has unreachable non-terminal steps", "survey_id", s.Metadata.ID, "steps", unreachable)
	}

	slog.Debug("Survey graph validated", "survey_id", s.Metadata.ID, "steps", len(s.Steps), "reachable", len(reachable))
	return nil
}

// buildAdjacency maps each step id to its default and conditional next ids.
func buildAdjacency(s *models.Survey) map[string][]string {
	graph := make(map[string][]string, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		var next []string
		for _, cond := range step.NextConditional {
			next = append(next, cond.Next)
		}
		if step.Next != "" {
			next = append(next, step.Next)
		}
		graph[step.ID] = next
	}
	return graph
}

// findCycle runs a depth-first traversal tracking the active recursion path.
// A back-edge to a node still on the path is a cycle; the offending node id
// is returned, or "" if no cycle is reachable from start.
func findCycle(graph map[string][]string, start string, visited, onPath map[string]bool) string {
	visited[start] = true
	onPath[start] = true
	for _, next := range graph[start] {
		if onPath[next] {
			return next
		}
		if !visited[next] {
			if node := findCycle(graph, next, visited, onPath); node != "" {
				return node
			}
		}
	}
	onPath[start] = false
	return ""
}

// reachableFrom computes the set of step ids reachable from start via
// breadth-first traversal.
func reachableFrom(graph map[string][]string, start string) map[string]bool {
	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range graph[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}
