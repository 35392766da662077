package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycleDetected is returned when job dependencies form a cycle.
var ErrCycleDetected = errors.New("cycle detected in job dependencies")

// CycleInfo describes the jobs that could not be ordered.
type CycleInfo struct {
	TotalNodes        int
	ProcessedNodes    int
	UnprocessedNodes  []string // part of or blocked by a cycle
	CycleParticipants []string // subset of UnprocessedNodes on a cycle
	CyclePath         []string // e.g. [A, B, C, A]
}

// CycleError reports a dependency cycle.
type CycleError struct {
	Info *CycleInfo
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: %d of %d jobs could not be ordered",
		ErrCycleDetected, len(e.Info.UnprocessedNodes), e.Info.TotalNodes)

	if len(e.Info.CyclePath) > 0 {
		msg += fmt.Sprintf("\nCycle path: %s", strings.Join(e.Info.CyclePath, " -> "))
	}
	if len(e.Info.CycleParticipants) > 0 {
		msg += fmt.Sprintf("\nJobs in cycle: %s", strings.Join(e.Info.CycleParticipants, ", "))
	}

	participants := make(map[string]bool, len(e.Info.CycleParticipants))
	for _, p := range e.Info.CycleParticipants {
		participants[p] = true
	}
	var blocked []string
	for _, u := range e.Info.UnprocessedNodes {
		if !participants[u] {
			blocked = append(blocked, u)
		}
	}
	if len(blocked) > 0 {
		msg += fmt.Sprintf("\nJobs blocked by cycle: %s", strings.Join(blocked, ", "))
	}
	return msg
}

// Is lets errors.Is match ErrCycleDetected.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// readyQueue yields ready jobs in alphabetical order.
type readyQueue struct {
	names []string
}

func (q *readyQueue) push(name string) {
	i := sort.SearchStrings(q.names, name)
	q.names = append(q.names, "")
	copy(q.names[i+1:], q.names[i:])
	q.names[i] = name
}

func (q *readyQueue) pop() (string, bool) {
	if len(q.names) == 0 {
		return "", false
	}
	name := q.names[0]
	q.names = q.names[1:]
	return name, true
}

// CalculateInDegrees counts the dependencies of every job.
func (g *Graph) CalculateInDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.Nodes))
	for name := range g.Nodes {
		inDegree[name] = 0
	}
	for _, children := range g.Children {
		for _, child := range children {
			inDegree[child]++
		}
	}
	return inDegree
}

// kahn returns the processable prefix of the order and the processed set.
func (g *Graph) kahn() ([]string, map[string]bool) {
	inDegree := g.CalculateInDegrees()
	queue := &readyQueue{}
	for name, degree := range inDegree {
		if degree == 0 {
			queue.push(name)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	processed := make(map[string]bool, len(g.Nodes))
	for {
		node, ok := queue.pop()
		if !ok {
			break
		}
		order = append(order, node)
		processed[node] = true

		for _, child := range g.Children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue.push(child)
			}
		}
	}
	return order, processed
}

// TopologicalSort returns jobs so that every job follows its dependencies.
// Independent jobs are ordered alphabetically.
func (g *Graph) TopologicalSort() ([]string, error) {
	order, _ := g.kahn()
	if len(order) != len(g.Nodes) {
		return nil, &CycleError{Info: g.DetectIncompleteProcessing()}
	}
	return order, nil
}

// DetectIncompleteProcessing returns nil when every job can be ordered.
func (g *Graph) DetectIncompleteProcessing() *CycleInfo {
	_, processed := g.kahn()
	if len(processed) == len(g.Nodes) {
		return nil
	}

	unprocessedSet := make(map[string]bool)
	var unprocessed []string
	for _, name := range g.AllNodes() {
		if !processed[name] {
			unprocessed = append(unprocessed, name)
			unprocessedSet[name] = true
		}
	}

	var participants []string
	for _, node := range unprocessed {
		if g.canReachSelf(node, unprocessedSet) {
			participants = append(participants, node)
		}
	}

	var path []string
	if len(participants) > 0 {
		path = g.FindCyclePath(participants[0], unprocessedSet)
	}

	return &CycleInfo{
		TotalNodes:        len(g.Nodes),
		ProcessedNodes:    len(processed),
		UnprocessedNodes:  unprocessed,
		CycleParticipants: participants,
		CyclePath:         path,
	}
}

// HasCycle reports whether the dependencies contain a cycle.
func (g *Graph) HasCycle() bool {
	return g.DetectIncompleteProcessing() != nil
}

// FindCyclePath returns a cycle through start within allowed, start at both ends.
func (g *Graph) FindCyclePath(start string, allowed map[string]bool) []string {
	visited := make(map[string]bool)
	path := []string{start}
	if g.dfsFindPath(start, start, visited, allowed, &path) {
		return path
	}
	return nil
}

func (g *Graph) dfsFindPath(current, target string, visited, allowed map[string]bool, path *[]string) bool {
	for _, child := range g.Dependents(current) {
		if !allowed[child] {
			continue
		}
		if child == target {
			*path = append(*path, target)
			return true
		}
		if visited[child] {
			continue
		}
		visited[child] = true
		*path = append(*path, child)
		if g.dfsFindPath(child, target, visited, allowed, path) {
			return true
		}
		*path = (*path)[:len(*path)-1]
	}
	return false
}

func (g *Graph) canReachSelf(start string, allowed map[string]bool) bool {
	visited := make(map[string]bool)
	var walk func(current string, first bool) bool
	walk = func(current string, first bool) bool {
		if current == start && !first {
			return true
		}
		if visited[current] || !allowed[current] {
			return false
		}
		visited[current] = true
		for _, child := range g.Children[current] {
			if walk(child, false) {
				return true
			}
		}
		return false
	}
	return walk(start, true)
}

// Validate fails with a CycleError when the jobs cannot be ordered.
func (g *Graph) Validate() error {
	if info := g.DetectIncompleteProcessing(); info != nil {
		return &CycleError{Info: info}
	}
	return nil
}
