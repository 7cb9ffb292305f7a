package scheduler

import (
	"fmt"
	"sort"

	"github.com/socrunbook/engine/internal/model"
)

// layers groups a runbook's steps into dependency-respecting batches:
// every step in layer N depends only on steps in layers < N, so when the
// runbook sets config.parallel_execution the steps of one layer may run
// concurrently. Within a layer, steps keep their authored order.
func layers(rb *model.Runbook) ([][]model.Step, error) {
	indegree := make(map[string]int, len(rb.Steps))
	dependents := make(map[string][]string, len(rb.Steps))
	byID := make(map[string]model.Step, len(rb.Steps))
	authored := make(map[string]int, len(rb.Steps))

	for i, s := range rb.Steps {
		byID[s.ID] = s
		authored[s.ID] = i
		indegree[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var out [][]model.Step
	remaining := len(rb.Steps)
	ready := make([]string, 0)
	for _, s := range rb.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	for len(ready) > 0 {
		layer := make([]model.Step, 0, len(ready))
		for _, id := range ready {
			layer = append(layer, byID[id])
		}
		out = append(out, layer)
		remaining -= len(ready)

		var next []string
		for _, id := range ready {
			for _, child := range dependents[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return authored[next[i]] < authored[next[j]] })
		ready = next
	}

	if remaining != 0 {
		return nil, fmt.Errorf("runbook %s: dependency cycle detected", rb.ID)
	}
	return out, nil
}

// flatten returns every step across all layers in execution order,
// used when the caller only needs a single linear ordering (e.g. for
// the simulation engine, which does not itself run steps concurrently).
func flatten(ls [][]model.Step) []model.Step {
	var out []model.Step
	for _, l := range ls {
		out = append(out, l...)
	}
	return out
}
