package execution

import (
	"errors"
	"fmt"

	"github.com/navio-ai/navio/pkg/models"
)

var ErrCyclicWorkflow = errors.New("workflow graph contains a cycle")

// graph is the dependency view of a workflow: a topological visit order
// plus the direct dependents of each node. The order is dependency
// respecting but not unique.
type graph struct {
	order      []string
	dependents map[string][]string
}

func buildGraph(workflow *models.Workflow) (*graph, error) {
	indegree := make(map[string]int, len(workflow.Nodes))
	dependents := make(map[string][]string, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		indegree[node.ID] = 0
	}

	for _, connection := range workflow.Connections {
		source, err := connection.SourceNode()
		if err != nil {
			return nil, err
		}

		target, err := connection.TargetNode()
		if err != nil {
			return nil, err
		}

		if _, ok := indegree[source]; !ok {
			return nil, fmt.Errorf("connection %s references unknown node %s", connection.ID, source)
		}

		if _, ok := indegree[target]; !ok {
			return nil, fmt.Errorf("connection %s references unknown node %s", connection.ID, target)
		}

		dependents[source] = append(dependents[source], target)
		indegree[target]++
	}

	// Kahn's algorithm, seeded in definition order for a stable result.
	ready := make([]string, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	order := make([]string, 0, len(workflow.Nodes))

	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(workflow.Nodes) {
		return nil, ErrCyclicWorkflow
	}

	return &graph{order: order, dependents: dependents}, nil
}

// downstream returns every node reachable from nodeID through dependency
// edges, excluding nodeID itself.
func (g *graph) downstream(nodeID string) map[string]bool {
	reached := make(map[string]bool)
	frontier := []string{nodeID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, dependent := range g.dependents[current] {
			if !reached[dependent] {
				reached[dependent] = true
				frontier = append(frontier, dependent)
			}
		}
	}

	return reached
}
