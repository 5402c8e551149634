package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/drover-ai/drover/internal/graph"
	"github.com/drover-ai/drover/pkg/models"
)

// Decomposer turns a natural-language request into a task graph.
// The decomposition algorithm itself is pluggable; the orchestrator only
// cares about the graph it produces.
type Decomposer interface {
	Decompose(ctx context.Context, request string) (*graph.TaskGraph, error)
}

// Plan is a pre-decomposed task list loaded from a file.
type Plan struct {
	Tasks []models.TaskNode `json:"tasks"`
}

// LoadPlan reads a JSON plan file and builds its task graph.
// Tasks are added in file order, so the first dependency-free task becomes
// the graph root.
func LoadPlan(path string) (*graph.TaskGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan %s contains no tasks", path)
	}

	g := graph.New()
	for i := range plan.Tasks {
		node := plan.Tasks[i]
		if node.ID == "" {
			return nil, fmt.Errorf("plan %s: task %d has no id", path, i)
		}
		if node.Status == "" {
			node.Status = models.TaskStatusPending
		}
		g.AddNode(&node)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return g, nil
}
