// Package graph provides the task dependency graph and its readiness query.
package graph

import (
	"fmt"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/drover-ai/drover/pkg/models"
)

// TaskGraph is a directed acyclic graph of task nodes keyed by ID.
//
// The graph performs no cycle detection on insertion; callers are responsible
// for supplying an acyclic structure. Nodes past a cycle simply never become
// ready. Use Validate to reject cyclic input up front.
type TaskGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the node itself.
	nodes map[string]*models.TaskNode
	// order records insertion order so readiness queries are stable
	// for a fixed graph state.
	order []string
	// root is the first node added that had no dependencies.
	// Set at most once, never reassigned.
	root string
}

// New creates an empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		nodes: make(map[string]*models.TaskNode),
	}
}

// Restore reconstructs a graph from a node list and an explicit root.
// The root is taken as-is rather than re-derived, so a graph restored from
// a checkpoint keeps the root it had when it was saved.
func Restore(nodes []*models.TaskNode, root string) *TaskGraph {
	g := New()
	for _, n := range nodes {
		if _, exists := g.nodes[n.ID]; !exists {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = n.Clone()
	}
	g.root = root
	return g
}

// AddNode inserts a node, overwriting any existing node with the same ID.
// If the node has no dependencies and no root is assigned yet, it becomes
// the root.
func (g *TaskGraph) AddNode(node *models.TaskNode) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[node.ID]; !exists {
		g.order = append(g.order, node.ID)
	}
	g.nodes[node.ID] = node.Clone()

	if len(node.DependsOn) == 0 && g.root == "" {
		g.root = node.ID
	}
}

// Root returns the root node ID, or empty if no dependency-free node has
// been added yet.
func (g *TaskGraph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

// Size returns the number of nodes in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns a copy of the node with the given ID, or nil if not found.
func (g *TaskGraph) Node(id string) *models.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id].Clone()
}

// Nodes returns copies of all nodes in insertion order.
func (g *TaskGraph) Nodes() []*models.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*models.TaskNode, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id].Clone())
	}
	return nodes
}

// GetReadyTasks returns every pending node whose dependencies are all
// satisfied. A dependency is satisfied when it is completed or when it
// references an ID absent from the graph.
func (g *TaskGraph) GetReadyTasks() []*models.TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.TaskNode
	for _, id := range g.order {
		node := g.nodes[id]
		if node.Status != models.TaskStatusPending {
			continue
		}

		satisfied := true
		for _, depID := range node.DependsOn {
			dep, exists := g.nodes[depID]
			if !exists {
				continue
			}
			if dep.Status != models.TaskStatusCompleted {
				satisfied = false
				break
			}
		}

		if satisfied {
			ready = append(ready, node.Clone())
		}
	}
	return ready
}

// MarkRunning sets the node's status to running. The transition is
// unconditional; unknown IDs are ignored.
func (g *TaskGraph) MarkRunning(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node, ok := g.nodes[id]; ok {
		node.Status = models.TaskStatusRunning
	}
}

// MarkComplete sets the node's status to completed and stores the result.
// The transition is unconditional; unknown IDs are ignored.
func (g *TaskGraph) MarkComplete(id string, result string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node, ok := g.nodes[id]; ok {
		node.Status = models.TaskStatusCompleted
		node.Result = result
	}
}

// MarkFailed sets the node's status to failed. The transition is
// unconditional; unknown IDs are ignored.
func (g *TaskGraph) MarkFailed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if node, ok := g.nodes[id]; ok {
		node.Status = models.TaskStatusFailed
	}
}

// Claim atomically transitions a node from pending to running.
// Returns false if the node is unknown or not pending, so two concurrent
// workers can never both dispatch the same node.
func (g *TaskGraph) Claim(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok || node.Status != models.TaskStatusPending {
		return false
	}
	node.Status = models.TaskStatusRunning
	return true
}

// Done returns true when every node is in a terminal state.
func (g *TaskGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, node := range g.nodes {
		if !node.Status.Terminal() {
			return false
		}
	}
	return true
}

// TopoOrder returns node IDs in an order where dependencies come before
// the nodes that depend on them. Dependency IDs absent from the graph are
// skipped. Returns an error if the graph contains a cycle.
func (g *TaskGraph) TopoOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for _, id := range g.order {
		node := g.nodes[id]
		added := false
		for _, depID := range node.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				continue
			}
			edges = append(edges, toposort.Edge{depID, id})
			added = true
		}
		if !added {
			// Keep dependency-free nodes in the sort.
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(g.nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// Validate checks the graph for cycles without mutating it.
func (g *TaskGraph) Validate() error {
	_, err := g.TopoOrder()
	return err
}
