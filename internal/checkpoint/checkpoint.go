// Package checkpoint persists task graph snapshots for crash recovery.
//
// Each checkpoint is one JSON file under the store directory, named after
// its ID. IDs embed the parent task ID, a second-granularity timestamp, and
// a short random suffix, so a lexicographic sort reproduces creation order.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drover-ai/drover/internal/graph"
	"github.com/drover-ai/drover/pkg/models"
)

// ErrNotFound indicates the requested checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// timestampLayout is the checkpoint ID timestamp component.
const timestampLayout = "20060102_150405"

// Store reads and writes checkpoint files under a single directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory checkpoints are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Checkpoint is a restored snapshot: the graph plus the opaque execution
// context that was saved with it.
type Checkpoint struct {
	CheckpointID string
	TaskID       string
	Timestamp    time.Time
	Graph        *graph.TaskGraph
	Context      map[string]any
}

// record is the on-disk representation.
type record struct {
	CheckpointID string         `json:"checkpoint_id"`
	TaskID       string         `json:"task_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Graph        graphRecord    `json:"graph"`
	Context      map[string]any `json:"context"`
}

type graphRecord struct {
	Nodes map[string]nodeRecord `json:"nodes"`
	Root  string                `json:"root"`
}

type nodeRecord struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Agent     string   `json:"agent"`
	DependsOn []string `json:"depends_on"`
	Status    string   `json:"status"`
	Result    string   `json:"result,omitempty"`
}

// Save serializes the graph and context under a freshly generated
// checkpoint ID and returns that ID.
func (s *Store) Save(taskID string, g *graph.TaskGraph, context map[string]any) (string, error) {
	now := time.Now()
	checkpointID := fmt.Sprintf("%s_%s_%s", taskID, now.Format(timestampLayout), randomSuffix())

	rec := record{
		CheckpointID: checkpointID,
		TaskID:       taskID,
		Timestamp:    now,
		Graph:        serializeGraph(g),
		Context:      context,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", checkpointID, err)
	}

	path := s.path(checkpointID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write checkpoint %s: %w", checkpointID, err)
	}

	return checkpointID, nil
}

// Load reads a checkpoint by ID and reconstructs its graph and context.
// Returns ErrNotFound if no such checkpoint exists.
func (s *Store) Load(checkpointID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", checkpointID, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", checkpointID, err)
	}

	return &Checkpoint{
		CheckpointID: rec.CheckpointID,
		TaskID:       rec.TaskID,
		Timestamp:    rec.Timestamp,
		Graph:        deserializeGraph(rec.Graph),
		Context:      rec.Context,
	}, nil
}

// List returns every checkpoint ID for the given task, sorted ascending.
// The embedded timestamp makes that sort reproduce creation order.
func (s *Store) List(taskID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, taskID+"_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", taskID, err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the checkpoint if present. Returns whether a record was
// actually removed.
func (s *Store) Delete(checkpointID string) (bool, error) {
	err := os.Remove(s.path(checkpointID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete checkpoint %s: %w", checkpointID, err)
	}
	return true, nil
}

func (s *Store) path(checkpointID string) string {
	return filepath.Join(s.dir, checkpointID+".json")
}

// randomSuffix returns 8 hex characters to disambiguate checkpoints created
// within the same second.
func randomSuffix() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:8]
}

func serializeGraph(g *graph.TaskGraph) graphRecord {
	nodes := g.Nodes()
	rec := graphRecord{
		Nodes: make(map[string]nodeRecord, len(nodes)),
		Root:  g.Root(),
	}
	for _, n := range nodes {
		rec.Nodes[n.ID] = nodeRecord{
			ID:        n.ID,
			Content:   n.Content,
			Agent:     n.Agent,
			DependsOn: n.DependsOn,
			Status:    string(n.Status),
			Result:    n.Result,
		}
	}
	return rec
}

func deserializeGraph(rec graphRecord) *graph.TaskGraph {
	// JSON objects carry no order; sort IDs so restored readiness
	// ordering is deterministic.
	ids := make([]string, 0, len(rec.Nodes))
	for id := range rec.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]*models.TaskNode, 0, len(ids))
	for _, id := range ids {
		nr := rec.Nodes[id]
		nodes = append(nodes, &models.TaskNode{
			ID:        nr.ID,
			Content:   nr.Content,
			Agent:     nr.Agent,
			DependsOn: nr.DependsOn,
			Status:    models.TaskStatus(nr.Status),
			Result:    nr.Result,
		})
	}
	return graph.Restore(nodes, rec.Root)
}
