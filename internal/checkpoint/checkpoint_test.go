package checkpoint

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/drover-ai/drover/internal/graph"
	"github.com/drover-ai/drover/pkg/models"
)

func buildGraph() *graph.TaskGraph {
	g := graph.New()
	g.AddNode(&models.TaskNode{ID: "A", Content: "fetch docs", Agent: "browser", Status: models.TaskStatusPending})
	g.AddNode(&models.TaskNode{ID: "B", Content: "summarize", Agent: "writer", DependsOn: []string{"A"}, Status: models.TaskStatusPending})
	g.MarkComplete("A", "docs fetched")
	g.MarkRunning("B")
	return g
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := buildGraph()
	context := map[string]any{"step": "two", "attempt": float64(3)}

	id, err := store.Save("task-a", g, context)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(id, "task-a_") {
		t.Errorf("checkpoint id should start with task id, got %q", id)
	}

	cp, err := store.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cp.CheckpointID != id {
		t.Errorf("expected checkpoint id %q, got %q", id, cp.CheckpointID)
	}
	if cp.TaskID != "task-a" {
		t.Errorf("expected task id task-a, got %q", cp.TaskID)
	}
	if !reflect.DeepEqual(cp.Context, context) {
		t.Errorf("context not reproduced: got %v, want %v", cp.Context, context)
	}

	if cp.Graph.Root() != "A" {
		t.Errorf("expected restored root A, got %q", cp.Graph.Root())
	}

	a := cp.Graph.Node("A")
	if a.Status != models.TaskStatusCompleted || a.Result != "docs fetched" {
		t.Errorf("node A not reproduced: %+v", a)
	}
	b := cp.Graph.Node("B")
	if b.Status != models.TaskStatusRunning {
		t.Errorf("node B status not reproduced: %s", b.Status)
	}
	if !reflect.DeepEqual(b.DependsOn, []string{"A"}) {
		t.Errorf("node B dependencies not reproduced: %v", b.DependsOn)
	}
}

func TestLoadMissingCheckpoint(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = store.Load("task-a_20240101_000000_deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByTaskID(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := buildGraph()
	id1, err := store.Save("task-a", g, nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	id2, err := store.Save("task-a", g, nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.Save("task-b", g, nil); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	ids, err := store.List("task-a")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected exactly 2 checkpoints for task-a, got %d: %v", len(ids), ids)
	}
	seen := map[string]bool{ids[0]: true, ids[1]: true}
	if !seen[id1] || !seen[id2] {
		t.Errorf("expected ids %q and %q, got %v", id1, id2, ids)
	}
	for _, id := range ids {
		if strings.HasPrefix(id, "task-b") {
			t.Errorf("task-b checkpoint leaked into task-a listing: %q", id)
		}
	}
}

func TestListSortedAscending(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := buildGraph()
	for i := 0; i < 3; i++ {
		if _, err := store.Save("task-a", g, nil); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	ids, err := store.List("task-a")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] > ids[i] {
			t.Errorf("ids not sorted ascending: %v", ids)
		}
	}
}

func TestDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := store.Save("task-a", buildGraph(), nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	removed, err := store.Delete(id)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !removed {
		t.Error("expected delete to report removal")
	}

	removed, err = store.Delete(id)
	if err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if removed {
		t.Error("deleting a missing checkpoint should report false")
	}

	if _, err := store.Load(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestEmptyGraphRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := store.Save("task-empty", graph.New(), map[string]any{})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cp, err := store.Load(id)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cp.Graph.Size() != 0 {
		t.Errorf("expected empty graph, got %d nodes", cp.Graph.Size())
	}
	if cp.Graph.Root() != "" {
		t.Errorf("expected no root, got %q", cp.Graph.Root())
	}
}
