package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("done").Valid() {
		t.Error("expected unknown status to be invalid")
	}
	if TaskStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskStatusCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !TaskStatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	if TaskStatusPending.Terminal() {
		t.Error("pending should not be terminal")
	}
	if TaskStatusRunning.Terminal() {
		t.Error("running should not be terminal")
	}
}

func TestTaskNodeClone(t *testing.T) {
	node := &TaskNode{
		ID:        "task-1",
		Content:   "Write the parser",
		Agent:     "developer",
		DependsOn: []string{"task-0"},
		Status:    TaskStatusPending,
	}

	cp := node.Clone()
	cp.DependsOn[0] = "other"
	cp.Status = TaskStatusCompleted

	if node.DependsOn[0] != "task-0" {
		t.Error("clone should not share the DependsOn slice")
	}
	if node.Status != TaskStatusPending {
		t.Error("clone should not share status")
	}

	var nilNode *TaskNode
	if nilNode.Clone() != nil {
		t.Error("cloning nil should return nil")
	}
}
