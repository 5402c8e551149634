package models

// TaskStatus represents the current state of a task node.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskNode represents a single unit of work in the task graph.
type TaskNode struct {
	// ID is the unique identifier for this task within its graph.
	ID string `json:"id"`
	// Content is the description of the work to be performed.
	Content string `json:"content"`
	// Agent is the capability tag selecting which agent type executes the task.
	Agent string `json:"agent"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on"`
	// Status is the current execution status.
	Status TaskStatus `json:"status"`
	// Result holds the task output, set only on completion.
	Result string `json:"result,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *TaskNode) Clone() *TaskNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.DependsOn != nil {
		cp.DependsOn = append([]string(nil), n.DependsOn...)
	}
	return &cp
}
