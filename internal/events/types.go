// Package events provides event types and publishing infrastructure for orch.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTaskCreated indicates a new task was stored.
	EventTaskCreated EventType = "task_created"
	// EventTaskUpdated indicates a task changed status.
	EventTaskUpdated EventType = "task_updated"
	// EventTaskDeleted indicates a task was removed.
	EventTaskDeleted EventType = "task_deleted"
	// EventOutput carries a chunk of live assistant output.
	EventOutput EventType = "output"
)

// Stream names the process stream a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID int64     `json:"taskId"`
	Data   any       `json:"data,omitempty"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID int64, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// OutputChunk is the payload of EventOutput.
type OutputChunk struct {
	Stream Stream `json:"stream"`
	Chunk  string `json:"chunk"`
}

// TaskUpdate is the payload of task lifecycle events.
type TaskUpdate struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
