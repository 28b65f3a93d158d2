// Package queue carries deferred PDF tasks from the API to the workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Task is everything a worker needs to find its way back to the request.
// Workers reload the request and the service from the store; a task only
// carries identifiers and the approver's decision.
type Task struct {
	JobID        string `json:"job_id"`
	RequestID    string `json:"request_id"`
	TrackingCode string `json:"tracking_code"`
	ServiceID    string `json:"service_id"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	Note         string `json:"note,omitempty"`
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task arrives, ctx ends or the queue is
	// closed.
	Dequeue(ctx context.Context) (Task, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

func encodeTask(t Task) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	return string(b), nil
}

func decodeTask(s string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if t.JobID == "" || t.RequestID == "" {
		return Task{}, fmt.Errorf("task without job or request id: %q", s)
	}
	return t, nil
}
