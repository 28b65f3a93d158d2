package queue

import (
	"context"
	"sync"
)

// Memory is an in-process queue. Tasks are lost on restart.
type Memory struct {
	mu     sync.RWMutex
	tasks  chan Task
	closed bool
}

var _ Queue = (*Memory)(nil)

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{tasks: make(chan Task, size)}
}

func (m *Memory) Enqueue(ctx context.Context, task Task) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (m *Memory) Dequeue(ctx context.Context) (Task, error) {
	select {
	case task, ok := <-m.tasks:
		if !ok {
			return Task{}, ErrClosed
		}
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

func (m *Memory) Len(context.Context) (int64, error) {
	return int64(len(m.tasks)), nil
}

// Close stops accepting tasks. Queued tasks are still handed out.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.tasks)
	}
	return nil
}
