package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

type inMemoryTask struct {
	kind    string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.kind
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is a Publisher and a Reciever for a single process, used when no RabbitMQ
// url is configured. Notifications are dropped when the buffer is full since a pending one
// already wakes the worker.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) PublishTasksReady(ctx context.Context, payload TasksReadyPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	select {
	case q.tasks <- &inMemoryTask{kind: TasksReadyType, payload: data}:
	default:
		slog.Debug("notification buffer full, dropping", "queue", payload.QueueName)
	}
	return nil
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
