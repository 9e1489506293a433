package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TasksReadyExchange is a fanout exchange, every connected worker gets its own copy of a
	// notification.
	TasksReadyExchange = "qgen_tasks_ready"
	TasksReadyType     = "tasks_ready"
	RetryDelay         = 5 * time.Second
	MaxConnectRetry    = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// TasksReadyPayload tells idle workers that a queue received new pending tasks. It is only a
// hint: workers still discover tasks by polling.
type TasksReadyPayload struct {
	QueueName string     `json:"queue_name"`
	TaskCount int        `json:"task_count"`
	DatasetId *uuid.UUID `json:"dataset_id,omitempty"`
}

func DecodeTasksReady(task Task) (TasksReadyPayload, error) {
	var payload TasksReadyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TasksReadyPayload{}, fmt.Errorf("error decoding %s notification: %w", task.Type(), err)
	}
	return payload, nil
}

type Publisher interface {
	PublishTasksReady(ctx context.Context, payload TasksReadyPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
