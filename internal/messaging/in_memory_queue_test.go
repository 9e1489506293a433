package messaging_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qgen-backend/internal/messaging"
)

func TestInMemoryQueue(t *testing.T) {
	q := messaging.NewInMemoryQueue()

	datasetId := uuid.New()
	require.NoError(t, q.PublishTasksReady(context.Background(), messaging.TasksReadyPayload{
		QueueName: "laws", TaskCount: 3, DatasetId: &datasetId,
	}))

	task := <-q.Tasks()
	assert.Equal(t, messaging.TasksReadyType, task.Type())
	require.NoError(t, task.Ack())

	payload, err := messaging.DecodeTasksReady(task)
	require.NoError(t, err)
	assert.Equal(t, "laws", payload.QueueName)
	assert.Equal(t, 3, payload.TaskCount)
	require.NotNil(t, payload.DatasetId)
	assert.Equal(t, datasetId, *payload.DatasetId)
}

func TestInMemoryQueueDropsWhenFull(t *testing.T) {
	q := messaging.NewInMemoryQueue()
	for i := 0; i < 150; i++ {
		require.NoError(t, q.PublishTasksReady(context.Background(), messaging.TasksReadyPayload{QueueName: "laws"}))
	}
	assert.Len(t, q.Tasks(), 100)
}

func TestInMemoryQueueClose(t *testing.T) {
	q := messaging.NewInMemoryQueue()
	q.Close()
	q.Close()

	_, ok := <-q.Tasks()
	assert.False(t, ok)

	assert.NoError(t, q.PublishTasksReady(context.Background(), messaging.TasksReadyPayload{QueueName: "laws"}))
}
