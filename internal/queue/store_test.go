package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"qgen-backend/internal/database"
	"qgen-backend/internal/queue"
	"qgen-backend/pkg/api"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func intPtr(i int) *int {
	return &i
}

func newQueue(t *testing.T, store *queue.Store, name string) {
	_, err := store.CreateQueue(context.Background(), api.CreateQueueRequest{Name: name, Priority: 1})
	require.NoError(t, err)
}

func TestCreateQueue(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()

	res, err := store.CreateQueue(ctx, api.CreateQueueRequest{Name: "laws", Description: "законы"})
	require.NoError(t, err)
	assert.Equal(t, "laws", res.Name)
	assert.NotEqual(t, uuid.Nil, res.QueueId)

	_, err = store.CreateQueue(ctx, api.CreateQueueRequest{Name: "laws"})
	assert.ErrorIs(t, err, queue.ErrQueueExists)
}

func TestAddAndListTasks(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()
	newQueue(t, store, "laws")

	datasetId := uuid.New()
	added, err := store.AddTasks(ctx, "laws", []api.TaskData{
		{ChunkId: 1, ChunkText: "первый", QuestionType: "one", DatasetId: &datasetId},
		{ChunkId: 2, ChunkText: "второй", QuestionType: "open", Priority: intPtr(5)},
		{ChunkId: 3, ChunkText: "третий", QuestionType: "multi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, added.TasksAdded)
	require.Len(t, added.TaskIds, 3)

	_, err = store.AddTasks(ctx, "missing", []api.TaskData{{ChunkText: "x", QuestionType: "one"}})
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)

	tasks, err := store.ListTasks(ctx, "laws", "", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{tasks[0].ChunkId, tasks[1].ChunkId, tasks[2].ChunkId})
	assert.Equal(t, 1, tasks[0].Priority)
	assert.Equal(t, database.TaskPending, tasks[0].Status)
	require.NotNil(t, tasks[0].DatasetId)
	assert.Equal(t, datasetId, *tasks[0].DatasetId)
	assert.Nil(t, tasks[1].DatasetId)

	limited, err := store.ListTasks(ctx, "laws", "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pending, err := store.PendingTasks(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, 2, pending[0].ChunkId, "highest priority first")
	assert.Equal(t, 1, pending[1].ChunkId)
	assert.Equal(t, 3, pending[2].ChunkId)

	forDataset, err := store.DatasetTasks(ctx, datasetId, "")
	require.NoError(t, err)
	require.Len(t, forDataset, 1)
	assert.Equal(t, added.TaskIds[0], forDataset[0].Id)
}

func TestTaskLifecycle(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()
	newQueue(t, store, "laws")

	added, err := store.AddTasks(ctx, "laws", []api.TaskData{
		{ChunkId: 1, ChunkText: "первый", QuestionType: "one"},
		{ChunkId: 2, ChunkText: "второй", QuestionType: "open"},
	})
	require.NoError(t, err)
	first, second := added.TaskIds[0], added.TaskIds[1]

	claimed, err := store.Claim(ctx, first)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.Claim(ctx, first)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	_, err = store.Claim(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	pending, err := store.PendingTasks(ctx, "laws", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].Id)

	require.NoError(t, store.Complete(ctx, first, json.RawMessage(`{"stage":"validated"}`)))
	task, err := store.GetTask(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, task.Status)
	assert.JSONEq(t, `{"stage":"validated"}`, string(task.Result))

	claimed, err = store.Claim(ctx, second)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.Fail(ctx, second, "Processing error: boom"))

	task, err = store.GetTask(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, task.Status)
	assert.Equal(t, "Processing error: boom", task.Error)

	queues, err := store.ListQueues(ctx)
	require.NoError(t, err)
	require.Len(t, queues, 1)
	assert.Equal(t, 2, queues[0].TaskCount)
	assert.Equal(t, 1, queues[0].CompletedCount)
	assert.Equal(t, 1, queues[0].FailedCount)
	assert.Equal(t, 0, queues[0].PendingCount)

	retried, err := store.RetryFailed(ctx, "laws")
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	task, err = store.GetTask(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, task.Status)
	assert.Empty(t, task.Error)

	retried, err = store.RetryFailed(ctx, "laws")
	require.NoError(t, err)
	assert.Equal(t, 0, retried)

	require.ErrorIs(t, store.Complete(ctx, uuid.New(), nil), queue.ErrTaskNotFound)
}

func TestSetStatus(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()
	newQueue(t, store, "laws")

	added, err := store.AddTasks(ctx, "laws", []api.TaskData{{ChunkText: "текст", QuestionType: "open"}})
	require.NoError(t, err)
	id := added.TaskIds[0]

	msg := "отменено"
	require.NoError(t, store.SetStatus(ctx, id, api.TaskStatusUpdate{Status: database.TaskCancelled, Error: &msg}))
	task, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.TaskCancelled, task.Status)
	assert.Equal(t, msg, task.Error)

	err = store.SetStatus(ctx, id, api.TaskStatusUpdate{Status: "done"})
	assert.ErrorIs(t, err, queue.ErrInvalidStatus)
}

func TestDeleteQueue(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()
	newQueue(t, store, "laws")

	added, err := store.AddTasks(ctx, "laws", []api.TaskData{{ChunkText: "текст", QuestionType: "open"}})
	require.NoError(t, err)

	require.NoError(t, store.DeleteQueue(ctx, "laws"))
	_, err = store.GetTask(ctx, added.TaskIds[0])
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	assert.ErrorIs(t, store.DeleteQueue(ctx, "laws"), queue.ErrQueueNotFound)
	_, err = store.RetryFailed(ctx, "laws")
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := queue.NewStore(createDB(t))
	ctx := context.Background()
	newQueue(t, store, "laws")

	added, err := store.AddTasks(ctx, "laws", []api.TaskData{{ChunkText: "текст", QuestionType: "open"}})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(ctx, added.TaskIds[0])
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
