package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"qgen-backend/internal/config"
	"qgen-backend/internal/database"
	"qgen-backend/internal/datasets"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/pipeline"
	"qgen-backend/internal/queue"
	"qgen-backend/internal/worker"
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

func strPtr(s string) *string {
	return &s
}

func validatedRun(in pipeline.Input) *pipeline.Run {
	return &pipeline.Run{
		RunId: in.RunId,
		Chunk: in.ChunkText,
		Kind:  in.Kind,
		Stage: pipeline.StageValidated,
		GeneratedQuestion: &pipeline.GeneratedQuestion{
			Task:    "Какой срок исковой давности?",
			Option1: strPtr("1 год"),
			Option2: strPtr("3 года"),
			Option5: strPtr(pipeline.NoneOption),
			Outputs: "2",
		},
		SensitivityScore: &pipeline.SensitivityScore{Level: 1, Explanation: "нейтрально"},
		DifficultyScore:  &pipeline.DifficultyScore{Level: 2, Explanation: "средне"},
		ValidationResult: &pipeline.ValidationResult{
			Type:      in.Kind,
			ByBlock:   pipeline.Blocks{{Key: "c1_task", Scores: []int{1, 1}}, {Key: "c2_options", Scores: []int{1, 0}}},
			Total:     3,
			MaxTotal:  4,
			Threshold: 3,
			Passed:    true,
		},
	}
}

// fakeRunner fails chunks containing "fail" and panics on chunks containing "panic".
type fakeRunner struct {
	mu        sync.Mutex
	runs      []pipeline.Input
	forgotten []string
}

func (r *fakeRunner) Run(ctx context.Context, in pipeline.Input) (*pipeline.Run, error) {
	r.mu.Lock()
	r.runs = append(r.runs, in)
	r.mu.Unlock()

	switch {
	case strings.Contains(in.ChunkText, "panic"):
		panic("boom")
	case strings.Contains(in.ChunkText, "fail"):
		return nil, errors.New("generate: model unavailable")
	}
	return validatedRun(in), nil
}

func (r *fakeRunner) Forget(ctx context.Context, runId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, runId)
	return nil
}

func (r *fakeRunner) forgottenIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.forgotten...)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type fixture struct {
	queues   *queue.Store
	datasets *datasets.Store
	runner   *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	db := createDB(t)
	f := &fixture{queues: queue.NewStore(db), datasets: datasets.NewStore(db), runner: &fakeRunner{}}
	_, err := f.queues.CreateQueue(context.Background(), api.CreateQueueRequest{Name: "laws"})
	require.NoError(t, err)
	return f
}

func (f *fixture) newDataset(t *testing.T) uuid.UUID {
	res, err := f.datasets.Create(context.Background(), api.CreateDatasetRequest{
		Name:           "Гражданский кодекс",
		SourceDocument: "gk.pdf",
		Metadata:       map[string]any{"owner": "admin"},
	})
	require.NoError(t, err)
	return res.DatasetId
}

func (f *fixture) addTasks(t *testing.T, datasetId *uuid.UUID, chunks ...string) []uuid.UUID {
	data := make([]api.TaskData, len(chunks))
	for i, chunk := range chunks {
		data[i] = api.TaskData{
			ChunkId:      i,
			ChunkText:    chunk,
			QuestionType: "single-choice",
			DatasetId:    datasetId,
			DatasetName:  "Гражданский кодекс",
		}
	}
	res, err := f.queues.AddTasks(context.Background(), "laws", data)
	require.NoError(t, err)
	return res.TaskIds
}

func (f *fixture) worker(cfg config.WorkerConfig, tasks worker.TaskSource) *worker.Worker {
	if tasks == nil {
		tasks = f.queues
	}
	return worker.New(tasks, f.datasets, f.runner, nil, cfg)
}

func TestDatasetFinalizedAfterLastTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	datasetId := f.newDataset(t)
	ids := f.addTasks(t, &datasetId, "Статья 196. Общий срок исковой давности составляет три года.", "fail this chunk")

	n, err := f.worker(config.WorkerConfig{BatchSize: 5}, nil).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := f.queues.GetTask(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, ok.Status)
	assert.Contains(t, string(ok.Result), `"stage":"validated"`)

	failed, err := f.queues.GetTask(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, failed.Status)
	assert.Equal(t, "Processing error: generate: model unavailable", failed.Error)

	dataset, err := f.datasets.Get(ctx, datasetId, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, dataset.CurrentVersion, "finalizing creates a new version")
	assert.Equal(t, "completed", dataset.Metadata["status"])
	assert.Equal(t, "admin", dataset.Metadata["owner"])
	assert.EqualValues(t, 2, dataset.Metadata["total_tasks"])
	assert.EqualValues(t, 1, dataset.Metadata["completed_tasks"])
	assert.EqualValues(t, 1, dataset.Metadata["failed_tasks"])
	assert.Equal(t, "1/2", dataset.Metadata["success_rate"])
	assert.NotEmpty(t, dataset.Metadata["completed_at"])

	require.Len(t, dataset.Questions, 1)
	q := dataset.Questions[0]
	assert.Equal(t, "single-choice", q.QuestionType)
	assert.Equal(t, "Какой срок исковой давности?", q.Task)
	assert.Equal(t, map[string]string{"option_1": "1 год", "option_2": "3 года"}, q.Options)
	assert.Equal(t, "2", q.CorrectAnswer)
	assert.Equal(t, "1", q.Provocativeness)
	assert.Equal(t, "2", q.Difficulty)
	assert.Equal(t, "True", q.ValidationPassed)
	assert.Equal(t, "3/4", q.ValidationScore)
	assert.Equal(t, "3", q.ValidationThreshold)
	assert.Equal(t, `{"c1_task":[1,1],"c2_options":[1,0]}`, q.ValidationDetails)
	assert.Equal(t, "Статья 196. Общий срок исковой давности составляет три года.", q.SourceChunk)
}

func TestDatasetNotFinalizedWhileTasksPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	datasetId := f.newDataset(t)
	f.addTasks(t, &datasetId, "первый", "второй", "третий")

	n, err := f.worker(config.WorkerConfig{BatchSize: 2}, nil).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dataset, err := f.datasets.Get(ctx, datasetId, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "completed", dataset.Metadata["status"])
	assert.Len(t, dataset.Questions, 2)

	n, err = f.worker(config.WorkerConfig{BatchSize: 2}, nil).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dataset, err = f.datasets.Get(ctx, datasetId, 0)
	require.NoError(t, err)
	assert.Equal(t, "completed", dataset.Metadata["status"])
	assert.Equal(t, "3/3", dataset.Metadata["success_rate"])
	assert.Len(t, dataset.Questions, 3)
}

type losingSource struct {
	*queue.Store
	lose uuid.UUID
}

func (s *losingSource) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	if id == s.lose {
		return false, nil
	}
	return s.Store.Claim(ctx, id)
}

func TestLostClaimIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.addTasks(t, nil, "первый", "второй")

	_, err := f.worker(config.WorkerConfig{BatchSize: 5}, &losingSource{Store: f.queues, lose: ids[0]}).ProcessBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.runner.count())

	skipped, err := f.queues.GetTask(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, skipped.Status)

	done, err := f.queues.GetTask(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, database.TaskCompleted, done.Status)
}

func TestTaskFailuresAreIsolated(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		f := newFixture(t)
		ctx := context.Background()
		ids := f.addTasks(t, nil, "первый", "panic here", "fail here", "четвёртый", "пятый")

		_, err := f.worker(config.WorkerConfig{BatchSize: 5, Concurrency: concurrency}, nil).ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, f.runner.count())

		statuses := make([]string, len(ids))
		for i, id := range ids {
			task, err := f.queues.GetTask(ctx, id)
			require.NoError(t, err)
			statuses[i] = task.Status
		}
		assert.Equal(t, []string{
			database.TaskCompleted, database.TaskFailed, database.TaskFailed, database.TaskCompleted, database.TaskCompleted,
		}, statuses, "concurrency %d", concurrency)

		panicked, err := f.queues.GetTask(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, "Processing error: boom", panicked.Error)
	}
}

func TestUnknownQuestionTypeFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.queues.AddTasks(ctx, "laws", []api.TaskData{{ChunkText: "текст", QuestionType: "essay"}})
	require.NoError(t, err)

	_, err = f.worker(config.WorkerConfig{}, nil).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.runner.count())

	task, err := f.queues.GetTask(ctx, res.TaskIds[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, task.Status)
	assert.Equal(t, "Processing error: contract violation: unsupported question type 'essay'", task.Error)
}

func TestRunWakesOnNotification(t *testing.T) {
	f := newFixture(t)
	notifications := messaging.NewInMemoryQueue()
	w := worker.New(f.queues, f.datasets, f.runner, notifications, config.WorkerConfig{
		PollIntervalSeconds: 0,
		IdleBackoffSeconds:  3600,
		BatchSize:           5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	ids := f.addTasks(t, nil, "первый")
	require.NoError(t, notifications.PublishTasksReady(ctx, messaging.TasksReadyPayload{QueueName: "laws", TaskCount: 1}))

	assert.Eventually(t, func() bool {
		task, err := f.queues.GetTask(context.Background(), ids[0])
		return err == nil && task.Status == database.TaskCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

// blockingRunner holds every run until its context is cancelled.
type blockingRunner struct {
	fakeRunner
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, in pipeline.Input) (*pipeline.Run, error) {
	close(r.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestShutdownMidRunFailsClaimedTask(t *testing.T) {
	f := newFixture(t)
	datasetId := f.newDataset(t)
	ids := f.addTasks(t, &datasetId, "первый", "второй")

	runner := &blockingRunner{started: make(chan struct{})}
	w := worker.New(f.queues, f.datasets, runner, nil, config.WorkerConfig{BatchSize: 5, IdleBackoffSeconds: 3600})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start the task")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	bg := context.Background()
	interrupted, err := f.queues.GetTask(bg, ids[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, interrupted.Status)
	assert.Equal(t, "Processing error: context canceled", interrupted.Error)

	untouched, err := f.queues.GetTask(bg, ids[1])
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, untouched.Status, "no task is claimed after shutdown")

	retried, err := f.queues.RetryFailed(bg, "laws")
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	requeued, err := f.queues.GetTask(bg, ids[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskPending, requeued.Status)
}

func TestCancelledTasksExcludedFromTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	datasetId := f.newDataset(t)
	ids := f.addTasks(t, &datasetId, "первый", "второй")

	require.NoError(t, f.queues.SetStatus(ctx, ids[1], api.TaskStatusUpdate{Status: database.TaskCancelled}))

	_, err := f.worker(config.WorkerConfig{BatchSize: 5}, nil).ProcessBatch(ctx)
	require.NoError(t, err)

	dataset, err := f.datasets.Get(ctx, datasetId, 0)
	require.NoError(t, err)
	assert.Equal(t, "completed", dataset.Metadata["status"])
	assert.EqualValues(t, 1, dataset.Metadata["total_tasks"])
	assert.EqualValues(t, 1, dataset.Metadata["completed_tasks"])
	assert.EqualValues(t, 0, dataset.Metadata["failed_tasks"])
	assert.EqualValues(t, 1, dataset.Metadata["cancelled_tasks"])
	assert.Equal(t, "1/1", dataset.Metadata["success_rate"])
}

func TestCheckpointForgottenAfterCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.addTasks(t, nil, "первый", "fail here")

	_, err := f.worker(config.WorkerConfig{BatchSize: 5}, nil).ProcessBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{ids[0].String()}, f.runner.forgottenIds())
}

type rejectingSink struct {
	*datasets.Store
}

func (s *rejectingSink) AddQuestion(ctx context.Context, id uuid.UUID, question api.QuestionRecord) (int, error) {
	return 0, errors.New("POST /datasets/add-question returned 403: insufficient role")
}

func TestDatasetWriteFailureFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	datasetId := f.newDataset(t)
	ids := f.addTasks(t, &datasetId, "первый")

	w := worker.New(f.queues, &rejectingSink{Store: f.datasets}, f.runner, nil, config.WorkerConfig{BatchSize: 5})
	_, err := w.ProcessBatch(ctx)
	require.NoError(t, err)

	task, err := f.queues.GetTask(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, database.TaskFailed, task.Status)
	assert.Equal(t, "Processing error: error saving question to dataset: POST /datasets/add-question returned 403: insufficient role", task.Error)
	assert.Empty(t, f.runner.forgottenIds(), "checkpoint kept for the retry")

	dataset, err := f.datasets.Get(ctx, datasetId, 0)
	require.NoError(t, err)
	assert.Empty(t, dataset.Questions)
	assert.EqualValues(t, 0, dataset.Metadata["completed_tasks"])
	assert.EqualValues(t, 1, dataset.Metadata["failed_tasks"])
}
