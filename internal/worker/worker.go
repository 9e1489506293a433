package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"qgen-backend/internal/config"
	"qgen-backend/internal/core/utils"
	"qgen-backend/internal/database"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/pipeline"
	"qgen-backend/pkg/api"
)

type TaskSource interface {
	PendingTasks(ctx context.Context, queueName string, limit int) ([]api.Task, error)

	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	Fail(ctx context.Context, id uuid.UUID, msg string) error

	DatasetTasks(ctx context.Context, datasetId uuid.UUID, status string) ([]api.Task, error)
}

type DatasetSink interface {
	AddQuestion(ctx context.Context, id uuid.UUID, question api.QuestionRecord) (int, error)

	Get(ctx context.Context, id uuid.UUID, version int) (api.Dataset, error)

	Update(ctx context.Context, id uuid.UUID, questions []api.QuestionRecord, metadata map[string]any) (int, error)
}

type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Run, error)

	// Forget drops the checkpoint of a run whose task is completed.
	Forget(ctx context.Context, runId string) error
}

// StatusTimeout bounds the status and dataset writes that follow a run. They are detached
// from the worker context so that a shutdown never leaves a claimed task in processing.
const StatusTimeout = 30 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), StatusTimeout)
}

type Worker struct {
	tasks         TaskSource
	datasets      DatasetSink
	runner        Runner
	notifications messaging.Reciever
	cfg           config.WorkerConfig
}

// New creates a worker. notifications may be nil, in which case idle waits always run for
// the full backoff.
func New(tasks TaskSource, datasets DatasetSink, runner Runner, notifications messaging.Reciever, cfg config.WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{tasks: tasks, datasets: datasets, runner: runner, notifications: notifications, cfg: cfg}
}

// Run polls for tasks until ctx is cancelled. Errors and panics of one iteration are logged
// and the loop continues.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("starting task worker", "poll_interval", w.cfg.PollInterval(), "idle_backoff", w.cfg.IdleBackoff(),
		"batch_size", w.cfg.BatchSize, "concurrency", w.cfg.Concurrency, "queue", w.cfg.QueueName)

	for {
		processed, err := w.safeBatch(ctx)
		if ctx.Err() != nil {
			slog.Info("task worker stopped")
			return
		}
		if err != nil {
			slog.Error("error in worker loop", "error", err)
		}

		delay := w.cfg.PollInterval()
		idle := processed == 0 && err == nil
		if idle {
			slog.Debug("no pending tasks found")
			delay += w.cfg.IdleBackoff()
		}

		if !w.wait(ctx, delay, idle) {
			slog.Info("task worker stopped")
			return
		}
	}
}

// wait sleeps for delay. An idle wait ends early when a task-ready notification arrives.
func (w *Worker) wait(ctx context.Context, delay time.Duration, idle bool) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var notifications <-chan messaging.Task
	if idle && w.notifications != nil {
		notifications = w.notifications.Tasks()
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case task, ok := <-notifications:
		if !ok {
			slog.Warn("notification channel closed, falling back to polling")
			w.notifications = nil
			return true
		}
		if payload, err := messaging.DecodeTasksReady(task); err == nil {
			slog.Info("woken by task notification", "queue", payload.QueueName, "tasks", payload.TaskCount)
		} else {
			slog.Warn("ignoring malformed notification", "error", err)
		}
		if err := task.Ack(); err != nil {
			slog.Warn("error acknowledging notification", "error", err)
		}
		return true
	}
}

func (w *Worker) safeBatch(ctx context.Context) (processed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in worker iteration", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in worker iteration: %v", r)
		}
	}()
	return w.ProcessBatch(ctx)
}

// ProcessBatch handles up to BatchSize pending tasks and finalizes every dataset the batch
// touched. It returns the number of tasks fetched.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	tasks, err := w.tasks.PendingTasks(ctx, w.cfg.QueueName, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("error getting pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	slog.Info("processing batch", "tasks", len(tasks))

	touched := make(map[uuid.UUID]string)
	var order []uuid.UUID
	for _, task := range tasks {
		if task.DatasetId == nil {
			continue
		}
		if _, ok := touched[*task.DatasetId]; !ok {
			order = append(order, *task.DatasetId)
		}
		touched[*task.DatasetId] = task.DatasetName
	}

	if w.cfg.Concurrency <= 1 {
		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			if err := w.processTask(ctx, task); err != nil {
				slog.Error("error processing task", "task_id", task.Id, "error", err)
			}
		}
	} else {
		queue := make(chan api.Task, len(tasks))
		for _, task := range tasks {
			queue <- task
		}
		close(queue)

		completed := make(chan utils.CompletedTask[uuid.UUID], len(tasks))
		utils.RunInPool(ctx, func(ctx context.Context, task api.Task) (uuid.UUID, error) {
			if err := w.processTask(ctx, task); err != nil {
				return task.Id, fmt.Errorf("task %s: %w", task.Id, err)
			}
			return task.Id, nil
		}, queue, completed, w.cfg.Concurrency)

		for res := range completed {
			if res.Error != nil {
				slog.Error("error processing task", "error", res.Error)
			}
		}
	}

	checkCtx, cancel := detached(ctx)
	defer cancel()
	for _, datasetId := range order {
		if _, err := w.CheckDatasetCompletion(checkCtx, datasetId, touched[datasetId]); err != nil {
			slog.Error("error checking dataset completion", "dataset_id", datasetId, "error", err)
		}
	}

	return len(tasks), nil
}

// processTask claims and runs one task. Pipeline failures mark the task failed and are not
// returned; the returned error means the task status could not be recorded. Once claimed,
// the task always ends completed or failed, even when ctx is cancelled mid-run.
func (w *Worker) processTask(ctx context.Context, task api.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic processing task", "task_id", task.Id, "panic", r, "stack", string(debug.Stack()))
			err = w.fail(ctx, task.Id, fmt.Sprintf("Processing error: %v", r))
		}
	}()

	claimed, err := w.tasks.Claim(ctx, task.Id)
	if err != nil {
		return fmt.Errorf("error claiming task: %w", err)
	}
	if !claimed {
		slog.Info("task claimed by another worker, skipping", "task_id", task.Id)
		return nil
	}

	slog.Info("processing task", "task_id", task.Id, "question_type", task.QuestionType, "chunk_id", task.ChunkId, "dataset_id", task.DatasetId)

	run, err := w.runTask(ctx, task)
	if err != nil {
		slog.Error("task failed", "task_id", task.Id, "error", err)
		return w.fail(ctx, task.Id, "Processing error: "+err.Error())
	}

	statusCtx, cancel := detached(ctx)
	defer cancel()

	if task.DatasetId != nil {
		record := QuestionRecord(task, run)
		total, err := w.datasets.AddQuestion(statusCtx, *task.DatasetId, record)
		if err != nil {
			// The run stays checkpointed, so a retry only repeats the dataset write.
			slog.Error("error saving question to dataset", "task_id", task.Id, "dataset_id", *task.DatasetId, "error", err)
			return w.fail(ctx, task.Id, "Processing error: error saving question to dataset: "+err.Error())
		}
		slog.Info("question saved to dataset", "dataset_id", *task.DatasetId, "total_questions", total)
	}

	result, err := json.Marshal(run)
	if err != nil {
		return w.fail(ctx, task.Id, "Processing error: error encoding run result: "+err.Error())
	}
	if err := w.tasks.Complete(statusCtx, task.Id, result); err != nil {
		return fmt.Errorf("error marking task completed: %w", err)
	}

	if err := w.runner.Forget(statusCtx, task.Id.String()); err != nil {
		slog.Warn("error deleting run checkpoint", "task_id", task.Id, "error", err)
	}

	slog.Info("task completed", "task_id", task.Id, "passed", run.ValidationResult != nil && run.ValidationResult.Passed)
	return nil
}

func (w *Worker) fail(ctx context.Context, id uuid.UUID, msg string) error {
	statusCtx, cancel := detached(ctx)
	defer cancel()
	if err := w.tasks.Fail(statusCtx, id, msg); err != nil {
		return fmt.Errorf("error marking task failed: %w", err)
	}
	return nil
}

func (w *Worker) runTask(ctx context.Context, task api.Task) (*pipeline.Run, error) {
	kind, err := pipeline.ParseKind(task.QuestionType)
	if err != nil {
		return nil, err
	}
	return w.runner.Run(ctx, pipeline.Input{
		ChunkText: task.ChunkText,
		Kind:      kind,
		Source:    task.SourceDocument,
		RunId:     task.Id.String(),
	})
}

// CheckDatasetCompletion finalizes the dataset once none of its tasks are pending or
// processing. Cancelled tasks are reported separately and are not part of total_tasks, so
// completed_tasks + failed_tasks == total_tasks. It reports whether the dataset was finalized.
func (w *Worker) CheckDatasetCompletion(ctx context.Context, datasetId uuid.UUID, name string) (bool, error) {
	tasks, err := w.tasks.DatasetTasks(ctx, datasetId, "")
	if err != nil {
		return false, fmt.Errorf("error fetching dataset tasks: %w", err)
	}

	var c taskCounts
	for _, task := range tasks {
		switch task.Status {
		case database.TaskCompleted:
			c.completed++
		case database.TaskFailed:
			c.failed++
		case database.TaskCancelled:
			c.cancelled++
		case database.TaskPending, database.TaskProcessing:
			c.open++
		}
	}

	slog.Info("dataset status", "dataset", name, "dataset_id", datasetId, "total", c.total(),
		"completed", c.completed, "failed", c.failed, "cancelled", c.cancelled, "open", c.open)

	if c.open > 0 || c.total() == 0 {
		return false, nil
	}

	if err := w.finalizeDataset(ctx, datasetId, c); err != nil {
		return false, err
	}
	slog.Info("dataset finalized", "dataset", name, "dataset_id", datasetId)
	return true, nil
}

type taskCounts struct {
	completed, failed, cancelled, open int
}

func (c taskCounts) total() int {
	return c.completed + c.failed
}

func (w *Worker) finalizeDataset(ctx context.Context, datasetId uuid.UUID, c taskCounts) error {
	dataset, err := w.datasets.Get(ctx, datasetId, 0)
	if err != nil {
		return fmt.Errorf("error fetching dataset for finalization: %w", err)
	}

	metadata := dataset.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["status"] = "completed"
	metadata["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	metadata["total_tasks"] = c.total()
	metadata["completed_tasks"] = c.completed
	metadata["failed_tasks"] = c.failed
	metadata["cancelled_tasks"] = c.cancelled
	metadata["success_rate"] = fmt.Sprintf("%d/%d", c.completed, c.total())

	if _, err := w.datasets.Update(ctx, datasetId, dataset.Questions, metadata); err != nil {
		return fmt.Errorf("error finalizing dataset: %w", err)
	}
	return nil
}

func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// QuestionRecord flattens a finished run into the dataset row format.
func QuestionRecord(task api.Task, run *pipeline.Run) api.QuestionRecord {
	record := api.QuestionRecord{
		ChunkId:      task.ChunkId,
		QuestionType: task.QuestionType,
		Options:      map[string]string{},
		SourceChunk:  task.ChunkText,
	}

	if q := run.GeneratedQuestion; q != nil {
		record.Task = q.Task
		record.Options = q.Options()
		record.CorrectAnswer = string(q.Outputs)
	}
	if s := run.SensitivityScore; s != nil {
		record.Provocativeness = strconv.Itoa(s.Level)
	}
	if d := run.DifficultyScore; d != nil {
		record.Difficulty = strconv.Itoa(d.Level)
	}

	if v := run.ValidationResult; v != nil {
		record.ValidationPassed = titleBool(v.Passed)
		record.ValidationScore = fmt.Sprintf("%d/%d", v.Total, v.MaxTotal)
		record.ValidationThreshold = strconv.Itoa(v.Threshold)
		record.ValidationDetails = v.ByBlock.String()
	} else {
		record.ValidationPassed = titleBool(false)
		record.ValidationScore = "N/A/N/A"
		record.ValidationThreshold = "N/A"
	}
	return record
}
