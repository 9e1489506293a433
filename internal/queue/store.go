package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"qgen-backend/internal/database"
	"qgen-backend/pkg/api"
)

const (
	DefaultListLimit    = 100
	DefaultPendingLimit = 10
)

var (
	ErrQueueExists   = errors.New("queue with this name already exists")
	ErrQueueNotFound = errors.New("queue not found")
	ErrTaskNotFound  = database.ErrTaskNotFound
	ErrClaimLost     = errors.New("task is no longer pending")
	ErrInvalidStatus = errors.New("invalid task status")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateQueue(ctx context.Context, req api.CreateQueueRequest) (api.CreateQueueResponse, error) {
	now := time.Now().UTC()
	queue := database.Queue{
		Id:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var count int64
		if err := txn.Model(&database.Queue{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("error checking queue name: %w", err)
		}
		if count > 0 {
			return ErrQueueExists
		}
		if err := txn.Create(&queue).Error; err != nil {
			return fmt.Errorf("error creating queue: %w", err)
		}
		return nil
	})
	if err != nil {
		return api.CreateQueueResponse{}, err
	}

	return api.CreateQueueResponse{QueueId: queue.Id, Name: queue.Name, Message: "Queue created successfully"}, nil
}

func (s *Store) getQueue(txn *gorm.DB, name string) (database.Queue, error) {
	var queue database.Queue
	if err := txn.First(&queue, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return queue, ErrQueueNotFound
		}
		return queue, fmt.Errorf("error loading queue: %w", err)
	}
	return queue, nil
}

type statusCount struct {
	QueueId uuid.UUID
	Status  string
	Count   int
}

func (s *Store) ListQueues(ctx context.Context) ([]api.Queue, error) {
	txn := s.db.WithContext(ctx)

	var queues []database.Queue
	if err := txn.Order("created_at ASC").Find(&queues).Error; err != nil {
		return nil, fmt.Errorf("error listing queues: %w", err)
	}

	var counts []statusCount
	if err := txn.Model(&database.Task{}).
		Select("queue_id, status, count(*) as count").
		Group("queue_id, status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("error counting tasks: %w", err)
	}

	byQueue := make(map[uuid.UUID]*api.Queue, len(queues))
	out := make([]api.Queue, len(queues))
	for i, q := range queues {
		out[i] = api.Queue{
			Id:          q.Id,
			Name:        q.Name,
			Description: q.Description,
			Priority:    q.Priority,
			CreatedAt:   q.CreatedAt,
			UpdatedAt:   q.UpdatedAt,
		}
		byQueue[q.Id] = &out[i]
	}

	for _, c := range counts {
		q, ok := byQueue[c.QueueId]
		if !ok {
			continue
		}
		switch c.Status {
		case database.TaskPending:
			q.PendingCount = c.Count
		case database.TaskProcessing:
			q.ProcessingCount = c.Count
		case database.TaskCompleted:
			q.CompletedCount = c.Count
		case database.TaskFailed:
			q.FailedCount = c.Count
		case database.TaskCancelled:
			q.CancelledCount = c.Count
		}
		q.TaskCount += c.Count
	}

	return out, nil
}

func (s *Store) AddTasks(ctx context.Context, queueName string, tasks []api.TaskData) (api.AddTasksResponse, error) {
	ids := make([]uuid.UUID, 0, len(tasks))

	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		queue, err := s.getQueue(txn, queueName)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		// Distinct timestamps keep insertion order for created_at ordering.
		base := time.Now().UTC()
		rows := make([]database.Task, 0, len(tasks))
		for i, t := range tasks {
			priority := 1
			if t.Priority != nil {
				priority = *t.Priority
			}
			var datasetId uuid.NullUUID
			if t.DatasetId != nil {
				datasetId = uuid.NullUUID{UUID: *t.DatasetId, Valid: true}
			}
			created := base.Add(time.Duration(i) * time.Microsecond)

			row := database.Task{
				Id:                 uuid.New(),
				QueueId:            queue.Id,
				QueueName:          queue.Name,
				ChunkId:            t.ChunkId,
				ChunkText:          t.ChunkText,
				QuestionType:       t.QuestionType,
				SourceDocument:     t.SourceDocument,
				DatasetName:        t.DatasetName,
				DatasetId:          datasetId,
				DatasetDescription: t.DatasetDescription,
				Priority:           priority,
				Status:             database.TaskPending,
				CreatedAt:          created,
				UpdatedAt:          created,
			}
			rows = append(rows, row)
			ids = append(ids, row.Id)
		}

		if err := txn.CreateInBatches(&rows, 100).Error; err != nil {
			return fmt.Errorf("error adding tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return api.AddTasksResponse{}, err
	}

	return api.AddTasksResponse{
		QueueName:  queueName,
		TasksAdded: len(ids),
		TaskIds:    ids,
		Message:    fmt.Sprintf("Added %d tasks to queue '%s'", len(ids), queueName),
	}, nil
}

func convertTasks(rows []database.Task) []api.Task {
	out := make([]api.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, convertTask(row))
	}
	return out
}

func convertTask(row database.Task) api.Task {
	task := api.Task{
		Id:                 row.Id,
		QueueId:            row.QueueId,
		QueueName:          row.QueueName,
		ChunkId:            row.ChunkId,
		ChunkText:          row.ChunkText,
		QuestionType:       row.QuestionType,
		SourceDocument:     row.SourceDocument,
		DatasetName:        row.DatasetName,
		DatasetDescription: row.DatasetDescription,
		Priority:           row.Priority,
		Status:             row.Status,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.DatasetId.Valid {
		id := row.DatasetId.UUID
		task.DatasetId = &id
	}
	if len(row.Result) > 0 {
		task.Result = json.RawMessage(row.Result)
	}
	if row.Error.Valid {
		task.Error = row.Error.String
	}
	return task
}

// ListTasks returns tasks of a queue in creation order. An empty status matches all tasks.
func (s *Store) ListTasks(ctx context.Context, queueName, status string, limit int) ([]api.Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	txn := s.db.WithContext(ctx)

	queue, err := s.getQueue(txn, queueName)
	if err != nil {
		return nil, err
	}

	q := txn.Where("queue_id = ?", queue.Id)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var rows []database.Task
	if err := q.Order("created_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}
	return convertTasks(rows), nil
}

// PendingTasks returns pending tasks by descending priority, oldest first within a priority.
// An empty queueName matches every queue.
func (s *Store) PendingTasks(ctx context.Context, queueName string, limit int) ([]api.Task, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}

	q := s.db.WithContext(ctx).Where("status = ?", database.TaskPending)
	if queueName != "" {
		q = q.Where("queue_name = ?", queueName)
	}

	var rows []database.Task
	if err := q.Order("priority DESC").Order("created_at ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing pending tasks: %w", err)
	}
	return convertTasks(rows), nil
}

// Claim moves a task from pending to processing. It returns false when the task exists but
// is no longer pending, so concurrent workers never process the same task twice.
func (s *Store) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&database.Task{}).
		Where("id = ? AND status = ?", id, database.TaskPending).
		Updates(map[string]any{"status": database.TaskProcessing, "start_time": now, "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("error claiming task: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if result == nil {
		result = json.RawMessage("{}")
	}
	return database.UpdateTaskStatus(ctx, s.db, id, database.TaskCompleted, result, nil)
}

func (s *Store) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	return database.UpdateTaskStatus(ctx, s.db, id, database.TaskFailed, nil, &msg)
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, update api.TaskStatusUpdate) error {
	if !database.IsTaskStatus(update.Status) {
		return fmt.Errorf("%w: '%s'", ErrInvalidStatus, update.Status)
	}
	var result []byte
	if len(update.Result) > 0 && string(update.Result) != "null" {
		result = update.Result
	}
	return database.UpdateTaskStatus(ctx, s.db, id, update.Status, result, update.Error)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (api.Task, error) {
	var row database.Task
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return api.Task{}, ErrTaskNotFound
		}
		return api.Task{}, fmt.Errorf("error loading task: %w", err)
	}
	return convertTask(row), nil
}

// DatasetTasks returns every task feeding a dataset in creation order.
func (s *Store) DatasetTasks(ctx context.Context, datasetId uuid.UUID, status string) ([]api.Task, error) {
	q := s.db.WithContext(ctx).Where("dataset_id = ?", datasetId)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var rows []database.Task
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing dataset tasks: %w", err)
	}
	return convertTasks(rows), nil
}

func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		queue, err := s.getQueue(txn, name)
		if err != nil {
			return err
		}
		if err := txn.Delete(&database.Task{}, "queue_id = ?", queue.Id).Error; err != nil {
			return fmt.Errorf("error deleting queue tasks: %w", err)
		}
		if err := txn.Delete(&database.Queue{}, "id = ?", queue.Id).Error; err != nil {
			return fmt.Errorf("error deleting queue: %w", err)
		}
		return nil
	})
}

// RetryFailed resets every failed task of the queue to pending and clears its error.
func (s *Store) RetryFailed(ctx context.Context, name string) (int, error) {
	var retried int64
	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		queue, err := s.getQueue(txn, name)
		if err != nil {
			return err
		}

		res := txn.Model(&database.Task{}).
			Where("queue_id = ? AND status = ?", queue.Id, database.TaskFailed).
			Updates(map[string]any{
				"status":          database.TaskPending,
				"error":           sql.NullString{},
				"result":          datatypes.JSON(nil),
				"start_time":      sql.NullTime{},
				"completion_time": sql.NullTime{},
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("error resetting failed tasks: %w", res.Error)
		}
		retried = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	if retried > 0 {
		slog.Info("reset failed tasks", "queue", name, "count", retried)
	}
	return int(retried), nil
}
