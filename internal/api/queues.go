package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qgen-backend/internal/database"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/queue"
	"qgen-backend/pkg/api"
)

func queueError(err error, action string) error {
	switch {
	case errors.Is(err, queue.ErrQueueExists):
		return CodedErrorf(http.StatusBadRequest, "Queue with this name already exists")
	case errors.Is(err, queue.ErrQueueNotFound):
		return CodedErrorf(http.StatusNotFound, "Queue not found")
	case errors.Is(err, queue.ErrTaskNotFound):
		return CodedErrorf(http.StatusNotFound, "Task not found")
	case errors.Is(err, queue.ErrInvalidStatus):
		return CodedError(http.StatusBadRequest, err)
	}
	slog.Error("queue store error", "action", action, "error", err)
	return CodedErrorf(http.StatusInternalServerError, "Error %s", action)
}

func (s *BackendService) CreateQueue(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateQueueRequest](r)
	if err != nil {
		return nil, err
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	res, err := s.queues.CreateQueue(r.Context(), req)
	if err != nil {
		return nil, queueError(err, "creating queue")
	}

	slog.Info("created queue", "queue", res.Name, "queue_id", res.QueueId)
	return res, nil
}

func (s *BackendService) ListQueues(r *http.Request) (any, error) {
	queues, err := s.queues.ListQueues(r.Context())
	if err != nil {
		return nil, queueError(err, "listing queues")
	}
	return queues, nil
}

func (s *BackendService) AddTasks(r *http.Request) (any, error) {
	name := chi.URLParam(r, "queue_name")

	tasks, err := ParseRequest[[]api.TaskData](r)
	if err != nil {
		return nil, err
	}

	res, err := s.queues.AddTasks(r.Context(), name, tasks)
	if err != nil {
		return nil, queueError(err, "adding tasks")
	}

	slog.Info("added tasks to queue", "queue", name, "count", res.TasksAdded)
	if res.TasksAdded > 0 && s.publisher != nil {
		payload := messaging.TasksReadyPayload{QueueName: name, TaskCount: res.TasksAdded}
		if len(tasks) > 0 {
			payload.DatasetId = tasks[0].DatasetId
		}
		// Workers poll regardless, a lost notification only delays them.
		if err := s.publisher.PublishTasksReady(r.Context(), payload); err != nil {
			slog.Warn("error publishing task notification", "queue", name, "error", err)
		}
	}
	return res, nil
}

func (s *BackendService) ListQueueTasks(r *http.Request) (any, error) {
	name := chi.URLParam(r, "queue_name")

	params, err := ParseRequestQueryParams[api.TaskParams](r)
	if err != nil {
		return nil, err
	}

	tasks, err := s.queues.ListTasks(r.Context(), name, params.Status, params.Limit)
	if err != nil {
		return nil, queueError(err, "getting tasks")
	}
	return tasks, nil
}

func (s *BackendService) DeleteQueue(r *http.Request) (any, error) {
	name := chi.URLParam(r, "queue_name")

	if err := s.queues.DeleteQueue(r.Context(), name); err != nil {
		return nil, queueError(err, "deleting queue")
	}

	slog.Info("deleted queue", "queue", name)
	return api.DeleteQueueResponse{QueueName: name, Message: "Queue and all its tasks deleted successfully"}, nil
}

func (s *BackendService) RetryFailed(r *http.Request) (any, error) {
	name := chi.URLParam(r, "queue_name")

	retried, err := s.queues.RetryFailed(r.Context(), name)
	if err != nil {
		return nil, queueError(err, "retrying failed tasks")
	}

	if retried == 0 {
		return api.RetryFailedResponse{QueueName: name, Message: "No failed tasks found to retry"}, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTasksReady(r.Context(), messaging.TasksReadyPayload{QueueName: name, TaskCount: retried}); err != nil {
			slog.Warn("error publishing task notification", "queue", name, "error", err)
		}
	}

	return api.RetryFailedResponse{
		QueueName:    name,
		Message:      fmt.Sprintf("Successfully reset %d failed tasks to pending", retried),
		TasksRetried: retried,
	}, nil
}

func (s *BackendService) PendingTasks(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.TaskParams](r)
	if err != nil {
		return nil, err
	}

	tasks, err := s.queues.PendingTasks(r.Context(), params.QueueName, params.Limit)
	if err != nil {
		return nil, queueError(err, "getting pending tasks")
	}
	return tasks, nil
}

func (s *BackendService) GetTask(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	task, err := s.queues.GetTask(r.Context(), id)
	if err != nil {
		return nil, queueError(err, "getting task")
	}
	return task, nil
}

func (s *BackendService) ClaimTask(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	claimed, err := s.queues.Claim(r.Context(), id)
	if err != nil {
		return nil, queueError(err, "claiming task")
	}
	if !claimed {
		return nil, CodedError(http.StatusConflict, queue.ErrClaimLost)
	}

	return api.TaskStatusResponse{TaskId: id, Status: database.TaskProcessing, Message: "Task claimed successfully"}, nil
}

func (s *BackendService) UpdateTaskStatus(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "task_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TaskStatusUpdate](r)
	if err != nil {
		return nil, err
	}

	if err := s.queues.SetStatus(r.Context(), id, req); err != nil {
		return nil, queueError(err, "updating task status")
	}

	return api.TaskStatusResponse{TaskId: id, Status: req.Status, Message: "Task status updated successfully"}, nil
}
