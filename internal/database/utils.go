package database

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTaskNotFound = errors.New("task not found")

func IsTerminalTaskStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed || status == TaskCancelled
}

// UpdateTaskStatus sets the status of a task. A nil result or errMsg leaves the stored value
// unchanged. Terminal statuses stamp the completion time, processing stamps the start time.
func UpdateTaskStatus(ctx context.Context, txn *gorm.DB, taskId uuid.UUID, status string, result []byte, errMsg *string) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": status, "updated_at": now}
	switch {
	case IsTerminalTaskStatus(status):
		updates["completion_time"] = now
	case status == TaskProcessing:
		updates["start_time"] = now
	}
	if result != nil {
		updates["result"] = datatypes.JSON(result)
	}
	if errMsg != nil {
		updates["error"] = sql.NullString{String: *errMsg, Valid: true}
	}

	res := txn.WithContext(ctx).Model(&Task{}).Where("id = ?", taskId).Updates(updates)
	if res.Error != nil {
		slog.Error("error updating task status", "task_id", taskId, "status", status, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
