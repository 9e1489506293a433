package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qgen-backend/internal/database"
)

// SQLCheckpoints stores run state in the checkpoints table.
type SQLCheckpoints struct {
	db *gorm.DB
}

func NewSQLCheckpoints(db *gorm.DB) *SQLCheckpoints {
	return &SQLCheckpoints{db: db}
}

func (s *SQLCheckpoints) Load(ctx context.Context, runId string) (*Run, error) {
	var cp database.Checkpoint
	if err := s.db.WithContext(ctx).First(&cp, "run_id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading checkpoint: %w", err)
	}
	return decodeRun(cp.State)
}

func (s *SQLCheckpoints) Save(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	cp := database.Checkpoint{
		RunId:     run.RunId,
		Stage:     string(run.Stage),
		State:     data,
		UpdatedAt: time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stage", "state", "updated_at"}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("error saving checkpoint: %w", err)
	}
	return nil
}

func (s *SQLCheckpoints) Delete(ctx context.Context, runId string) error {
	if err := s.db.WithContext(ctx).Delete(&database.Checkpoint{}, "run_id = ?", runId).Error; err != nil {
		return fmt.Errorf("error deleting checkpoint: %w", err)
	}
	return nil
}
