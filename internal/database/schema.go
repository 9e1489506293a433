package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleExpert string = "expert"
	RoleUser   string = "user"
)

type User struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:128;not null;uniqueIndex"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"size:20;not null"`
	CreationTime time.Time
}

type Dataset struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"not null"`
	Description    string
	SourceDocument string
	CurrentVersion int `gorm:"not null;default:1"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Versions []DatasetVersion `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`
}

type DatasetVersion struct {
	DatasetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version   int       `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Questions datatypes.JSON `gorm:"type:jsonb;not null"` // [api.QuestionRecord, ...]
	Metadata  datatypes.JSON `gorm:"type:jsonb;not null"` // {"key": value}
}

const (
	TaskPending    string = "pending"
	TaskProcessing string = "processing"
	TaskCompleted  string = "completed"
	TaskFailed     string = "failed"
	TaskCancelled  string = "cancelled"
)

func IsTaskStatus(status string) bool {
	switch status {
	case TaskPending, TaskProcessing, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

type Queue struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"size:128;not null;uniqueIndex"`
	Description string
	Priority    int `gorm:"default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Tasks []Task `gorm:"foreignKey:QueueId;constraint:OnDelete:CASCADE"`
}

type Task struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	QueueId   uuid.UUID `gorm:"type:uuid;not null;index"`
	QueueName string    `gorm:"size:128;index"`

	ChunkId            int
	ChunkText          string `gorm:"not null"`
	QuestionType       string `gorm:"size:20;not null"`
	SourceDocument     string
	DatasetName        string
	DatasetId          uuid.NullUUID `gorm:"type:uuid;index"`
	DatasetDescription string

	Priority int    `gorm:"not null;default:1;index:idx_task_pending_order,priority:2"`
	Status   string `gorm:"size:20;not null;index:idx_task_pending_order,priority:1"`

	CreatedAt      time.Time `gorm:"index:idx_task_pending_order,priority:3"`
	UpdatedAt      time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Result datatypes.JSON `gorm:"type:jsonb"`
	Error  sql.NullString
}

type Checkpoint struct {
	RunId     string         `gorm:"size:255;primaryKey"`
	Stage     string         `gorm:"size:32;not null"`
	State     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}
