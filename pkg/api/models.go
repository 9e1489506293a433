package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type QuestionRecord struct {
	ChunkId             int               `json:"chunk_id"`
	QuestionType        string            `json:"question_type" validate:"required"`
	Task                string            `json:"task"`
	Options             map[string]string `json:"options"`
	CorrectAnswer       string            `json:"correct_answer"`
	Provocativeness     string            `json:"provocativeness"`
	Difficulty          string            `json:"difficulty,omitempty"`
	ValidationPassed    string            `json:"validation_passed,omitempty"`
	ValidationScore     string            `json:"validation_score,omitempty"`
	ValidationThreshold string            `json:"validation_threshold,omitempty"`
	ValidationDetails   string            `json:"validation_details,omitempty"`
	SourceChunk         string            `json:"source_chunk,omitempty"`
}

type CreateDatasetRequest struct {
	Name           string           `json:"name" validate:"required"`
	Description    string           `json:"description"`
	SourceDocument string           `json:"source_document" validate:"required"`
	Questions      []QuestionRecord `json:"questions" validate:"dive"`
	Metadata       map[string]any   `json:"metadata"`
}

type CreateDatasetResponse struct {
	DatasetId uuid.UUID `json:"dataset_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Message   string    `json:"message"`
}

type DatasetSummary struct {
	Id             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CurrentVersion int       `json:"current_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Dataset struct {
	DatasetId        uuid.UUID        `json:"dataset_id"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	SourceDocument   string           `json:"source_document"`
	CurrentVersion   int              `json:"current_version"`
	RequestedVersion int              `json:"requested_version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Questions        []QuestionRecord `json:"questions"`
	Metadata         map[string]any   `json:"metadata"`
}

type DatasetVersion struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

type DatasetParams struct {
	Version int `schema:"version"`
}

type UpdateDatasetRequest struct {
	Questions []QuestionRecord `json:"questions" validate:"dive"`
	Metadata  map[string]any   `json:"metadata"`
}

type UpdateDatasetResponse struct {
	DatasetId  uuid.UUID `json:"dataset_id"`
	NewVersion int       `json:"new_version"`
	Message    string    `json:"message"`
}

type AddQuestionResponse struct {
	DatasetId      uuid.UUID `json:"dataset_id"`
	QuestionAdded  bool      `json:"question_added"`
	TotalQuestions int       `json:"total_questions"`
	Message        string    `json:"message"`
}

type CreateQueueRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

type CreateQueueResponse struct {
	QueueId uuid.UUID `json:"queue_id"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
}

type Queue struct {
	Id              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Priority        int       `json:"priority"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	TaskCount       int       `json:"task_count"`
	PendingCount    int       `json:"pending_count"`
	ProcessingCount int       `json:"processing_count"`
	CompletedCount  int       `json:"completed_count"`
	FailedCount     int       `json:"failed_count"`
	CancelledCount  int       `json:"cancelled_count"`
}

type DeleteQueueResponse struct {
	QueueName string `json:"queue_name"`
	Message   string `json:"message"`
}

type RetryFailedResponse struct {
	QueueName    string `json:"queue_name"`
	Message      string `json:"message"`
	TasksRetried int    `json:"tasks_retried"`
}

type TaskData struct {
	ChunkId            int        `json:"chunk_id"`
	ChunkText          string     `json:"chunk_text" validate:"required"`
	QuestionType       string     `json:"question_type" validate:"required"`
	SourceDocument     string     `json:"source_document"`
	DatasetName        string     `json:"dataset_name"`
	DatasetId          *uuid.UUID `json:"dataset_id,omitempty"`
	DatasetDescription string     `json:"dataset_description,omitempty"`
	Priority           *int       `json:"priority,omitempty"`
}

type AddTasksResponse struct {
	QueueName  string      `json:"queue_name"`
	TasksAdded int         `json:"tasks_added"`
	TaskIds    []uuid.UUID `json:"task_ids"`
	Message    string      `json:"message"`
}

type Task struct {
	Id                 uuid.UUID       `json:"id"`
	QueueId            uuid.UUID       `json:"queue_id"`
	QueueName          string          `json:"queue_name"`
	ChunkId            int             `json:"chunk_id"`
	ChunkText          string          `json:"chunk_text"`
	QuestionType       string          `json:"question_type"`
	SourceDocument     string          `json:"source_document"`
	DatasetName        string          `json:"dataset_name"`
	DatasetId          *uuid.UUID      `json:"dataset_id,omitempty"`
	DatasetDescription string          `json:"dataset_description,omitempty"`
	Priority           int             `json:"priority"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Result             json.RawMessage `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
}

type TaskParams struct {
	Status    string `schema:"status"`
	Limit     int    `schema:"limit"`
	QueueName string `schema:"queue_name"`
}

type TaskStatusUpdate struct {
	Status string          `json:"status" validate:"required,oneof=pending processing completed failed cancelled"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

type TaskStatusResponse struct {
	TaskId  uuid.UUID `json:"task_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
}

type ProcessPromptRequest struct {
	Prompt       string `json:"prompt" validate:"required"`
	QuestionType string `json:"question_type" validate:"required"`
	Source       string `json:"source"`
	ChatId       int    `json:"chat_id"`
	RunId        string `json:"run_id"`
	SourceText   string `json:"source_text,omitempty"`
}

type ProcessPromptResponse struct {
	Status string `json:"status"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// RephraseQuestionsRequest carries question objects; only their "task" field is rewritten,
// every other field is returned untouched.
type RephraseQuestionsRequest struct {
	DatasetName string           `json:"dataset_name"`
	Questions   []map[string]any `json:"questions"`
}

type RephraseQuestionsResponse struct {
	Status string           `json:"status"`
	Result []map[string]any `json:"result"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
