package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qgen-backend/internal/database"
	"qgen-backend/pkg/api"
)

var (
	ErrNotFound        = errors.New("dataset not found")
	ErrVersionNotFound = errors.New("dataset version not found")
)

// Store keeps datasets as an append-only list of versions. Every Update creates a new
// version; AddQuestion appends to the current one.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func encodeQuestions(questions []api.QuestionRecord) ([]byte, error) {
	if questions == nil {
		questions = []api.QuestionRecord{}
	}
	return json.Marshal(questions)
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return json.Marshal(metadata)
}

func decodeVersion(v database.DatasetVersion) ([]api.QuestionRecord, map[string]any, error) {
	questions := []api.QuestionRecord{}
	if len(v.Questions) > 0 {
		if err := json.Unmarshal(v.Questions, &questions); err != nil {
			return nil, nil, fmt.Errorf("error decoding questions of version %d: %w", v.Version, err)
		}
	}
	metadata := map[string]any{}
	if len(v.Metadata) > 0 {
		if err := json.Unmarshal(v.Metadata, &metadata); err != nil {
			return nil, nil, fmt.Errorf("error decoding metadata of version %d: %w", v.Version, err)
		}
	}
	return questions, metadata, nil
}

func (s *Store) Create(ctx context.Context, req api.CreateDatasetRequest) (api.CreateDatasetResponse, error) {
	questions, err := encodeQuestions(req.Questions)
	if err != nil {
		return api.CreateDatasetResponse{}, err
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return api.CreateDatasetResponse{}, err
	}

	now := time.Now().UTC()
	dataset := database.Dataset{
		Id:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		SourceDocument: req.SourceDocument,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Create(&dataset).Error; err != nil {
			return fmt.Errorf("error creating dataset: %w", err)
		}
		version := database.DatasetVersion{
			DatasetId: dataset.Id,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
			Questions: questions,
			Metadata:  metadata,
		}
		if err := txn.Create(&version).Error; err != nil {
			return fmt.Errorf("error creating dataset version: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("error creating dataset", "name", req.Name, "error", err)
		return api.CreateDatasetResponse{}, err
	}

	return api.CreateDatasetResponse{
		DatasetId: dataset.Id,
		Name:      dataset.Name,
		Version:   1,
		Message:   "Dataset created successfully",
	}, nil
}

func (s *Store) List(ctx context.Context) ([]api.DatasetSummary, error) {
	var datasets []database.Dataset
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("error listing datasets: %w", err)
	}

	out := make([]api.DatasetSummary, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, api.DatasetSummary{
			Id:             d.Id,
			Name:           d.Name,
			Description:    d.Description,
			CurrentVersion: d.CurrentVersion,
			CreatedAt:      d.CreatedAt,
			UpdatedAt:      d.UpdatedAt,
		})
	}
	return out, nil
}

func getDataset(txn *gorm.DB, id uuid.UUID, forUpdate bool) (database.Dataset, error) {
	var dataset database.Dataset
	q := txn
	if forUpdate && txn.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&dataset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dataset, ErrNotFound
		}
		return dataset, fmt.Errorf("error loading dataset: %w", err)
	}
	return dataset, nil
}

func getVersion(txn *gorm.DB, id uuid.UUID, version int) (database.DatasetVersion, error) {
	var v database.DatasetVersion
	if err := txn.First(&v, "dataset_id = ? AND version = ?", id, version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return v, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
		}
		return v, fmt.Errorf("error loading dataset version: %w", err)
	}
	return v, nil
}

// Get returns a snapshot of one version. Version 0 selects the current version.
func (s *Store) Get(ctx context.Context, id uuid.UUID, version int) (api.Dataset, error) {
	txn := s.db.WithContext(ctx)

	dataset, err := getDataset(txn, id, false)
	if err != nil {
		return api.Dataset{}, err
	}
	if version == 0 {
		version = dataset.CurrentVersion
	}

	v, err := getVersion(txn, id, version)
	if err != nil {
		return api.Dataset{}, err
	}
	questions, metadata, err := decodeVersion(v)
	if err != nil {
		return api.Dataset{}, err
	}

	return api.Dataset{
		DatasetId:        dataset.Id,
		Name:             dataset.Name,
		Description:      dataset.Description,
		SourceDocument:   dataset.SourceDocument,
		CurrentVersion:   dataset.CurrentVersion,
		RequestedVersion: version,
		CreatedAt:        dataset.CreatedAt,
		UpdatedAt:        dataset.UpdatedAt,
		Questions:        questions,
		Metadata:         metadata,
	}, nil
}

func (s *Store) ListVersions(ctx context.Context, id uuid.UUID) ([]api.DatasetVersion, error) {
	txn := s.db.WithContext(ctx)
	if _, err := getDataset(txn, id, false); err != nil {
		return nil, err
	}

	var versions []database.DatasetVersion
	if err := txn.Where("dataset_id = ?", id).Order("version ASC").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("error listing dataset versions: %w", err)
	}

	out := make([]api.DatasetVersion, 0, len(versions))
	for _, v := range versions {
		_, metadata, err := decodeVersion(v)
		if err != nil {
			return nil, err
		}
		out = append(out, api.DatasetVersion{Version: v.Version, CreatedAt: v.CreatedAt, Metadata: metadata})
	}
	return out, nil
}

// Update stores questions and metadata as a new version and makes it current.
func (s *Store) Update(ctx context.Context, id uuid.UUID, questions []api.QuestionRecord, metadata map[string]any) (int, error) {
	questionData, err := encodeQuestions(questions)
	if err != nil {
		return 0, err
	}
	metadataData, err := encodeMetadata(metadata)
	if err != nil {
		return 0, err
	}

	var newVersion int
	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		dataset, err := getDataset(txn, id, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		newVersion = dataset.CurrentVersion + 1
		version := database.DatasetVersion{
			DatasetId: id,
			Version:   newVersion,
			CreatedAt: now,
			UpdatedAt: now,
			Questions: questionData,
			Metadata:  metadataData,
		}
		if err := txn.Create(&version).Error; err != nil {
			return fmt.Errorf("error creating dataset version: %w", err)
		}

		res := txn.Model(&database.Dataset{}).Where("id = ?", id).
			Updates(map[string]any{"current_version": newVersion, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("error updating dataset: %w", res.Error)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// AddQuestion appends a question to the current version and returns the new question count.
func (s *Store) AddQuestion(ctx context.Context, id uuid.UUID, question api.QuestionRecord) (int, error) {
	var total int
	err := s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		dataset, err := getDataset(txn, id, true)
		if err != nil {
			return err
		}
		v, err := getVersion(txn, id, dataset.CurrentVersion)
		if err != nil {
			return err
		}
		questions, metadata, err := decodeVersion(v)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		questions = append(questions, question)
		total = len(questions)
		metadata["total_questions_generated"] = total
		metadata["last_updated"] = now.Format(time.RFC3339)

		questionData, err := encodeQuestions(questions)
		if err != nil {
			return err
		}
		metadataData, err := encodeMetadata(metadata)
		if err != nil {
			return err
		}

		res := txn.Model(&database.DatasetVersion{}).
			Where("dataset_id = ? AND version = ?", id, v.Version).
			Updates(map[string]any{
				"questions":  datatypes.JSON(questionData),
				"metadata":   datatypes.JSON(metadataData),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("error appending question: %w", res.Error)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if _, err := getDataset(txn, id, false); err != nil {
			return err
		}
		if err := txn.Delete(&database.DatasetVersion{}, "dataset_id = ?", id).Error; err != nil {
			return fmt.Errorf("error deleting dataset versions: %w", err)
		}
		if err := txn.Delete(&database.Dataset{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("error deleting dataset: %w", err)
		}
		return nil
	})
}
