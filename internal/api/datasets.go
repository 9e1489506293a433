package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"qgen-backend/internal/datasets"
	"qgen-backend/pkg/api"
)

func datasetError(err error, action string, id uuid.UUID) error {
	switch {
	case errors.Is(err, datasets.ErrNotFound):
		return CodedErrorf(http.StatusNotFound, "Dataset not found")
	case errors.Is(err, datasets.ErrVersionNotFound):
		return CodedError(http.StatusNotFound, err)
	}
	slog.Error("dataset store error", "action", action, "dataset_id", id, "error", err)
	return CodedErrorf(http.StatusInternalServerError, "Error %s dataset", action)
}

func (s *BackendService) CreateDataset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateDatasetRequest](r)
	if err != nil {
		return nil, err
	}

	res, err := s.datasets.Create(r.Context(), req)
	if err != nil {
		return nil, datasetError(err, "creating", uuid.Nil)
	}

	slog.Info("created dataset", "dataset_id", res.DatasetId, "name", res.Name, "questions", len(req.Questions))
	return res, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	list, err := s.datasets.List(r.Context())
	if err != nil {
		return nil, datasetError(err, "listing", uuid.Nil)
	}
	return list, nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.DatasetParams](r)
	if err != nil {
		return nil, err
	}
	if params.Version < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "version must be positive")
	}

	dataset, err := s.datasets.Get(r.Context(), id, params.Version)
	if err != nil {
		return nil, datasetError(err, "getting", id)
	}
	return dataset, nil
}

func (s *BackendService) ListDatasetVersions(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	versions, err := s.datasets.ListVersions(r.Context(), id)
	if err != nil {
		return nil, datasetError(err, "listing versions of", id)
	}
	return versions, nil
}

func (s *BackendService) UpdateDataset(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateDatasetRequest](r)
	if err != nil {
		return nil, err
	}

	version, err := s.datasets.Update(r.Context(), id, req.Questions, req.Metadata)
	if err != nil {
		return nil, datasetError(err, "updating", id)
	}

	slog.Info("updated dataset", "dataset_id", id, "version", version)
	return api.UpdateDatasetResponse{DatasetId: id, NewVersion: version, Message: "Dataset updated successfully"}, nil
}

func (s *BackendService) DeleteDataset(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	if err := s.datasets.Delete(r.Context(), id); err != nil {
		return nil, datasetError(err, "deleting", id)
	}

	slog.Info("deleted dataset", "dataset_id", id)
	return api.MessageResponse{Message: "Dataset deleted successfully"}, nil
}

func (s *BackendService) AddQuestion(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.QuestionRecord](r)
	if err != nil {
		return nil, err
	}

	total, err := s.datasets.AddQuestion(r.Context(), id, req)
	if err != nil {
		return nil, datasetError(err, "adding question to", id)
	}

	return api.AddQuestionResponse{
		DatasetId:      id,
		QuestionAdded:  true,
		TotalQuestions: total,
		Message:        "Question added successfully",
	}, nil
}

func (s *BackendService) ListDatasetTasks(r *http.Request) (any, error) {
	id, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.TaskParams](r)
	if err != nil {
		return nil, err
	}

	tasks, err := s.queues.DatasetTasks(r.Context(), id, params.Status)
	if err != nil {
		slog.Error("error listing dataset tasks", "dataset_id", id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "Error getting dataset tasks")
	}
	return tasks, nil
}
