package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline"
	"qgen-backend/pkg/api"
)

func (s *BackendService) requirePipeline() error {
	if s.pipeline == nil {
		return CodedErrorf(http.StatusServiceUnavailable, "question pipeline is not configured")
	}
	return nil
}

// ProcessPrompt runs the whole pipeline for one chunk in the request goroutine.
func (s *BackendService) ProcessPrompt(r *http.Request) (any, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.ProcessPromptRequest](r)
	if err != nil {
		return nil, err
	}

	kind, err := pipeline.ParseKind(req.QuestionType)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	runId := req.RunId
	if runId == "" && req.ChatId != 0 {
		runId = strconv.Itoa(req.ChatId)
	}
	chunk := req.SourceText
	if chunk == "" {
		chunk = req.Prompt
	}

	run, err := s.pipeline.Run(r.Context(), pipeline.Input{
		ChunkText: chunk,
		Kind:      kind,
		Source:    req.Source,
		RunId:     runId,
	})
	if err != nil {
		if llm.IsContract(err) {
			return nil, CodedError(http.StatusBadRequest, err)
		}
		slog.Error("error processing prompt", "run_id", runId, "error", err)
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	return api.ProcessPromptResponse{Status: "success", Result: map[string]any{"output": run}}, nil
}

// RephraseQuestions rewrites the "task" field of every question. Questions whose rephrase
// fails keep their original text.
func (s *BackendService) RephraseQuestions(r *http.Request) (any, error) {
	if err := s.requirePipeline(); err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.RephraseQuestionsRequest](r)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(req.Questions))
	for i, q := range req.Questions {
		texts[i], _ = q["task"].(string)
	}

	rephrased := s.pipeline.Rephraser().RephraseAll(r.Context(), texts)

	result := make([]map[string]any, len(req.Questions))
	for i, q := range req.Questions {
		if q == nil {
			q = make(map[string]any)
		}
		q["task"] = rephrased[i]
		result[i] = q
	}

	slog.Info("rephrased questions", "dataset", req.DatasetName, "count", len(result))
	return api.RephraseQuestionsResponse{Status: "success", Result: result}, nil
}
