package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI talks to an OpenAI compatible chat completions endpoint and asks for JSON schema
// constrained replies when a schema is given.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(model, baseURL, apiKey string) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func toResponseFormat(s *Schema) openai.ChatCompletionNewParamsResponseFormatUnion {
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Schema:      s.Definition,
			},
		},
	}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	if req.User != "" {
		messages = append(messages, openai.UserMessage(req.User))
	}

	params := openai.ChatCompletionNewParams{
		Model:       o.model,
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Format != nil {
		params.ResponseFormat = toResponseFormat(req.Format)
	}

	res, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			slog.Error("openai error: chat completions failed", "status", apierr.StatusCode, "error", err)
			return "", &StatusError{Code: apierr.StatusCode, Err: err}
		}
		slog.Error("openai error: chat completions failed", "error", err)
		return "", fmt.Errorf("openai generation failed: %w", err)
	}

	if len(res.Choices) == 0 {
		return "", &permanentError{err: fmt.Errorf("openai returned no choices")}
	}

	return res.Choices[0].Message.Content, nil
}
