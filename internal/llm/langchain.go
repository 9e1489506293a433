package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// LangChain is a backend for OpenAI compatible servers that do not support response_format.
// The schema is appended to the system prompt as format instructions instead.
type LangChain struct {
	llm *lcopenai.LLM
}

func NewLangChain(model, baseURL, apiKey string) (*LangChain, error) {
	opts := []lcopenai.Option{lcopenai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, lcopenai.WithToken(apiKey))
	} else {
		// The client refuses to start without a token, local servers ignore it.
		opts = append(opts, lcopenai.WithToken("none"))
	}

	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating langchain openai client: %w", err)
	}
	return &LangChain{llm: client}, nil
}

func formatInstructions(s *Schema) (string, error) {
	schema, err := json.MarshalIndent(s.Definition, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error serializing schema %s: %w", s.Name, err)
	}
	return "Ответ должен быть JSON-объектом, строго соответствующим схеме:\n```json\n" + string(schema) + "\n```", nil
}

func (l *LangChain) Complete(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.Format != nil {
		instructions, err := formatInstructions(req.Format)
		if err != nil {
			return "", &permanentError{err: err}
		}
		if system != "" {
			system += "\n\n"
		}
		system += instructions
	}

	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	if req.User != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.User))
	}

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Format != nil {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := l.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		slog.Error("langchain error: generate content failed", "error", err)
		return "", langChainError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &permanentError{err: fmt.Errorf("langchain returned no choices")}
	}

	return resp.Choices[0].Content, nil
}

// langchaingo reports HTTP failures only in the error text, e.g.
// "API returned unexpected status code: 400: invalid model".
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// langChainError turns HTTP failures into a *StatusError so 4xx replies are not retried.
func langChainError(err error) error {
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &StatusError{Code: code, Err: fmt.Errorf("langchain generation failed: %w", err)}
	}
	return fmt.Errorf("langchain generation failed: %w", err)
}
