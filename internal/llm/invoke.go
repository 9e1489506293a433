package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Invoke runs a structured call: the reply must decode into T and pass T's validate tags.
// Decoding or validation failures are returned as *SchemaParseError and are never retried.
func Invoke[T any](ctx context.Context, c *Client, prompt Prompt, schema *Schema) (T, error) {
	var out T

	raw, err := c.Complete(ctx, prompt, schema)
	if err != nil {
		return out, err
	}

	name := "reply"
	if schema != nil {
		name = schema.Name
	}
	if err := Decode(raw, &out); err != nil {
		return out, &SchemaParseError{Schema: name, Raw: raw, Err: err}
	}
	return out, nil
}

// InvokeText runs an unstructured call and returns the reply as is.
func InvokeText(ctx context.Context, c *Client, prompt Prompt) (string, error) {
	return c.Complete(ctx, prompt, nil)
}

// Decode parses a model reply into out. Markdown code fences and text around the outermost
// JSON object are ignored.
func Decode(raw string, out any) error {
	body := extractJSON(raw)
	if body == "" {
		return fmt.Errorf("reply contains no json object")
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	if reflect.Indirect(reflect.ValueOf(out)).Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("invalid fields: %w", err)
	}
	return nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
