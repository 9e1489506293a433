package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLangChainErrorStatus(t *testing.T) {
	err := langChainError(errors.New("API returned unexpected status code: 400: invalid model"))
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 400, serr.Code)
	assert.False(t, IsRetryable(err))

	err = langChainError(fmt.Errorf("wrapped: %w", errors.New("API returned unexpected status code: 503")))
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 503, serr.Code)
	assert.True(t, IsRetryable(err))

	err = langChainError(errors.New("connection reset by peer"))
	assert.False(t, errors.As(err, &serr))
	assert.ErrorContains(t, err, "langchain generation failed")
}

func TestLangChainClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{"error": {"message": "model not found", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	model, err := NewLangChain("missing-model", server.URL, "key")
	require.NoError(t, err)

	client := NewClient(model, WithMaxRetries(3), WithInitialBackoff(time.Millisecond), WithTimeout(time.Second))
	_, err = client.Complete(context.Background(), Prompt{User: "Вопрос?"}, nil)
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var serr *StatusError
	require.True(t, errors.As(err, &serr), err)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.EqualValues(t, 1, hits.Load())

	status.Store(http.StatusServiceUnavailable)
	hits.Store(0)
	_, err = client.Complete(context.Background(), Prompt{User: "Вопрос?"}, nil)
	require.Error(t, err)
	assert.EqualValues(t, 4, hits.Load())
}
