package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"qgen-backend/internal/config"
	"qgen-backend/internal/database"
	"qgen-backend/internal/datasets"
	"qgen-backend/internal/queue"
	"qgen-backend/pkg/api"
)

var ErrUnauthorized = errors.New("dataset api rejected credentials")

var ErrForbidden = errors.New("dataset api account lacks the expert role")

// Client talks to a remote dataset API. It satisfies the same task source and dataset sink
// contracts as the local stores, so a worker can run without database access.
type Client struct {
	http     *resty.Client
	username string
	password string

	mu    sync.Mutex
	token string
}

func New(cfg config.ClientConfig, maxRetries int) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch res.StatusCode() {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		})

	return &Client{http: rc, username: cfg.Username, password: cfg.Password}
}

func (c *Client) Login(ctx context.Context) error {
	var login api.LoginResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(api.LoginRequest{Username: c.username, Password: c.password}).
		SetResult(&login).
		Post("/auth/login")
	if err != nil {
		return fmt.Errorf("error logging in to dataset api: %w", err)
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if !res.IsSuccess() {
		return fmt.Errorf("dataset api login returned %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
	}

	c.mu.Lock()
	c.token = login.AccessToken
	c.mu.Unlock()

	slog.Info("logged in to dataset api", "username", c.username, "role", login.Role)
	if login.Role != database.RoleExpert {
		slog.Warn("dataset api account is not an expert, dataset writes will be rejected", "username", c.username, "role", login.Role)
	}
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

type request struct {
	method string
	path   string
	query  map[string]string
	body   any
	result any
}

// do sends an authenticated request, logging in again once when the token was rejected.
func (c *Client) do(ctx context.Context, req request) (*resty.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}

		r := c.http.R().SetContext(ctx).SetAuthToken(token)
		if req.query != nil {
			r.SetQueryParams(req.query)
		}
		if req.body != nil {
			r.SetBody(req.body)
		}
		if req.result != nil {
			r.SetResult(req.result)
		}

		res, err := r.Execute(req.method, req.path)
		if err != nil {
			return nil, fmt.Errorf("error calling %s %s: %w", req.method, req.path, err)
		}

		if res.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			slog.Info("dataset api token rejected, logging in again")
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
			continue
		}
		return res, nil
	}
}

func statusError(res *resty.Response, notFound error) error {
	switch res.StatusCode() {
	case http.StatusNotFound:
		if notFound != nil {
			return notFound
		}
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrForbidden, res.Request.Method, res.Request.URL)
	}
	return fmt.Errorf("%s %s returned %d: %s", res.Request.Method, res.Request.URL, res.StatusCode(), strings.TrimSpace(res.String()))
}

func (c *Client) PendingTasks(ctx context.Context, queueName string, limit int) ([]api.Task, error) {
	query := map[string]string{"limit": strconv.Itoa(limit)}
	if queueName != "" {
		query["queue_name"] = queueName
	}

	var tasks []api.Task
	res, err := c.do(ctx, request{method: resty.MethodGet, path: "/tasks/pending", query: query, result: &tasks})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, statusError(res, nil)
	}
	return tasks, nil
}

func (c *Client) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := c.do(ctx, request{method: resty.MethodPost, path: "/tasks/" + id.String() + "/claim"})
	if err != nil {
		return false, err
	}
	switch {
	case res.IsSuccess():
		return true, nil
	case res.StatusCode() == http.StatusConflict:
		return false, nil
	default:
		return false, statusError(res, queue.ErrTaskNotFound)
	}
}

func (c *Client) setStatus(ctx context.Context, id uuid.UUID, update api.TaskStatusUpdate) error {
	res, err := c.do(ctx, request{method: resty.MethodPut, path: "/tasks/" + id.String() + "/status", body: update})
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return statusError(res, queue.ErrTaskNotFound)
	}
	return nil
}

func (c *Client) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return c.setStatus(ctx, id, api.TaskStatusUpdate{Status: database.TaskCompleted, Result: result})
}

func (c *Client) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	return c.setStatus(ctx, id, api.TaskStatusUpdate{Status: database.TaskFailed, Error: &msg})
}

func (c *Client) DatasetTasks(ctx context.Context, datasetId uuid.UUID, status string) ([]api.Task, error) {
	var query map[string]string
	if status != "" {
		query = map[string]string{"status": status}
	}

	var tasks []api.Task
	res, err := c.do(ctx, request{method: resty.MethodGet, path: "/datasets/" + datasetId.String() + "/tasks", query: query, result: &tasks})
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, statusError(res, datasets.ErrNotFound)
	}
	return tasks, nil
}

func (c *Client) AddQuestion(ctx context.Context, id uuid.UUID, question api.QuestionRecord) (int, error) {
	var added api.AddQuestionResponse
	res, err := c.do(ctx, request{method: resty.MethodPost, path: "/datasets/" + id.String() + "/add-question", body: question, result: &added})
	if err != nil {
		return 0, err
	}
	if !res.IsSuccess() {
		return 0, statusError(res, datasets.ErrNotFound)
	}
	return added.TotalQuestions, nil
}

func (c *Client) Get(ctx context.Context, id uuid.UUID, version int) (api.Dataset, error) {
	var query map[string]string
	if version > 0 {
		query = map[string]string{"version": strconv.Itoa(version)}
	}

	var dataset api.Dataset
	res, err := c.do(ctx, request{method: resty.MethodGet, path: "/datasets/" + id.String(), query: query, result: &dataset})
	if err != nil {
		return api.Dataset{}, err
	}
	if !res.IsSuccess() {
		if version > 0 && res.StatusCode() == http.StatusNotFound {
			return api.Dataset{}, statusError(res, datasets.ErrVersionNotFound)
		}
		return api.Dataset{}, statusError(res, datasets.ErrNotFound)
	}
	return dataset, nil
}

func (c *Client) Update(ctx context.Context, id uuid.UUID, questions []api.QuestionRecord, metadata map[string]any) (int, error) {
	var updated api.UpdateDatasetResponse
	body := api.UpdateDatasetRequest{Questions: questions, Metadata: metadata}
	res, err := c.do(ctx, request{method: resty.MethodPut, path: "/datasets/" + id.String(), body: body, result: &updated})
	if err != nil {
		return 0, err
	}
	if !res.IsSuccess() {
		return 0, statusError(res, datasets.ErrNotFound)
	}
	return updated.NewVersion, nil
}
