package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"qgen-backend/internal/auth"
	"qgen-backend/internal/database"
	"qgen-backend/internal/datasets"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/pipeline"
	"qgen-backend/internal/queue"
	"qgen-backend/pkg/api"
)

type BackendService struct {
	datasets  *datasets.Store
	queues    *queue.Store
	auth      *auth.Service
	publisher messaging.Publisher
	pipeline  *pipeline.Pipeline
}

// NewBackendService wires the dataset and queue API. publisher and pipe may be nil: task
// notifications are then skipped and the agent endpoints answer 503.
func NewBackendService(db *gorm.DB, authService *auth.Service, publisher messaging.Publisher, pipe *pipeline.Pipeline) *BackendService {
	return &BackendService{
		datasets:  datasets.NewStore(db),
		queues:    queue.NewStore(db),
		auth:      authService,
		publisher: publisher,
		pipeline:  pipe,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(s.Health))
	r.Post("/auth/login", RestHandler(s.Login))

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		expert := auth.RequireRole(database.RoleExpert)

		r.Route("/datasets", func(r chi.Router) {
			r.With(expert).Post("/", RestHandler(s.CreateDataset))
			r.Get("/", RestHandler(s.ListDatasets))
			r.Route("/{dataset_id}", func(r chi.Router) {
				r.Get("/", RestHandler(s.GetDataset))
				r.Get("/versions", RestHandler(s.ListDatasetVersions))
				r.Get("/tasks", RestHandler(s.ListDatasetTasks))
				r.With(expert).Put("/", RestHandler(s.UpdateDataset))
				r.With(expert).Delete("/", RestHandler(s.DeleteDataset))
				r.With(expert).Post("/add-question", RestHandler(s.AddQuestion))
			})
		})

		r.Route("/queues", func(r chi.Router) {
			r.Post("/", RestHandler(s.CreateQueue))
			r.Get("/", RestHandler(s.ListQueues))
			r.Route("/{queue_name}", func(r chi.Router) {
				r.Post("/tasks", RestHandler(s.AddTasks))
				r.Get("/tasks", RestHandler(s.ListQueueTasks))
				r.With(expert).Delete("/", RestHandler(s.DeleteQueue))
				r.With(expert).Post("/retry-failed", RestHandler(s.RetryFailed))
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/pending", RestHandler(s.PendingTasks))
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", RestHandler(s.GetTask))
				r.Post("/claim", RestHandler(s.ClaimTask))
				r.Put("/status", RestHandler(s.UpdateTaskStatus))
			})
		})

		r.Route("/agent", func(r chi.Router) {
			r.Post("/process_prompt", RestHandler(s.ProcessPrompt))
			r.Post("/rephrase_questions", RestHandler(s.RephraseQuestions))
		})
	})
}

func (s *BackendService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{Status: "healthy"}, nil
}

func (s *BackendService) Login(r *http.Request) (any, error) {
	req, err := ParseRequest[api.LoginRequest](r)
	if err != nil {
		return nil, err
	}

	res, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, CodedErrorf(http.StatusUnauthorized, "Bad credentials")
		}
		slog.Error("error logging in", "username", req.Username, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error logging in")
	}

	slog.Info("user logged in", "username", req.Username, "role", res.Role)
	return res, nil
}
