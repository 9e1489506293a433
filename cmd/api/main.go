package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"qgen-backend/cmd"
	"qgen-backend/internal/api"
	"qgen-backend/internal/auth"
	"qgen-backend/internal/config"
	"qgen-backend/internal/database"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/pipeline"
)

type APIConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string        `env:"RABBITMQ_URL"`
	APIPort        string        `env:"API_PORT" envDefault:"8000"`
	AllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10m"`
	EnableAgent    bool          `env:"ENABLE_AGENT" envDefault:"true"`

	Auth config.AuthConfig
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()
	cmd.SetupLogging()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	authService := auth.NewService(db, cfg.Auth)
	if err := authService.SeedUsers(ctx, cfg.Auth); err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}

	var publisher messaging.Publisher
	if cfg.RabbitMQURL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(ctx, cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		publisher = rabbit
	} else {
		log.Println("RABBITMQ_URL not set, workers rely on polling only")
		publisher = messaging.NewInMemoryQueue()
	}
	defer publisher.Close()

	var pipe *pipeline.Pipeline
	if cfg.EnableAgent {
		// The LLM settings are only required when the agent endpoints are served.
		var llmCfg config.LLMConfig
		if err := env.Parse(&llmCfg); err != nil {
			log.Fatalf("error parsing llm config: %v", err)
		}
		var pipeCfg config.PipelineConfig
		if err := env.Parse(&pipeCfg); err != nil {
			log.Fatalf("error parsing pipeline config: %v", err)
		}
		p, closePipeline, err := cmd.NewPipeline(ctx, llmCfg, pipeCfg, db)
		if err != nil {
			log.Fatalf("Failed to create question pipeline: %v", err)
		}
		defer closePipeline()
		pipe = p
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Agent requests run the whole pipeline inside the request.
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	apiHandler := api.NewBackendService(db, authService, publisher, pipe)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
