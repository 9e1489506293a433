package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"gorm.io/gorm"

	"qgen-backend/cmd"
	"qgen-backend/internal/client"
	"qgen-backend/internal/config"
	"qgen-backend/internal/database"
	"qgen-backend/internal/datasets"
	"qgen-backend/internal/messaging"
	"qgen-backend/internal/queue"
	"qgen-backend/internal/worker"
)

type WorkerConfig struct {
	// DatabaseURL is used for the task and dataset stores unless Client.BaseURL is set, and for
	// sql checkpoints in either case.
	DatabaseURL string `env:"DATABASE_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	Worker   config.WorkerConfig
	Client   config.ClientConfig
	LLM      config.LLMConfig
	Pipeline config.PipelineConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()
	cmd.SetupLogging()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	if cfg.DatabaseURL == "" && cfg.Client.BaseURL == "" {
		log.Fatalf("either DATABASE_URL or DATASET_API_URL must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
	}

	var (
		tasks    worker.TaskSource
		datasink worker.DatasetSink
	)
	if cfg.Client.BaseURL != "" {
		remote := client.New(cfg.Client, cfg.Worker.MaxRetries)
		if err := remote.Login(ctx); err != nil {
			log.Fatalf("Failed to log in to dataset API %s: %v", cfg.Client.BaseURL, err)
		}
		log.Printf("Using dataset API at %s", cfg.Client.BaseURL)
		tasks, datasink = remote, remote
	} else {
		tasks, datasink = queue.NewStore(db), datasets.NewStore(db)
	}

	pipe, closePipeline, err := cmd.NewPipeline(ctx, cfg.LLM, cfg.Pipeline, db)
	if err != nil {
		log.Fatalf("Failed to create question pipeline: %v", err)
	}
	defer closePipeline()

	var notifications messaging.Reciever
	if cfg.RabbitMQURL != "" {
		receiver, err := messaging.NewRabbitMQReceiver(ctx, cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer receiver.Close()
		notifications = receiver
	}

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	worker.New(tasks, datasink, pipe, notifications, cfg.Worker).Run(ctx)

	log.Println("Worker process stopped.")
}
