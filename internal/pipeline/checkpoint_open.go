package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/gorm"

	"qgen-backend/internal/config"
	"qgen-backend/internal/llm"
)

// OpenCheckpoints connects the backend selected by cfg.CheckpointBackend. The returned close
// function releases the connection and is never nil.
func OpenCheckpoints(ctx context.Context, cfg config.PipelineConfig, db *gorm.DB) (CheckpointStore, func(), error) {
	noop := func() {}

	switch cfg.CheckpointBackend {
	case "memory":
		return NewMemoryCheckpoints(), noop, nil

	case "", "sql":
		if db == nil {
			return nil, noop, fmt.Errorf("sql checkpoint backend requires a database")
		}
		return NewSQLCheckpoints(db), noop, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("error connecting to redis: %w", err)
		}
		slog.Info("using redis checkpoints", "addr", opts.Addr)
		return NewRedisCheckpoints(client, cfg.CheckpointTTL), func() { client.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, fmt.Errorf("error connecting to mongo: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, noop, fmt.Errorf("error pinging mongo: %w", err)
		}
		slog.Info("using mongo checkpoints", "database", cfg.MongoDatabase)
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				slog.Error("error disconnecting from mongo", "error", err)
			}
		}
		return NewMongoCheckpoints(client, cfg.MongoDatabase), closeFn, nil
	}

	return nil, noop, fmt.Errorf("unknown checkpoint backend '%s'", cfg.CheckpointBackend)
}

// NewFromConfig builds a pipeline from the pipeline config, loading the rubric file if one is
// configured.
func NewFromConfig(client *llm.Client, cfg config.PipelineConfig, checkpoints CheckpointStore) (*Pipeline, error) {
	rubric, err := LoadRubric(cfg.RubricFile)
	if err != nil {
		return nil, err
	}
	return New(client, rubric, checkpoints, Options{
		RunTimeout:       cfg.RunTimeout,
		ParallelScorers:  cfg.ParallelScorers,
		ParallelCriteria: cfg.ParallelCriteria,
		MaxActiveRuns:    cfg.MaxActiveRuns,
	})
}
