package config

import (
	"fmt"
	"time"
)

// LLMConfig selects and tunes the chat model used by every pipeline stage.
type LLMConfig struct {
	Provider   string        `env:"LLM_PROVIDER" envDefault:"openai"`
	Model      string        `env:"LLM_MODEL_NAME,notEmpty,required"`
	BaseURL    string        `env:"LLM_URL_MODEL"`
	APIKey     string        `env:"LLM_API_KEY"`
	Timeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	MaxRetries int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
}

type PipelineConfig struct {
	RunTimeout       time.Duration `env:"PIPELINE_RUN_TIMEOUT" envDefault:"5m"`
	ParallelScorers  bool          `env:"PIPELINE_PARALLEL_SCORERS" envDefault:"false"`
	ParallelCriteria bool          `env:"PIPELINE_PARALLEL_CRITERIA" envDefault:"false"`
	MaxActiveRuns    int           `env:"PIPELINE_MAX_ACTIVE_RUNS" envDefault:"1024"`
	RubricFile       string        `env:"RUBRIC_FILE"`

	CheckpointBackend string        `env:"CHECKPOINT_BACKEND" envDefault:"sql"`
	CheckpointTTL     time.Duration `env:"CHECKPOINT_TTL" envDefault:"24h"`
	RedisURL          string        `env:"REDIS_URL"`
	MongoURI          string        `env:"MONGO_URI"`
	MongoDatabase     string        `env:"MONGO_DB" envDefault:"gena_db"`
}

func (c PipelineConfig) Validate() error {
	switch c.CheckpointBackend {
	case "sql", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis checkpoint backend")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo checkpoint backend")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend '%s'", c.CheckpointBackend)
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("PIPELINE_RUN_TIMEOUT must be positive")
	}
	return nil
}

type WorkerConfig struct {
	PollIntervalSeconds int    `env:"WORKER_POLL_INTERVAL" envDefault:"5"`
	IdleBackoffSeconds  int    `env:"WORKER_IDLE_BACKOFF" envDefault:"30"`
	BatchSize           int    `env:"WORKER_BATCH_SIZE" envDefault:"5"`
	MaxRetries          int    `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	Concurrency         int    `env:"WORKER_CONCURRENCY" envDefault:"1"`
	QueueName           string `env:"WORKER_QUEUE_NAME"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c WorkerConfig) IdleBackoff() time.Duration {
	return time.Duration(c.IdleBackoffSeconds) * time.Second
}

type AuthConfig struct {
	JWTSecret          string `env:"JWT_SECRET,notEmpty,required"`
	TokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"120"`

	SeedExpertUsername string `env:"SEED_EXPERT_USERNAME" envDefault:"admin"`
	SeedExpertPassword string `env:"SEED_EXPERT_PASSWORD" envDefault:"admin123"`
	SeedUserUsername   string `env:"SEED_USER_USERNAME" envDefault:"user"`
	SeedUserPassword   string `env:"SEED_USER_PASSWORD" envDefault:"user123"`
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenExpireMinutes) * time.Minute
}

// ClientConfig points a worker at a remote dataset API instead of a local database. The
// account needs the expert role to write datasets; the defaults are the seeded expert.
type ClientConfig struct {
	BaseURL  string        `env:"DATASET_API_URL"`
	Username string        `env:"WORKER_USERNAME" envDefault:"admin"`
	Password string        `env:"WORKER_PASSWORD" envDefault:"admin123"`
	Timeout  time.Duration `env:"DATASET_API_TIMEOUT" envDefault:"30s"`
}
