package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"qgen-backend/internal/config"
	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline"
)

// LoadEnvFile parses the command line flags and loads the file given by -env, if any, into
// the process environment. Flags of the calling binary must be declared before it runs.
func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// SetupLogging installs a text slog handler at the level named by LOG_LEVEL.
func SetupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(os.Getenv("LOG_LEVEL")))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// NewPipeline builds the LLM client, the checkpoint store and the pipeline. db is only needed
// by the sql checkpoint backend. The returned close function is never nil.
func NewPipeline(ctx context.Context, llmCfg config.LLMConfig, pipeCfg config.PipelineConfig, db *gorm.DB) (*pipeline.Pipeline, func(), error) {
	if err := pipeCfg.Validate(); err != nil {
		return nil, func() {}, err
	}

	client, err := llm.NewClientFromConfig(llmCfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("error creating llm client: %w", err)
	}

	checkpoints, closeCheckpoints, err := pipeline.OpenCheckpoints(ctx, pipeCfg, db)
	if err != nil {
		return nil, func() {}, err
	}

	pipe, err := pipeline.NewFromConfig(client, pipeCfg, checkpoints)
	if err != nil {
		closeCheckpoints()
		return nil, func() {}, err
	}

	slog.Info("question pipeline ready", "provider", llmCfg.Provider, "model", llmCfg.Model,
		"checkpoints", pipeCfg.CheckpointBackend)
	return pipe, closeCheckpoints, nil
}
