package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"

	"qgen-backend/cmd"
	"qgen-backend/internal/config"
	"qgen-backend/internal/core/utils"
	"qgen-backend/internal/llm"
	"qgen-backend/internal/pipeline"
)

type chunk struct {
	ChunkId int    `json:"chunk_id"`
	Text    string `json:"text"`
}

type failure struct {
	ChunkId int    `json:"chunk_id"`
	Error   string `json:"error"`
}

func readChunks(path string) ([]chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening input: %w", err)
	}
	defer file.Close()

	var chunks []chunk
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var c chunk
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("invalid chunk on line %d: %w", line, err)
		}
		if c.Text == "" {
			slog.Warn("skipping empty chunk", "line", line, "chunk_id", c.ChunkId)
			continue
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}
	return chunks, nil
}

func main() {
	in := flag.String("in", "", "JSONL file of chunks, one {\"chunk_id\", \"text\"} object per line")
	out := flag.String("out", "results.jsonl", "JSONL file for pipeline runs")
	kindFlag := flag.String("kind", "one", "question type: one, multi or open")
	workers := flag.Int("workers", 4, "number of chunks processed concurrently")
	source := flag.String("source", "", "source document label stored with every run")

	cmd.LoadEnvFile()
	cmd.SetupLogging()

	if *in == "" {
		log.Fatalf("-in is required")
	}
	kind, err := pipeline.ParseKind(*kindFlag)
	if err != nil {
		log.Fatalf("invalid -kind: %v", err)
	}

	var llmCfg config.LLMConfig
	if err := env.Parse(&llmCfg); err != nil {
		log.Fatalf("error parsing llm config: %v", err)
	}
	var pipeCfg config.PipelineConfig
	if err := env.Parse(&pipeCfg); err != nil {
		log.Fatalf("error parsing pipeline config: %v", err)
	}

	client, err := llm.NewClientFromConfig(llmCfg)
	if err != nil {
		log.Fatalf("error creating llm client: %v", err)
	}
	pipe, err := pipeline.NewFromConfig(client, pipeCfg, pipeline.NewMemoryCheckpoints())
	if err != nil {
		log.Fatalf("error creating pipeline: %v", err)
	}

	chunks, err := readChunks(*in)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if len(chunks) == 0 {
		log.Fatalf("no chunks in %s", *in)
	}

	output, err := os.Create(*out)
	if err != nil {
		log.Fatalf("error creating output: %v", err)
	}
	defer output.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := make(chan chunk, len(chunks))
	for _, c := range chunks {
		queue <- c
	}
	close(queue)

	// Failed runs are returned as results so the chunk id is kept in the output.
	completed := make(chan utils.CompletedTask[any], len(chunks))
	utils.RunInPool(ctx, func(ctx context.Context, c chunk) (any, error) {
		run, err := pipe.Run(ctx, pipeline.Input{
			ChunkText: c.Text,
			Kind:      kind,
			Source:    *source,
			RunId:     strconv.Itoa(c.ChunkId),
		})
		if err != nil {
			slog.Error("pipeline run failed", "chunk_id", c.ChunkId, "error", err)
			return failure{ChunkId: c.ChunkId, Error: err.Error()}, nil
		}
		return run, nil
	}, queue, completed, *workers)

	bar := progressbar.NewOptions(len(chunks),
		progressbar.OptionSetDescription("⏳ generating"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	encoder := json.NewEncoder(output)
	succeeded, failed := 0, 0
	for res := range completed {
		_ = bar.Add(1)

		record := res.Result
		if res.Error != nil {
			record = failure{Error: res.Error.Error()}
		}
		if _, ok := record.(failure); ok {
			failed++
		} else {
			succeeded++
		}

		if err := encoder.Encode(record); err != nil {
			log.Fatalf("error writing output: %v", err)
		}
	}

	log.Printf("generated %d questions, %d failed, results in %s", succeeded, failed, *out)
	if succeeded == 0 {
		output.Close()
		os.Exit(1)
	}
}
