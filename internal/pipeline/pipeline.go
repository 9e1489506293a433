package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"qgen-backend/internal/core/utils"
	"qgen-backend/internal/llm"
)

type Stage string

const (
	StageStart             Stage = "start"
	StageGenerated         Stage = "generated"
	StageSensitivityScored Stage = "sensitivity-scored"
	StageDifficultyScored  Stage = "difficulty-scored"
	StageValidated         Stage = "validated"
)

// Run is the state of one pipeline run. It is what gets checkpointed and what the worker
// stores as the task result.
type Run struct {
	RunId             string             `json:"run_id"`
	Chunk             string             `json:"chunk"`
	Kind              Kind               `json:"question_type"`
	Source            string             `json:"source,omitempty"`
	Stage             Stage              `json:"stage"`
	GeneratedQuestion *GeneratedQuestion `json:"generated_question,omitempty"`
	SensitivityScore  *SensitivityScore  `json:"sensitivity_score,omitempty"`
	DifficultyScore   *DifficultyScore   `json:"difficulty_score,omitempty"`
	ValidationResult  *ValidationResult  `json:"validation_result,omitempty"`
}

func (r *Run) Done() bool {
	return r.Stage == StageValidated
}

type Input struct {
	ChunkText string
	Kind      Kind
	Source    string
	RunId     string
}

type Options struct {
	RunTimeout       time.Duration
	ParallelScorers  bool
	ParallelCriteria bool
	MaxActiveRuns    int
}

func DefaultOptions() Options {
	return Options{
		RunTimeout:    5 * time.Minute,
		MaxActiveRuns: 1024,
	}
}

// Pipeline runs generate, sensitivity, difficulty and validate in that order, saving a
// checkpoint after every stage.
type Pipeline struct {
	generator   *Generator
	sensitivity *Scorer[SensitivityScore]
	difficulty  *Scorer[DifficultyScore]
	validator   *Validator
	rephraser   *Rephraser

	checkpoints CheckpointStore
	runLocks    *utils.MutexMap
	opts        Options
}

func New(client *llm.Client, rubric Rubric, checkpoints CheckpointStore, opts Options) (*Pipeline, error) {
	validator, err := NewValidator(client, rubric, opts.ParallelCriteria)
	if err != nil {
		return nil, fmt.Errorf("invalid rubric: %w", err)
	}
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpoints()
	}
	if opts.MaxActiveRuns <= 0 {
		opts.MaxActiveRuns = DefaultOptions().MaxActiveRuns
	}

	return &Pipeline{
		generator:   NewGenerator(client),
		sensitivity: NewSensitivityScorer(client),
		difficulty:  NewDifficultyScorer(client),
		validator:   validator,
		rephraser:   NewRephraser(client),
		checkpoints: checkpoints,
		runLocks:    utils.NewMutexMap(opts.MaxActiveRuns),
		opts:        opts,
	}, nil
}

func (p *Pipeline) Rephraser() *Rephraser {
	return p.rephraser
}

// Run executes the pipeline for one chunk. Runs with the same id are serialized and resume
// from their last checkpoint when the chunk and kind are unchanged. Errors carry the name of
// the stage that failed; no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Run, error) {
	if !in.Kind.Valid() {
		return nil, llm.ContractViolationf("unsupported question type '%s'", in.Kind)
	}
	if strings.TrimSpace(in.ChunkText) == "" {
		return nil, llm.ContractViolationf("source chunk is empty")
	}
	if in.RunId == "" {
		in.RunId = uuid.NewString()
	}

	if err := p.runLocks.Lock(in.RunId); err != nil {
		return nil, fmt.Errorf("error acquiring run lock: %w", err)
	}
	defer func() {
		if err := p.runLocks.Unlock(in.RunId); err != nil {
			slog.Error("error releasing run lock", "run_id", in.RunId, "error", err)
		}
	}()

	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	run, err := p.resume(ctx, in)
	if err != nil {
		return nil, err
	}

	for !run.Done() {
		if err := p.step(ctx, run); err != nil {
			return nil, err
		}
		if err := p.checkpoints.Save(ctx, run); err != nil {
			return nil, err
		}
		slog.Info("pipeline stage completed", "run_id", run.RunId, "stage", run.Stage)
	}

	return run, nil
}

// Forget deletes the checkpoint of a run. Callers forget a run once its result is stored
// elsewhere; until then a finished checkpoint answers repeated Run calls.
func (p *Pipeline) Forget(ctx context.Context, runId string) error {
	if err := p.runLocks.Lock(runId); err != nil {
		return fmt.Errorf("error acquiring run lock: %w", err)
	}
	defer func() {
		if err := p.runLocks.Unlock(runId); err != nil {
			slog.Error("error releasing run lock", "run_id", runId, "error", err)
		}
	}()
	return p.checkpoints.Delete(ctx, runId)
}

func (p *Pipeline) resume(ctx context.Context, in Input) (*Run, error) {
	stored, err := p.checkpoints.Load(ctx, in.RunId)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Chunk == in.ChunkText && stored.Kind == in.Kind && stored.resumable() {
		if stored.Stage != StageStart {
			slog.Info("resuming pipeline run", "run_id", in.RunId, "stage", stored.Stage)
		}
		return stored, nil
	}

	return &Run{
		RunId:  in.RunId,
		Chunk:  in.ChunkText,
		Kind:   in.Kind,
		Source: in.Source,
		Stage:  StageStart,
	}, nil
}

// resumable reports whether a stored run carries every output its stage claims.
func (r *Run) resumable() bool {
	switch r.Stage {
	case StageStart:
		return true
	case StageGenerated:
		return r.GeneratedQuestion != nil
	case StageSensitivityScored:
		return r.GeneratedQuestion != nil && r.SensitivityScore != nil
	case StageDifficultyScored:
		return r.GeneratedQuestion != nil && r.SensitivityScore != nil && r.DifficultyScore != nil
	case StageValidated:
		return r.GeneratedQuestion != nil && r.SensitivityScore != nil && r.DifficultyScore != nil && r.ValidationResult != nil
	}
	return false
}

func (p *Pipeline) step(ctx context.Context, run *Run) error {
	switch run.Stage {
	case StageStart:
		q, err := p.generator.Generate(ctx, run.Kind, run.Chunk)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		run.GeneratedQuestion = q
		run.Stage = StageGenerated

	case StageGenerated:
		if p.opts.ParallelScorers {
			return p.scoreConcurrently(ctx, run)
		}
		score, err := p.sensitivity.Score(ctx, run.GeneratedQuestion)
		if err != nil {
			return fmt.Errorf("sensitivity: %w", err)
		}
		run.SensitivityScore = &score
		run.Stage = StageSensitivityScored

	case StageSensitivityScored:
		score, err := p.difficulty.Score(ctx, run.GeneratedQuestion)
		if err != nil {
			return fmt.Errorf("difficulty: %w", err)
		}
		run.DifficultyScore = &score
		run.Stage = StageDifficultyScored

	case StageDifficultyScored:
		result, err := p.validator.Evaluate(ctx, run.Kind, run.GeneratedQuestion.SourceText, run.GeneratedQuestion)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		run.ValidationResult = result
		run.Stage = StageValidated

	default:
		return errors.New("unknown stage " + string(run.Stage))
	}
	return nil
}

func (p *Pipeline) scoreConcurrently(ctx context.Context, run *Run) error {
	var (
		sensitivity SensitivityScore
		difficulty  DifficultyScore
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if sensitivity, err = p.sensitivity.Score(gctx, run.GeneratedQuestion); err != nil {
			return fmt.Errorf("sensitivity: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if difficulty, err = p.difficulty.Score(gctx, run.GeneratedQuestion); err != nil {
			return fmt.Errorf("difficulty: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	run.SensitivityScore = &sensitivity
	run.DifficultyScore = &difficulty
	run.Stage = StageDifficultyScored
	return nil
}
