// Package pipeline sequences the research stages of a run. Stages execute
// in-process in ascending order; a failed required stage halts the run while
// optional failures are recorded and the run continues.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"xhsresearch/pkg/config"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/retry"
	"xhsresearch/pkg/workflow"
)

// Params carries the shared dependencies every stage receives.
type Params struct {
	Config *config.Config
	// Factory builds LLM providers for the analysis stages.
	Factory *llm.Factory
	// Provider forces a specific provider name. Empty means auto-select.
	Provider string
	// NoDownload skips image downloads during the scrape stage.
	NoDownload bool
	// Synthesize enables the aggregate synthesis passes.
	Synthesize bool
	Logger     logger.Logger
}

// CreateProvider builds the requested provider, or the first available one
// when no name was forced.
func (p Params) CreateProvider(ctx context.Context) (llm.Provider, error) {
	if p.Factory == nil {
		return nil, fmt.Errorf("no provider factory configured")
	}
	if p.Provider != "" {
		return p.Factory.Create(ctx, p.Provider)
	}
	return p.Factory.CreateAny(ctx)
}

// Stage is one step of the research pipeline.
type Stage interface {
	// Name is the stage's human-readable name.
	Name() string
	// Key is the workflow directory key the stage writes into.
	Key() string
	// Required reports whether a failure halts the run.
	Required() bool
	// Heavy reports whether the stage makes sustained LLM calls and wants
	// a cooldown before the next stage starts.
	Heavy() bool
	Run(ctx context.Context, wf *workflow.Config, params Params) error
}

// Status of a single stage within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State of the whole run.
type State string

const (
	StateNotStarted                    State = "not_started"
	StateRunning                       State = "running"
	StateCompleted                     State = "completed"
	StateCompletedWithOptionalFailures State = "completed_with_optional_failures"
	StateFailedAtRequiredStage         State = "failed_at_required_stage"
)

// StageResult records one stage execution.
type StageResult struct {
	Number    int
	Name      string
	Status    Status
	OutputDir string
	Err       error
	Duration  time.Duration
}

// RunResult records a whole pipeline run.
type RunResult struct {
	ID       string
	State    State
	Stages   []StageResult
	Workflow *workflow.Config
	Started  time.Time
	Finished time.Time
}

// Sequencer runs an ordered list of stages against one workflow.
type Sequencer struct {
	stages []Stage
	logger logger.Logger
}

// NewSequencer builds a sequencer over the given stages. Stage numbers are
// 1-based positions in the slice.
func NewSequencer(stages []Stage, log logger.Logger) *Sequencer {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Sequencer{stages: stages, logger: log}
}

// NumStages returns how many stages the sequencer knows.
func (s *Sequencer) NumStages() int {
	return len(s.stages)
}

// RunRange executes stages start..end (1-based, inclusive) in order. The
// run stops at the first required-stage failure; optional failures are
// recorded and execution continues.
func (s *Sequencer) RunRange(ctx context.Context, start, end int, wf *workflow.Config, params Params) (*RunResult, error) {
	if start < 1 {
		start = 1
	}
	if end > len(s.stages) || end < 1 {
		end = len(s.stages)
	}
	if start > end {
		return nil, fmt.Errorf("invalid stage range %d..%d", start, end)
	}

	result := &RunResult{
		ID:       uuid.New().String(),
		State:    StateRunning,
		Workflow: wf,
		Started:  time.Now(),
	}

	optionalFailed := false

	for num := start; num <= end; num++ {
		stage := s.stages[num-1]
		outputDir, _ := wf.Dir(stage.Key())

		s.logger.InfoWithFields("running stage", map[string]interface{}{
			"stage": num,
			"name":  stage.Name(),
		})

		stageStart := time.Now()
		err := stage.Run(ctx, wf, params)
		sr := StageResult{
			Number:    num,
			Name:      stage.Name(),
			OutputDir: outputDir,
			Duration:  time.Since(stageStart),
		}

		if err != nil {
			sr.Status = StatusFailed
			sr.Err = err
			result.Stages = append(result.Stages, sr)

			if stage.Required() {
				s.logger.ErrorWithFields("required stage failed, stopping run", map[string]interface{}{
					"stage": num,
					"name":  stage.Name(),
					"error": err.Error(),
				})
				result.State = StateFailedAtRequiredStage
				result.Finished = time.Now()
				return result, err
			}

			s.logger.WarnWithFields("optional stage failed, continuing", map[string]interface{}{
				"stage": num,
				"name":  stage.Name(),
				"error": err.Error(),
			})
			optionalFailed = true
			continue
		}

		sr.Status = StatusCompleted
		result.Stages = append(result.Stages, sr)

		s.logger.InfoWithFields("stage completed", map[string]interface{}{
			"stage":    num,
			"name":     stage.Name(),
			"duration": sr.Duration.String(),
		})

		// Let provider rate limits recover before the next burst of calls.
		if stage.Heavy() && num < end {
			cooldown := 2 * time.Second
			if params.Config != nil && params.Config.RateLimit.StageCooldown > 0 {
				cooldown = params.Config.RateLimit.StageCooldown
			}
			if err := retry.Wait(ctx, cooldown); err != nil {
				result.State = StateFailedAtRequiredStage
				result.Finished = time.Now()
				return result, err
			}
		}
	}

	if optionalFailed {
		result.State = StateCompletedWithOptionalFailures
	} else {
		result.State = StateCompleted
	}
	result.Finished = time.Now()
	return result, nil
}

// WriteReport writes pipeline_report.md into the run's query directory.
func (r *RunResult) WriteReport() (string, error) {
	if r.Workflow == nil || r.Workflow.QueryDir == "" {
		return "", fmt.Errorf("run has no workflow directory")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Pipeline Report\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", r.ID)
	fmt.Fprintf(&b, "- Query: %s\n", r.Workflow.Query)
	fmt.Fprintf(&b, "- Date: %s\n", r.Workflow.Date)
	fmt.Fprintf(&b, "- State: %s\n", r.State)
	fmt.Fprintf(&b, "- Started: %s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Finished: %s\n\n", r.Finished.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Stages\n\n")
	fmt.Fprintf(&b, "| # | Stage | Status | Duration | Output |\n")
	fmt.Fprintf(&b, "|---|-------|--------|----------|--------|\n")
	for _, sr := range r.Stages {
		status := string(sr.Status)
		if sr.Err != nil {
			status = fmt.Sprintf("%s: %v", sr.Status, sr.Err)
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			sr.Number, sr.Name, status, sr.Duration.Round(time.Millisecond), sr.OutputDir)
	}

	path := filepath.Join(r.Workflow.QueryDir, "pipeline_report.md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
