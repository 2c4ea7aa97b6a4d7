package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"xhsresearch/internal/stages"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

var (
	// Pipeline command flags
	pipelineStartStep  int
	pipelineEndStep    int
	pipelineDate       string
	pipelineContinue   bool
	pipelineMaxItems   int
	pipelineKMin       int
	pipelineKMax       int
	pipelineProvider   string
	pipelineNoDownload bool
	pipelineSynthesize bool
	pipelineOutputDir  string
)

// pipelineCmd represents the pipeline command
var pipelineCmd = &cobra.Command{
	Use:   "pipeline [query]",
	Short: "Run the full research pipeline for a query",
	Long: `Run the staged research pipeline:

  1. scrape     search posts and download images (required)
  2. visual     semiotic image analysis via LLM (required)
  3. cluster    TF-IDF + k-means clustering of analyses
  4. compare    per-section and per-cluster term salience
  5. insights   per-section insight extraction and codebook
  6. themes     LLM theme cards for each cluster
  7. visualize  adoption/distinctiveness quadrants and playbook

A failure in stage 1 or 2 stops the run; later stages record their failure
and the run continues. Use --start-step/--end-step to run a slice against
an existing run directory, and --continue-workflow to resume the most
recent run without retyping the query.`,
	Example: `  # Full run
  xhsresearch pipeline "matcha skincare"

  # Re-run analysis stages over yesterday's scrape
  xhsresearch pipeline "matcha skincare" --date 20260828 --start-step 2

  # Resume the latest run from clustering onward
  xhsresearch pipeline --continue-workflow --start-step 3

  # Force a provider and enable synthesis passes
  xhsresearch pipeline "matcha skincare" --provider gemini --synthesize`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPipelineCmd,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)

	pipelineCmd.Flags().IntVar(&pipelineStartStep, "start-step", 1, "first stage to run (1-7)")
	pipelineCmd.Flags().IntVar(&pipelineEndStep, "end-step", 7, "last stage to run (1-7)")
	pipelineCmd.Flags().StringVar(&pipelineDate, "date", "", "run date as YYYYMMDD (default today)")
	pipelineCmd.Flags().BoolVar(&pipelineContinue, "continue-workflow", false, "resume the most recent run")
	pipelineCmd.Flags().IntVar(&pipelineMaxItems, "max-items", 0, "maximum posts/images per stage (default from config)")
	pipelineCmd.Flags().IntVar(&pipelineKMin, "k-min", 0, "minimum cluster count")
	pipelineCmd.Flags().IntVar(&pipelineKMax, "k-max", 0, "maximum cluster count")
	pipelineCmd.Flags().StringVar(&pipelineProvider, "provider", "", "force an LLM provider (openai, gemini, deepseek, kimi)")
	pipelineCmd.Flags().BoolVar(&pipelineNoDownload, "no-download", false, "skip image downloads during scrape")
	pipelineCmd.Flags().BoolVar(&pipelineSynthesize, "synthesize", false, "run the aggregate synthesis passes")
	pipelineCmd.Flags().StringVarP(&pipelineOutputDir, "output", "o", "", "base output directory")
}

func runPipelineCmd(cmd *cobra.Command, args []string) {
	flags := make(map[string]interface{})
	if pipelineOutputDir != "" {
		flags["output"] = pipelineOutputDir
	}
	if pipelineMaxItems > 0 {
		flags["max-items"] = pipelineMaxItems
	}
	if pipelineKMin > 0 {
		flags["k-min"] = pipelineKMin
	}
	if pipelineKMax > 0 {
		flags["k-max"] = pipelineKMax
	}
	if pipelineProvider != "" {
		flags["provider"] = pipelineProvider
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fatal("failed to load configuration", err)
	}
	log := logger.GetLogger()

	var wf *workflow.Config
	if pipelineContinue {
		wf, err = workflow.FindLatest(cfg.Output.BaseDirectory)
		if err != nil {
			fatal("failed to find previous run", err)
		}
		if wf == nil {
			fatal(fmt.Sprintf("no previous run found under %s", cfg.Output.BaseDirectory), nil)
		}
		log.WithField("workflow", wf.String()).Info("resuming run")
	} else {
		if len(args) == 0 {
			fatal("a query is required unless --continue-workflow is set", nil)
		}
		query := strings.TrimSpace(args[0])
		wf, err = workflow.New(cfg.Output.BaseDirectory, query, pipelineDate)
		if err != nil {
			fatal("failed to set up run directory", err)
		}
	}
	if err := wf.Save(); err != nil {
		fatal("failed to save run configuration", err)
	}

	factory, err := llm.NewFactory(cfg, log)
	if err != nil {
		fatal("failed to set up LLM providers", err)
	}

	params := pipeline.Params{
		Config:     cfg,
		Factory:    factory,
		Provider:   cfg.LLM.Provider,
		NoDownload: pipelineNoDownload,
		Synthesize: pipelineSynthesize,
		Logger:     log,
	}

	seq := pipeline.NewSequencer(stages.All(), log)
	result, runErr := seq.RunRange(context.Background(), pipelineStartStep, pipelineEndStep, wf, params)
	if result != nil {
		if path, err := result.WriteReport(); err != nil {
			log.WithError(err).Warn("failed to write pipeline report")
		} else {
			fmt.Printf("Report: %s\n", path)
		}
		printRunSummary(result)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func printRunSummary(result *pipeline.RunResult) {
	fmt.Printf("Run %s finished: %s\n", result.ID, result.State)
	for _, sr := range result.Stages {
		if sr.Err != nil {
			fmt.Printf("  %d. %-10s %s (%v)\n", sr.Number, sr.Name, sr.Status, sr.Err)
			continue
		}
		fmt.Printf("  %d. %-10s %s\n", sr.Number, sr.Name, sr.Status)
	}
}
