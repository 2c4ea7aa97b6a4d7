package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/logger"
)

var (
	// Analyze command flags
	analyzeProvider string
	analyzeKind     string
	analyzeText     string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir>",
	Short: "Run a one-off LLM analysis over images in a directory",
	Long: `Analyze every image in a directory with one of the prompt kinds
(basic, semiotic, sentiment, trends, marketing) and print the results as
JSON. With --text the given caption is analyzed alongside each image.

This bypasses the pipeline and its run directories. It is meant for
trying out prompts and providers on a handful of files.`,
	Example: `  # Semiotic read of a folder of screenshots
  xhsresearch analyze ./shots --kind semiotic

  # Sentiment via a specific provider
  xhsresearch analyze ./shots --kind sentiment --provider deepseek`,
	Args: cobra.ExactArgs(1),
	Run:  runAnalyzeCmd,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeProvider, "provider", "", "force an LLM provider")
	analyzeCmd.Flags().StringVar(&analyzeKind, "kind", llm.KindBasic, "analysis kind (basic, semiotic, sentiment, trends, marketing)")
	analyzeCmd.Flags().StringVar(&analyzeText, "text", "", "caption or context text analyzed with each image")
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) {
	dir := args[0]

	flags := make(map[string]interface{})
	if analyzeProvider != "" {
		flags["provider"] = analyzeProvider
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		fatal("failed to load configuration", err)
	}
	log := logger.GetLogger()

	factory, err := llm.NewFactory(cfg, log)
	if err != nil {
		fatal("failed to set up LLM providers", err)
	}

	ctx := context.Background()
	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		provider, err = factory.Create(ctx, cfg.LLM.Provider)
	} else {
		provider, err = factory.CreateAny(ctx)
	}
	if err != nil {
		fatal("no usable LLM provider", err)
	}

	images, err := listImageFiles(dir)
	if err != nil {
		fatal("failed to scan directory", err)
	}
	if len(images) == 0 {
		fatal(fmt.Sprintf("no images found in %s", dir), nil)
	}

	type analysis struct {
		File     string                 `json:"file"`
		Provider string                 `json:"provider"`
		Model    string                 `json:"model"`
		Data     map[string]interface{} `json:"data,omitempty"`
		Raw      string                 `json:"raw,omitempty"`
		Error    string                 `json:"error,omitempty"`
	}

	results := make([]analysis, 0, len(images))
	for _, path := range images {
		log.WithField("file", filepath.Base(path)).Info("analyzing")

		out := analysis{
			File:     filepath.Base(path),
			Provider: provider.Name(),
			Model:    provider.Model(),
		}
		result, err := provider.AnalyzeImage(ctx, path, analyzeText, llm.Options{Kind: analyzeKind})
		switch {
		case err != nil:
			out.Error = err.Error()
		case result.OK():
			out.Data = result.Data
		default:
			out.Raw = result.Raw
			out.Error = result.Err
		}
		results = append(results, out)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		fatal("failed to encode results", err)
	}
}

func listImageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".webp":
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images, nil
}
