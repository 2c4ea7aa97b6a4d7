package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"xhsresearch/pkg/auth"
	"xhsresearch/pkg/config"
	"xhsresearch/pkg/logger"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xhsresearch",
	Short: "Xiaohongshu market research pipeline",
	Long: `xhsresearch scrapes Xiaohongshu (RED) posts for a search query,
downloads post images, and runs a staged analysis pipeline over them:
visual semiotic analysis, clustering, comparative statistics, insight
extraction, theme naming and a quadrant playbook.

Scraping goes through an Apify actor and needs an Apify API token.
The analysis stages need at least one LLM provider key (OpenAI, Gemini,
DeepSeek or Kimi). Store keys with 'xhsresearch auth set <service>' or
export them as environment variables.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .xhsresearch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	rootCmd.SetVersionTemplate(`xhsresearch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the layered configuration, applies the global logging
// flags and initializes the global logger.
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if quiet {
		flags["log-level"] = "error"
	} else if verbose {
		flags["log-level"] = "debug"
	} else if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}

	applyStoredCredentials(cfg)
	return cfg, nil
}

// applyStoredCredentials fills config keys that are still empty from the
// credential store. Environment variables and config files win because the
// store is consulted last.
func applyStoredCredentials(cfg *config.Config) {
	manager, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Debug("credential store unavailable")
		return
	}

	if cfg.Apify.APIToken == "" {
		cfg.Apify.APIToken = manager.APIKey(auth.ServiceApify)
	}
	if cfg.LLM.OpenAIKey == "" {
		cfg.LLM.OpenAIKey = manager.APIKey(auth.ServiceOpenAI)
	}
	if cfg.LLM.GeminiKey == "" {
		cfg.LLM.GeminiKey = manager.APIKey(auth.ServiceGemini)
	}
	if cfg.LLM.DeepSeekKey == "" {
		cfg.LLM.DeepSeekKey = manager.APIKey(auth.ServiceDeepSeek)
	}
	if cfg.LLM.MoonshotKey == "" {
		cfg.LLM.MoonshotKey = manager.APIKey(auth.ServiceKimi)
	}
}

func fatal(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
