package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"xhsresearch/pkg/auth"
	"xhsresearch/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage xhsresearch configuration files.

Configuration is loaded in order of priority:
  - Command line flags
  - Environment variables (APIFY_API_TOKEN, OPENAI_API_KEY, XHS_*)
  - .env file
  - Configuration file (.xhsresearch.yaml)
  - Default values`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the current defaults",
	Run:   runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging all sources. API keys are
masked.`,
	Run: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configFile
	if path == "" {
		path = ".xhsresearch.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		fatal(fmt.Sprintf("configuration file already exists: %s", path), nil)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		fatal("failed to write configuration file", err)
	}

	fmt.Printf("Configuration file created: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your API keys with 'xhsresearch auth set <service>'")
	fmt.Println("2. Check availability with 'xhsresearch providers'")
	fmt.Println("3. Run 'xhsresearch pipeline \"<query>\"'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(nil)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	display := *cfg
	display.Apify.APIToken = maskIfSet(display.Apify.APIToken)
	display.LLM.OpenAIKey = maskIfSet(display.LLM.OpenAIKey)
	display.LLM.GeminiKey = maskIfSet(display.LLM.GeminiKey)
	display.LLM.DeepSeekKey = maskIfSet(display.LLM.DeepSeekKey)
	display.LLM.MoonshotKey = maskIfSet(display.LLM.MoonshotKey)

	data, err := yaml.Marshal(&display)
	if err != nil {
		fatal("failed to format configuration", err)
	}
	fmt.Print(string(data))
}

func maskIfSet(key string) string {
	if key == "" {
		return ""
	}
	return auth.MaskKey(key)
}
