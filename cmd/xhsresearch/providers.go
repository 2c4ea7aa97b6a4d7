package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/logger"
)

// providersCmd represents the providers command
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List LLM providers and their availability",
	Long: `List the supported LLM providers, the model each one uses, whether
it accepts images, and whether a key for it is configured.

Auto-selection tries providers in the listed order and picks the first
one with a key.`,
	Run: runProvidersCmd,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProvidersCmd(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(nil)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	factory, err := llm.NewFactory(cfg, logger.GetLogger())
	if err != nil {
		fatal("failed to set up LLM providers", err)
	}

	fmt.Printf("%-10s %-22s %-8s %s\n", "PROVIDER", "MODEL", "VISION", "AVAILABLE")
	for _, info := range factory.Describe() {
		vision := "no"
		if info.Vision {
			vision = "yes"
		}
		available := "no key"
		if info.Available {
			available = "yes"
		}
		fmt.Printf("%-10s %-22s %-8s %s\n", info.Name, info.Model, vision, available)
	}
}
