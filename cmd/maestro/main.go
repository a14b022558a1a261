// Package main provides the CLI entry point for the maestro agent
// runtime.
//
// Maestro drives LLM agents through a persistent, resumable loop:
// single missions, delegated sub-agents, and multi-round epic
// orchestration, with a durable wait/resume protocol for
// human-in-the-loop workflows.
//
// # Basic Usage
//
// Run a mission:
//
//	maestro run "summarize the open incidents"
//
// Start the API server:
//
//	maestro serve --config maestro.yaml
//
// Inspect sessions:
//
//	maestro sessions list
//	maestro sessions show <id>
//
// # Environment Variables
//
//   - MAESTRO_CONFIG: Path to configuration file (default: maestro.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "maestro",
		Short:         "Agent runtime for long-running LLM missions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildRunCmd(),
		buildEpicCmd(),
		buildServeCmd(),
		buildSessionsCmd(),
		buildWorkflowsCmd(),
		buildServiceCmd(),
		buildConfigCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return root
}

// resolveConfigPath applies the flag, the environment, then the
// default, in that order.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("MAESTRO_CONFIG"); env != "" {
		return env
	}
	return "maestro.yaml"
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("maestro %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
