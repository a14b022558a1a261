// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler in
// handlers.go.
package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
		sessionID  string
		jsonOut    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run <mission...>",
		Short: "Run a mission through the agent pipeline",
		Long: `Run a mission to a terminal condition, streaming progress as it
happens. With auto-epic enabled in the configuration, complex missions
are routed to the epic orchestrator automatically.`,
		Example: `  # Run with the default agent
  maestro run "summarize the open incidents"

  # Continue an existing session
  maestro run --session s1 "now group them by service"

  # Use a specific agent definition
  maestro run --agent researcher "find prior art for X"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMission(cmd.Context(), resolveConfigPath(configPath), missionFrom(args), agentID, sessionID, "", jsonOut, quiet)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent definition to run")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to create or continue")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the final result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress events, print only the final answer")
	return cmd
}

func buildEpicCmd() *cobra.Command {
	var (
		configPath string
		jsonOut    bool
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "epic <mission...>",
		Short: "Run a mission through the epic orchestrator",
		Long: `Force the planner/worker/judge pipeline regardless of what the
auto-epic classifier would decide.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMission(cmd.Context(), resolveConfigPath(configPath), missionFrom(args), "", "", "epic", jsonOut, quiet)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the final result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress events, print only the final answer")
	return cmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the maestro API server",
		Long: `Start the HTTP API server.

The server loads the configuration, opens the storage backend, loads
and watches agent definitions, and serves mission execution, session
inspection, and the workflow resume endpoints until SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  maestro serve

  # Start with a custom config
  maestro serve --config /etc/maestro/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored session ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}
	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session's stored state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsDelete(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func buildWorkflowsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and resume waiting workflows",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List workflow checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsList(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	var payload string
	resume := &cobra.Command{
		Use:     "resume <run-id>",
		Short:   "Resume a waiting workflow with a reply payload",
		Example: `  maestro workflows resume wf-1 --payload '{"answer":"approved"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsResume(cmd.Context(), resolveConfigPath(configPath), args[0], payload)
		},
	}
	resume.Flags().StringVarP(&payload, "payload", "p", "", "JSON reply payload")

	cont := &cobra.Command{
		Use:   "resume-and-continue <run-id>",
		Short: "Re-enter a waiting workflow without new input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsResumeAndContinue(cmd.Context(), resolveConfigPath(configPath), args[0])
		},
	}

	cmd.AddCommand(list, resume, cont)
	return cmd
}

func buildServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage service installation files",
	}

	var configPath string
	var restart bool
	install := &cobra.Command{
		Use:   "install",
		Short: "Install a user-level service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceInstall(cmd.Context(), resolveConfigPath(configPath), restart)
		},
	}
	install.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	install.Flags().BoolVar(&restart, "restart", false, "Restart the service after writing the file")

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the installed user-level service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServiceRestart(cmd.Context())
		},
	}

	cmd.AddCommand(install, restartCmd)
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema()
		},
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(resolveConfigPath(configPath))
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(schema, validate)
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		subject    string
		scopes     []string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long:  `Issue a bearer token signed with the configured JWT secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(resolveConfigPath(configPath), subject, scopes, ttl)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&subject, "subject", "u", "", "Token subject (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes to embed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime (0 for non-expiring)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func missionFrom(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
