package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"mira/internal/config"
)

// Color helpers shared across the CLI output.
var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

const defaultConfigPath = "~/.mira.yaml"

// isTTY checks if the current environment has a TTY available
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// CLI holds flag state shared by every subcommand.
type CLI struct {
	configPath string
	userID     string
	debug      bool
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "mira",
		Short: "Structured clinical screening interviews in your terminal",
		Long: fmt.Sprintf(`%s

%s conducts a structured mental-health screening interview, one question
at a time. It walks through intake, safety, and symptom modules, adapts
its questions to your answers, and produces a summary a clinician can
review. It screens; it does not diagnose.

%s
  mira                        # Start an interview
  mira interview -r <id>      # Resume a stored session
  mira modules                # List the interview modules
  mira version                # Show version information

%s
  Set MIRA_API_KEY (or OPENAI_API_KEY) to enable model-backed answer
  extraction and narrative summaries. Without a key, mira runs fully
  offline on rule-based extraction.`,
			bold("Mira "+appVersion()),
			bold("Mira"),
			bold("EXAMPLES:"),
			bold("CONFIGURATION:")),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTTY() {
				// No TTY available (CI environment), show help instead
				return cmd.Help()
			}
			return cli.runInterview(cmd.Context(), "")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cli.configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	flags.StringVarP(&cli.userID, "user", "u", "", "User id to attach to new sessions")
	flags.BoolVarP(&cli.debug, "debug", "d", false, "Echo logs to stderr")
	flags.String("provider", "", "LLM provider override (openai or mock)")
	flags.String("model", "", "LLM model override")
	flags.String("session-dir", "", "Session storage directory override")
	flags.String("log-level", "", "Log level override (debug, info, warn, error)")

	_ = viper.BindPFlag("llm.provider", flags.Lookup("provider"))
	_ = viper.BindPFlag("llm.model", flags.Lookup("model"))
	_ = viper.BindPFlag("persistence.session_dir", flags.Lookup("session-dir"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(newInterviewCommand(cli))
	rootCmd.AddCommand(newModulesCommand(cli))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newInterviewCommand creates the interview subcommand
func newInterviewCommand(cli *CLI) *cobra.Command {
	var resumeID string

	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Run an interactive screening interview",
		Long: `Run an interactive screening interview in the terminal.

A new session is created unless --resume names a stored one, in which
case the interview picks up at the pending question. Inside the session,
/progress shows module completion, /results shows what has been
assessed so far, and /quit saves and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.runInterview(cmd.Context(), resumeID)
		},
	}

	cmd.Flags().StringVarP(&resumeID, "resume", "r", "", "Resume a stored session by id")
	return cmd
}

// runInterview wires the runtime and hands control to the session loop.
func (cli *CLI) runInterview(ctx context.Context, resumeID string) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	container, err := buildContainer(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runInterviewSession(ctx, container, resumeID, cli.userID, os.Stdout, os.Stderr)
}

// loadConfig layers defaults, the config file, environment variables, and
// finally any explicit flag overrides.
func (cli *CLI) loadConfig() (config.Config, error) {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return config.Config{}, err
	}
	applyFlagOverrides(&cfg)
	if cli.debug {
		cfg.LogEchoStderr = true
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyFlagOverrides copies flag values registered with viper onto the
// loaded configuration. Unset flags read back as empty and change nothing.
func applyFlagOverrides(cfg *config.Config) {
	if v := viper.GetString("llm.provider"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := viper.GetString("llm.model"); v != "" {
		cfg.LLM.Model = v
	}
	if v := viper.GetString("persistence.session_dir"); v != "" {
		cfg.Persistence.SessionDir = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
}
