package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mira/internal/interview"
	"mira/internal/logging"
	"mira/internal/modulebank"
)

// newModulesCommand creates the modules subcommand
func newModulesCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the loaded interview modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
			logging.EchoToStderr(cfg.LogEchoStderr)

			bank := modulebank.Load(logging.New("modulebank"))
			if bank.Len() == 0 {
				return fmt.Errorf("no interview modules loaded")
			}
			printModules(cmd.OutOrStdout(), bank)
			return logging.Close()
		},
	}
}

func printModules(out io.Writer, bank *modulebank.Bank) {
	fmt.Fprintf(out, "\n%s\n", bold(fmt.Sprintf("Interview modules (%d)", bank.Len())))
	for _, def := range bank.Modules() {
		fmt.Fprintf(out, "\n%s %s %s\n", bold(def.Name), gray(def.ID), blue(string(def.Group)))
		if def.Description != "" {
			fmt.Fprintf(out, "  %s\n", def.Description)
		}
		fmt.Fprintf(out, "  %s\n", gray(moduleShape(def)))
	}
	fmt.Fprintln(out)
}

// moduleShape summarizes a definition's question and criteria layout.
func moduleShape(def *interview.ModuleDefinition) string {
	if len(def.Questions) == 0 {
		return "synthesis stage, no questions"
	}

	required := len(def.RequiredIDs())
	s := fmt.Sprintf("%d questions (%d required)", len(def.Questions), required)
	if def.MinQuestions > 0 {
		s += fmt.Sprintf(", asks at least %d", def.MinQuestions)
	}
	if def.Criteria.MinimumRequired > 0 {
		s += fmt.Sprintf(", screens at %d+ criteria", def.Criteria.MinimumRequired)
	}
	return s
}
