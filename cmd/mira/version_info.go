package main

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mira/internal/config"
)

var (
	versionOnce   sync.Once
	cachedVersion string
)

// appVersion returns the best-effort semantic version for the mira binary.
// The lookup order is:
//  1. Explicit MIRA_VERSION environment variable (useful for custom builds)
//  2. Go build information when available (e.g. go install mira@vX)
//  3. A development fallback string
func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion(config.DefaultEnvLookup)
	})
	return cachedVersion
}

func detectVersion(envLookup config.EnvLookup) string {
	if envLookup != nil {
		if v, ok := envLookup("MIRA_VERSION"); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}

		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return fmt.Sprintf("dev-%s", setting.Value)
			}
		}
	}

	return "development"
}

// newVersionCommand creates the version subcommand
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mira %s\n", appVersion())
		},
	}
}
