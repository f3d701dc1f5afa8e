package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"piesta-gateway/internal/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
}

// Package-level variables for testability. Tests swap these to capture
// output and to avoid binding a real listener.
var (
	ioOut  io.Writer = os.Stdout
	logOut io.Writer = os.Stderr
)

// version is set at build time with -ldflags "-X piesta-gateway/cmd.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:     "piesta",
		Version: version,
		Short:   "Multi-provider AI gateway with fallback and side-by-side comparison",
		Long: `piesta dispatches prompts to chat and image models across OpenRouter,
fal.ai and Hugging Face, falls back between image providers, and compares
several models side by side.

Examples:
  piesta serve --config piesta.yaml
  piesta compare --target openai/gpt-4o-mini --target fal-ai/flux-dev --prompt "a red fox"
  piesta models --output json`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flags.logLevel, flags.logJSON)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to YAML configuration file (defaults apply when empty)")
	pf.StringVar(&flags.envFile, "env-file", "", "dotenv file with provider keys (default .env)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.BoolVar(&flags.logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(
		newServeCmd(flags),
		newCompareCmd(flags),
		newModelsCmd(flags),
	)
	return root
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(ioOut)
	return root.ExecuteContext(ctx)
}

func setupLogging(level string, jsonOut bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(logOut, opts)
	if jsonOut {
		handler = slog.NewJSONHandler(logOut, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
