package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"piesta-gateway/internal/config"
	"piesta-gateway/internal/fanout"
	"piesta-gateway/internal/models"
	"piesta-gateway/internal/translator"
)

type compareFlags struct {
	targets     []string
	prompt      string
	system      string
	temperature float64
	maxTokens   int
}

func newCompareCmd(flags *rootFlags) *cobra.Command {
	cf := &compareFlags{}

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Send one prompt to several targets and print every result as JSON",
		Example: `  piesta compare --target openai/gpt-4o-mini --target anthropic/claude-3-5-sonnet --prompt "explain DNS"
  piesta compare --target fal-ai/flux-dev --target hf-runwayml/stable-diffusion-v1-5 --prompt "a red fox"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, flags, cf)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&cf.targets, "target", "t", nil, "target model identifier (repeatable)")
	f.StringVarP(&cf.prompt, "prompt", "p", "", "user prompt sent to every target")
	f.StringVar(&cf.system, "system", "", "optional system prompt for chat targets")
	f.Float64Var(&cf.temperature, "temperature", 0, "sampling temperature (provider default when unset)")
	f.IntVar(&cf.maxTokens, "max-tokens", 0, "maximum output tokens (provider default when unset)")
	return cmd
}

func runCompare(cmd *cobra.Command, flags *rootFlags, cf *compareFlags) error {
	if len(cf.targets) == 0 {
		return errors.New("compare requires at least one --target")
	}
	if strings.TrimSpace(cf.prompt) == "" {
		return errors.New("compare requires --prompt")
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials(flags.envFile)
	if err != nil {
		return err
	}
	c, err := buildCore(cfg)
	if err != nil {
		return err
	}

	req := fanout.CompareRequest{
		Targets:     cf.targets,
		SharedTurns: []models.Turn{{Role: models.RoleUser, Content: cf.prompt}},
	}
	if cf.system != "" {
		// Image adapters take the last turn as the prompt, so the system
		// turn only goes to chat targets.
		withSystem := []models.Turn{
			{Role: models.RoleSystem, Content: cf.system},
			{Role: models.RoleUser, Content: cf.prompt},
		}
		req.TurnsByTarget = make(map[string][]models.Turn)
		for _, t := range cf.targets {
			if c.router.ResolveFamily(t) == models.FamilyChat {
				req.TurnsByTarget[t] = withSystem
			}
		}
	}
	if cmd.Flags().Changed("temperature") {
		temperature := cf.temperature
		req.Sampling.Temperature = &temperature
	}
	if cmd.Flags().Changed("max-tokens") {
		if cf.maxTokens <= 0 {
			return fmt.Errorf("--max-tokens must be positive, got %d", cf.maxTokens)
		}
		maxTokens := cf.maxTokens
		req.Sampling.MaxTokens = &maxTokens
	}

	results, err := c.fanout.Compare(cmd.Context(), req, creds)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(ioOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(translator.FromResults(results)); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if failed := results.Failed(); failed == len(results) {
		return fmt.Errorf("all %d targets failed", failed)
	}
	return nil
}
