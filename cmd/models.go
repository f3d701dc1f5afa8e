package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"piesta-gateway/internal/router"
)

type modelInfo struct {
	ID       string `json:"id" yaml:"id"`
	Family   string `json:"family" yaml:"family"`
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

func newModelsCmd(flags *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models with their family and fallback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(flags, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func runModels(flags *rootFlags, output string) error {
	if output != "yaml" && output != "json" {
		return fmt.Errorf("unsupported --output %q, want yaml or json", output)
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	rt, err := router.New(cat)
	if err != nil {
		return err
	}

	list := make([]modelInfo, 0)
	for _, m := range rt.Models() {
		list = append(list, modelInfo{ID: m.ID, Family: string(m.Family), Fallback: m.Fallback})
	}

	var data []byte
	if output == "json" {
		data, err = json.MarshalIndent(list, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(list)
	}
	if err != nil {
		return fmt.Errorf("encoding models: %w", err)
	}

	_, err = ioOut.Write(data)
	return err
}
