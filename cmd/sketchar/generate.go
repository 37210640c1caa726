package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/sketchar/internal/generate"
)

func newGenerateCommand(configPath *string) *cobra.Command {
	var backendName string

	cmd := &cobra.Command{
		Use:   "generate <image>",
		Short: "Generate a model from one image and publish it",
		Long: `Runs a single generation job outside the HTTP service. It shares the
layout lock with a running service, so the two never overlap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			rt, err := openRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.orch.Run(cmd.Context(), generate.Request{
				Image:   data,
				Ext:     filepath.Ext(args[0]),
				Backend: backendName,
			})
			if err != nil {
				var gerr *generate.Error
				if errors.As(err, &gerr) {
					return fmt.Errorf("%s: %s", gerr.Kind, gerr.Detail())
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", "", "Backend to use (default: generation.backend)")
	return cmd
}
