package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/sketchar/internal/tui"
)

func newWatchCommand(configPath *string) *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal monitor of a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				cfg, _, err := loadConfig(*configPath)
				if err != nil {
					return err
				}
				apiURL = serviceURL(cfg.API.Listen)
			}
			p := tea.NewProgram(tui.New(apiURL), tea.WithContext(cmd.Context()), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", "", "Service base URL (default: derived from api.listen)")
	return cmd
}

// serviceURL turns a listen address into a URL a local client can dial.
func serviceURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	listen = strings.Replace(listen, "0.0.0.0:", "127.0.0.1:", 1)
	return "http://" + listen
}
