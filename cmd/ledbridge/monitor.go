package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rescp17/ledBridge/pkg/ui"
)

func newMonitorCmd(g *globalFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open a live dashboard of the bridge's devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(ui.NewModel(client(g), interval), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Refresh interval")
	return cmd
}
