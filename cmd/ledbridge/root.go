package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultBridgeURL = "http://localhost:8321"

type globalFlags struct {
	bridgeURL string
	config    string
	envFile   string
	jsonOut   bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "ledbridge",
		Short:         "Bridge BLE LED controllers to a local HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bridge := os.Getenv("LEDBRIDGE_URL")
	if bridge == "" {
		bridge = defaultBridgeURL
	}
	cmd.PersistentFlags().StringVar(&g.bridgeURL, "bridge", bridge, "Base URL of a running bridge")
	cmd.PersistentFlags().StringVar(&g.config, "config", "", "Path to a TOML config file")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Path to a .env file")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "Print raw JSON")

	cmd.AddCommand(
		newServeCmd(g),
		newScanCmd(g),
		newDevicesCmd(g),
		newConnectCmd(g),
		newDisconnectCmd(g),
		newStateCmd(g),
		newControlCmd(g),
		newSceneCmd(g),
		newTimerCmd(g),
		newTransfersCmd(g),
		newBridgesCmd(),
		newMonitorCmd(g),
	)
	return cmd
}
