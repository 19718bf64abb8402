package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescp17/ledBridge/api"
	"github.com/rescp17/ledBridge/internal/util"
	"github.com/rescp17/ledBridge/pkg/discovery"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
)

func client(g *globalFlags) *api.Client { return api.NewClient(g.bridgeURL) }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDevices(w io.Writer, g *globalFlags, devices []manager.Device) error {
	if g.jsonOut {
		return printJSON(w, devices)
	}
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		connected := "no"
		if d.Connected {
			connected = "yes"
		}
		rows = append(rows, []string{d.Address, d.LocalName, strconv.Itoa(int(d.RSSI)), connected, d.State})
	}
	_, err := io.WriteString(w, util.Table([]string{"ADDRESS", "NAME", "RSSI", "CONNECTED", "STATE"}, rows))
	return err
}

func newScanCmd(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for LED devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := client(g).Scan(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), g, devices)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Scan duration; the bridge default when zero")
	return cmd
}

func newDevicesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List known devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := client(g).Devices(cmd.Context())
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), g, devices)
		},
	}
}

func newConnectCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <address>",
		Short: "Connect a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client(g).Connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), g, []manager.Device{d})
		},
	}
}

func newDisconnectCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <address>",
		Short: "Disconnect a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client(g).Disconnect(cmd.Context(), args[0])
		},
	}
}

func newStateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "state <address>",
		Short: "Read the on/off state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := client(g).State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), api.StateResponse{State: state})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), state)
			return err
		},
	}
}

func newControlCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "control <address> <open|close|reset>",
		Short:     "Send a control command",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"open", "close", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := led.ParseCommand(args[1])
			if err != nil {
				return err
			}
			return client(g).Control(cmd.Context(), args[0], c)
		},
	}
}

// documentCmd builds the get/set pair shared by scene and timer.
func documentCmd(use, short string, get func(ctx context.Context, id string) (any, error), set func(ctx context.Context, id string, doc json.RawMessage) error) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <address>",
		Short: "Read the document from the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	})

	var file string
	setCmd := &cobra.Command{
		Use:   "set <address> [document]",
		Short: "Write a JSON document to the device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				doc json.RawMessage
				err error
			)
			switch {
			case len(args) == 2:
				doc, err = util.ReadJSON(strings.NewReader(args[1]))
			case file != "":
				doc, err = util.ReadJSONFile(file)
			default:
				return fmt.Errorf("pass a document or --file")
			}
			if err != nil {
				return err
			}
			return set(cmd.Context(), args[0], doc)
		},
	}
	setCmd.Flags().StringVarP(&file, "file", "f", "", `Read the document from a file, "-" for stdin`)
	cmd.AddCommand(setCmd)
	return cmd
}

func newSceneCmd(g *globalFlags) *cobra.Command {
	return documentCmd("scene", "Read or write the active scene",
		func(ctx context.Context, id string) (any, error) { return client(g).Scene(ctx, id) },
		func(ctx context.Context, id string, doc json.RawMessage) error { return client(g).SetScene(ctx, id, doc) },
	)
}

func newTimerCmd(g *globalFlags) *cobra.Command {
	return documentCmd("timer", "Read or write the time tasks",
		func(ctx context.Context, id string) (any, error) { return client(g).TimeTasks(ctx, id) },
		func(ctx context.Context, id string, doc json.RawMessage) error { return client(g).SetTimeTasks(ctx, id, doc) },
	)
}

func newTransfersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transfers",
		Short: "Show recent chunked transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client(g).Transfers(cmd.Context())
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			rows := make([][]string, 0, len(resp.Transfers))
			for _, t := range resp.Transfers {
				rows = append(rows, []string{
					t.Device, t.Endpoint, string(t.Direction), t.State.String(),
					util.FormatSize(t.TotalBytes), strconv.Itoa(t.Chunks), t.LastError,
				})
			}
			_, err = io.WriteString(cmd.OutOrStdout(), util.Table(
				[]string{"DEVICE", "ENDPOINT", "DIRECTION", "STATE", "SIZE", "CHUNKS", "ERROR"}, rows))
			return err
		},
	}
}

func newBridgesCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "bridges",
		Short: "Find bridges on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			bridges, err := discovery.Browse(ctx, &discovery.MDNSAdapter{})
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(bridges))
			for _, b := range bridges {
				rows = append(rows, []string{b.Name, b.URL(), b.InstanceID()})
			}
			_, err = io.WriteString(cmd.OutOrStdout(), util.Table([]string{"NAME", "URL", "ID"}, rows))
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to browse")
	return cmd
}
