package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/rescp17/ledBridge/api"
	"github.com/rescp17/ledBridge/internal/config"
	"github.com/rescp17/ledBridge/internal/logging"
	"github.com/rescp17/ledBridge/internal/observability"
	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/ble/bletest"
	"github.com/rescp17/ledBridge/pkg/discovery"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

type serveFlags struct {
	simulate  int
	logLevel  string
	logFormat string
	logFile   string
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g, f)
		},
	}
	cmd.Flags().IntVar(&f.simulate, "simulate", 0, "Serve N simulated devices instead of the Bluetooth adapter")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Write logs to this file instead of stderr")
	return cmd
}

func serve(ctx context.Context, g *globalFlags, f *serveFlags) error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return fmt.Errorf("load %s: %w", g.envFile, err)
	}
	level, err := logging.ParseLevel(f.logLevel)
	if err != nil {
		return err
	}
	closeLog, err := logging.Setup(logging.Options{Level: level, Format: f.logFormat, File: f.logFile})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLog(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}()

	cfg, err := config.Load(g.config)
	if err != nil {
		return err
	}
	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	tc := cfg.TransferConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	transfers := transfer.NewStatusManagerWithConfig(tc)

	central, err := newCentral(f.simulate, profile, tc)
	if err != nil {
		return err
	}

	m := manager.New(central, manager.Config{
		Profile:   profile,
		Transfer:  tc,
		Observers: []transfer.Observer{transfers, metrics},
		OnEvent: func(e led.Event) {
			slog.Debug("Device event", "device", e.DeviceID(), "event", fmt.Sprintf("%T", e))
		},
	})
	defer func() {
		if err := m.Close(); err != nil {
			slog.Warn("Failed to disconnect devices", "error", err)
		}
	}()
	if _, err := m.Init(ctx); err != nil {
		return err
	}

	handler := api.NewAPI(api.Options{
		Manager:     m,
		Transfers:   transfers,
		Metrics:     metrics,
		Gatherer:    reg,
		ScanTimeout: cfg.Scan.Timeout,
	})

	ln, err := net.Listen("tcp", cfg.Bridge.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Bridge.Addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	if cfg.Bridge.Announce {
		go announce(ctx, cfg.Bridge.Name, ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Bridge listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newCentral(simulate int, profile led.Profile, tc *transfer.Config) (ble.Central, error) {
	if simulate <= 0 {
		return ble.NewTinyGoCentral(bluetooth.DefaultAdapter, slog.Default()), nil
	}
	codec, err := tc.Codec()
	if err != nil {
		return nil, err
	}
	central := bletest.NewCentral()
	for i := 1; i <= simulate; i++ {
		addr := fmt.Sprintf("5A:00:00:00:00:%02X", i)
		led.NewSimulator(addr, "LED-sim-"+strconv.Itoa(i), profile, codec, 185).Register(central)
	}
	slog.Info("Serving simulated devices", "count", simulate)
	return central, nil
}

func announce(ctx context.Context, name string, addr net.Addr) {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	b := discovery.Bridge{Name: name, Port: port, Text: map[string]string{"api": "http"}}
	if err := (&discovery.MDNSAdapter{}).Announce(ctx, b); err != nil {
		slog.Warn("mDNS announcement failed", "error", err)
	}
}
