package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/benchlab/fleetbench/internal/ble"
	"github.com/benchlab/fleetbench/internal/config"
	"github.com/benchlab/fleetbench/internal/coordinator"
	"github.com/benchlab/fleetbench/internal/gpio"
	"github.com/benchlab/fleetbench/internal/httpapi"
	"github.com/benchlab/fleetbench/internal/radio"
	"github.com/benchlab/fleetbench/internal/serial"
	"github.com/benchlab/fleetbench/internal/slotmap"
	"github.com/benchlab/fleetbench/internal/version"
)

var (
	flagConfigPath string
	flagEnvPath    string
	flagSim        bool
	flagGPIOBase   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the test bench host daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfigPath, "config", "bench.yaml", "path to bench.yaml")
	serveCmd.Flags().StringVar(&flagEnvPath, "env", ".env", "path to a .env override file")
	serveCmd.Flags().BoolVar(&flagSim, "sim", false, "force simulated radio/ble/gpio backends even on linux")
	serveCmd.Flags().StringVar(&flagGPIOBase, "gpio-sysfs-base", "", "override /sys/class/gpio root (testing)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("component", "benchd").Logger()
	log.Info().Str("version", version.Info()).Msg("starting")

	cfg, err := config.LoadYAML(flagConfigPath)
	if err != nil {
		return err
	}
	cfg, err = config.ApplyEnvFile(cfg, flagEnvPath)
	if err != nil {
		return err
	}
	cfg = config.ApplyOSEnviron(cfg)

	entries, err := slotmap.Load(cfg.SlotMap)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Warn().Str("path", cfg.SlotMap).Msg("slot map not found, starting with zero slots")
		entries = nil
	}

	sim := flagSim || runtime.GOOS != "linux"

	deps := coordinator.Deps{
		Entries:      entries,
		BindHost:     cfg.BindHost,
		FirmwareRoot: cfg.Firmware.Root,
		ActivityCap:  0,
		Log:          log,
	}

	if sim {
		deps.Open = serial.OpenSim
		deps.RadioBackend = radio.NewSimBackend(nil)
		deps.BLEBackend = ble.NewSimBackend(nil, nil, "")
		deps.GPIOLine = gpio.NewSim()
		log.Warn().Msg("running with simulated radio/ble/gpio backends")
	} else {
		deps.Open = serial.OpenReal
		deps.RadioBackend = radio.NewSubprocessBackend(cfg.Wireless.Interface, "/run/benchd", log)
		hci, err := ble.NewHCIBackend(0)
		if err != nil {
			log.Warn().Err(err).Msg("ble hci backend unavailable, continuing without bluetooth")
		} else {
			deps.BLEBackend = hci
		}
		deps.GPIOLine = gpio.NewSysfsLine(flagGPIOBase)
	}
	deps.GPIOAllowed = cfg.GPIO.AllowedPins
	if len(cfg.GPIO.RecoveryPins) > 0 {
		pins := make(map[string]coordinator.RecoveryPins, len(cfg.GPIO.RecoveryPins))
		for slotKey, p := range cfg.GPIO.RecoveryPins {
			pins[slotKey] = coordinator.RecoveryPins{BootSelect: p.BootSelect, Reset: p.Reset}
		}
		deps.RecoveryPins = pins
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord, err := coordinator.New(ctx, deps)
	if err != nil {
		return err
	}

	coord.BootScanDefaultPaths()
	if err := coord.StartUDPLog(cfg.UDPLog.Port); err != nil {
		log.Warn().Err(err).Int("port", cfg.UDPLog.Port).Msg("udp log sink did not start")
	}

	srv := httpapi.New(coord)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("coordinator shutdown")
	}
	return nil
}
