// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/meridian/internal/config"
	"github.com/Thermoquad/meridian/pkg/advsched"
	"github.com/Thermoquad/meridian/pkg/agnss"
	"github.com/Thermoquad/meridian/pkg/ble"
	"github.com/Thermoquad/meridian/pkg/bootflag"
	"github.com/Thermoquad/meridian/pkg/casic"
	"github.com/Thermoquad/meridian/pkg/findmy"
	"github.com/Thermoquad/meridian/pkg/fmdn"
	"github.com/Thermoquad/meridian/pkg/gnss"
	"github.com/Thermoquad/meridian/pkg/gps"
	"github.com/Thermoquad/meridian/pkg/logstore"
	"github.com/Thermoquad/meridian/pkg/protocol"
	"github.com/Thermoquad/meridian/pkg/sensors"
	"github.com/Thermoquad/meridian/pkg/system"
	"github.com/Thermoquad/meridian/pkg/timebase"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/bluetooth"
)

const (
	gnssReadTimeout = 100 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// errRestart makes the daemon exit non-zero so the supervisor starts it
// again, which is how the USB hand-off "resets" the device
var errRestart = errors.New("restarting for USB mode")

var (
	runSDRoot        string
	runStateDir      string
	runWSListen      string
	runMetricsListen string
	runNoFindMy      bool
	runNoFMDN        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracker daemon",
	Long: `Run the tracker daemon on the SBC.

Drives the GNSS receiver on the serial port (--port overrides
$MERIDIAN_GNSS_PORT), logs compressed daily tracks to the SD volume, serves
the file-transfer service over BLE and over a WebSocket bridge, samples the
battery and I2C sensors, and advertises Find My and FMDN beacons while idle.

Configuration comes from MERIDIAN_* environment variables; the flags below
override them.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSDRoot, "sd-root", "", "SD volume mount point (default $MERIDIAN_SD_ROOT)")
	runCmd.Flags().StringVar(&runStateDir, "state-dir", "", "Persistent state directory (default $MERIDIAN_STATE_DIR)")
	runCmd.Flags().StringVar(&runWSListen, "ws-listen", "", "WebSocket bridge listen address, empty disables")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "Prometheus metrics listen address, empty disables")
	runCmd.Flags().BoolVar(&runNoFindMy, "no-findmy", false, "Disable Find My advertising")
	runCmd.Flags().BoolVar(&runNoFMDN, "no-fmdn", false, "Disable FMDN advertising")
}

func loadRunConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.GNSSPort = portName
	}
	if flags.Changed("baud") {
		cfg.GNSSBaud = baudRate
	}
	if flags.Changed("sd-root") {
		cfg.SDRoot = runSDRoot
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = runStateDir
	}
	if flags.Changed("ws-listen") {
		cfg.WSListen = runWSListen
	}
	if flags.Changed("metrics-listen") {
		cfg.MetricsListen = runMetricsListen
	}
	if runNoFindMy {
		cfg.FindMy = false
	}
	if runNoFMDN {
		cfg.FMDN = false
	}
	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	flag := bootflag.New(cfg.StateDir)
	usb, err := flag.Take()
	if err != nil {
		logger.Warn("boot flag unreadable", "error", err)
	}
	if usb {
		// The volume belongs to the mass-storage host until the next restart
		logger.Info("USB mode: SD volume left to the host", "sd_root", cfg.SDRoot)
		<-ctx.Done()
		return nil
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	sys := system.New()
	store, err := logstore.Open(cfg.SDRoot, logstore.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Flush(); err != nil && !errors.Is(err, logstore.ErrUSBMode) {
			logger.Warn("final flush failed", "error", err)
		}
	}()

	// GNSS
	port, err := serial.Open(cfg.GNSSPort, &serial.Mode{BaudRate: cfg.GNSSBaud})
	if err != nil {
		return fmt.Errorf("failed to open GNSS port %s: %w", cfg.GNSSPort, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(gnssReadTimeout); err != nil {
		return fmt.Errorf("failed to set GNSS read timeout: %w", err)
	}
	power := gpioreg.ByName(cfg.GPSPin)
	if power == nil {
		return fmt.Errorf("GPS enable pin %q not found", cfg.GPSPin)
	}

	events := &casic.Events{}
	receiver := gnss.NewReceiver(sys, events, logger)
	pipeline := agnss.New(time.Now())
	machine := gps.New(gps.Config{
		System: sys,
		Events: events,
		AGNSS:  pipeline,
		UART:   port,
		Power:  power,
		Sink:   store,
		Parser: receiver,
		Logger: logger,
	})

	// BLE
	sched := advsched.New()
	radio := ble.NewRadio(bluetooth.DefaultAdapter, nil, logger)
	if err := radio.Enable(); err != nil {
		return err
	}
	clock := timebase.New(sys, nil)
	apple := findmy.New(findmy.Config{
		Store:      store,
		System:     sys,
		Clock:      clock,
		Scheduler:  sched,
		Advertiser: radio,
		Logger:     logger,
		Disabled:   !cfg.FindMy,
	})
	if err := apple.Load(); err != nil {
		logger.Warn("Find My keys not loaded", "error", err)
	}
	google := fmdn.New(fmdn.Config{
		Store:      store,
		System:     sys,
		Clock:      clock,
		Scheduler:  sched,
		Advertiser: radio,
		Logger:     logger,
		Disabled:   !cfg.FMDN,
		UTP:        cfg.FMDNUTP,
	})
	if err := google.Load(); err != nil {
		logger.Warn("FMDN key not loaded", "error", err)
	}

	session := protocol.Config{
		Storage: store,
		System:  sys,
		GPS:     machine.Control(),
		AGNSS:   pipeline,
		FindMy:  apple,
		Logger:  logger,
	}
	peripheral := ble.NewPeripheral(ble.PeripheralConfig{
		Scheduler: sched,
		Radio:     radio,
		Notify:    radio.Notify,
		Session:   session,
		MTU:       cfg.ATTMTU,
		Logger:    logger,
	})
	if err := radio.Serve(peripheral); err != nil {
		return err
	}

	// USB hand-off and buttons
	var restarting atomic.Bool
	transition := bootflag.NewTransition(bootflag.TransitionConfig{
		Flag:   flag,
		Volume: store,
		Reset: func() error {
			restarting.Store(true)
			cancel()
			return nil
		},
		Logger: logger,
	})
	buttons := &bootflag.Buttons{
		BLE:        peripheral,
		Store:      store,
		Transition: transition,
		Logger:     logger,
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("task failed", "task", name, "error", err)
				cancel()
			}
		}()
	}

	start("gnss-rx", func(ctx context.Context) error { return receiver.Run(ctx, port) })
	start("gps", machine.Run)
	start("ble", peripheral.Run)
	start("findmy", apple.Run)
	start("fmdn", google.Run)
	startSensors(cfg, sys, peripheral, logger, start)

	var servers []*http.Server
	if cfg.WSListen != "" {
		bridge := &Bridge{
			Session:  session,
			System:   sys,
			Buttons:  buttons,
			Username: cfg.WSUsername,
			Password: cfg.WSPassword,
			Logger:   logger,
		}
		servers = append(servers, serve(cfg.WSListen, bridge.Handler(), logger, cancel))
	}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/debug/events", trace.Events)
		mux.HandleFunc("/debug/requests", trace.Traces)
		servers = append(servers, serve(cfg.MetricsListen, mux, logger, cancel))
	}

	logger.Info("tracker running",
		"gnss_port", cfg.GNSSPort,
		"sd_root", cfg.SDRoot,
		"findmy", apple.Enabled(),
		"fmdn", google.Enabled(),
	)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
	wg.Wait()

	if restarting.Load() {
		return errRestart
	}
	return nil
}

// startSensors opens whatever sensors the board has. Missing sensors are
// logged and skipped.
func startSensors(cfg config.Config, sys *system.System, peripheral *ble.Peripheral, logger *slog.Logger, start func(string, func(context.Context) error)) {
	if cfg.BatteryADC != "" {
		battery := sensors.NewBattery(sensors.IIOChannel{Path: cfg.BatteryADC}, sys)
		start("battery", func(ctx context.Context) error {
			return sensors.Run(ctx, "battery", sensors.BatteryInterval, battery)
		})
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		logger.Warn("I2C bus unavailable, sensors disabled", "bus", cfg.I2CBus, "error", err)
		return
	}
	start("i2c", func(ctx context.Context) error {
		<-ctx.Done()
		return bus.Close()
	})

	if dev, err := sensors.OpenBMP280(bus); err != nil {
		logger.Warn("BMP280 not found", "error", err)
	} else {
		env := sensors.NewEnvironment(dev, sys)
		start("bmp280", func(ctx context.Context) error {
			return sensors.Run(ctx, "bmp280", sensors.EnvironmentInterval, env)
		})
	}

	if acc, err := sensors.OpenLIS3DH(bus); err != nil {
		logger.Warn("LIS3DH not found", "error", err)
	} else {
		motion := sensors.NewMotion(acc, sys, peripheral.RequestFastAdvertising)
		start("lis3dh", func(ctx context.Context) error {
			return sensors.Run(ctx, "lis3dh", sensors.MotionInterval, motion)
		})
	}
}

func serve(addr string, h http.Handler, logger *slog.Logger, cancel context.CancelFunc) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "addr", addr, "error", err)
			cancel()
		}
	}()
	return srv
}
