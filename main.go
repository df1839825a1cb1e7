package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fibonacci-trader/api"
	"fibonacci-trader/broker"
	"fibonacci-trader/config"
	"fibonacci-trader/daemon"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/logging"
	"fibonacci-trader/metrics"
	"fibonacci-trader/models"
	"fibonacci-trader/status"
	"fibonacci-trader/strategy"
	"fibonacci-trader/web_interface"
)

var (
	cfg    *config.Config
	logger *logging.Logger
)

// Initialize logging with the provided configuration
func initLogging() error {
	logLevel := logging.LogLevel(cfg.LogLevel)
	if cfg.Debug {
		logLevel = logging.DEBUG
	}

	var err error
	logger, err = logging.NewLogger(
		cfg.LogFile,
		cfg.LogMaxSize,
		cfg.LogMaxBackups,
		cfg.LogMaxAge,
		cfg.LogCompress,
		logLevel,
	)

	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// newBroker builds the configured broker
func newBroker() (interfaces.Broker, error) {
	switch cfg.Broker {
	case "rest":
		return api.NewRESTClient(cfg, logger.ForAsset("bridge")), nil
	case "paper":
		paper := broker.NewPaperBroker(broker.PaperConfig{
			Equity:       cfg.PaperEquity,
			Point:        cfg.PaperPoint,
			TickValue:    cfg.PaperTickValue,
			SpreadPoints: cfg.PaperSpread,
			VolumeMin:    cfg.PaperVolMin,
			VolumeMax:    cfg.PaperVolMax,
			VolumeStep:   cfg.PaperVolStep,
			StartPrice:   cfg.PaperStart,
			Seed:         cfg.PaperSeed,
			History:      cfg.Strategy.BarCount * 2,
			Timeframe:    cfg.Timeframe,
			Symbols:      cfg.Symbols,
		}, logger.ForAsset("paper"))
		if cfg.PaperDataFile != "" {
			bars, err := broker.LoadCSV(cfg.PaperDataFile)
			if err != nil {
				return nil, fmt.Errorf("paper data %s: %w", cfg.PaperDataFile, err)
			}
			for _, s := range cfg.Symbols {
				if err := paper.LoadBars(s, bars, cfg.Strategy.BarCount); err != nil {
					return nil, err
				}
			}
			logInfo("Paper broker replaying %d bars from %s", len(bars), cfg.PaperDataFile)
		}
		return paper, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// handleDaemonCommands runs a daemon control command and reports whether
// one was given
func handleDaemonCommands(start, stop, restart bool) bool {
	if !start && !stop && !restart {
		return false
	}
	if err := initLogging(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	args := daemon.StripArgs(os.Args[1:], "start-daemon", "stop-daemon", "restart-daemon")

	switch {
	case start:
		logInfo("Starting daemon...")
		if err := daemon.StartDaemon(cfg.PIDFile, args); err != nil {
			logFatal("Failed to start daemon: %v", err)
		}
	case stop:
		logInfo("Stopping daemon...")
		if err := daemon.StopDaemon(cfg.PIDFile); err != nil {
			logFatal("Failed to stop daemon: %v", err)
		}
	case restart:
		logInfo("Restarting daemon...")
		if err := daemon.RestartDaemon(cfg.PIDFile, args); err != nil {
			logFatal("Failed to restart daemon: %v", err)
		}
	}
	return true
}

func withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.Strategy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Strategy.CallTimeout)
}

// watchEquity samples account equity for the dashboard and metrics
func watchEquity(ctx context.Context, b interfaces.Broker, ui *web_interface.WebUI) {
	ui.StartPeriodicUpdates(ctx, cfg.AccountRefresh, func(ctx context.Context) (web_interface.Message, bool) {
		callCtx, cancel := withCallTimeout(ctx)
		defer cancel()
		equity, err := b.AccountEquity(callCtx)
		if err != nil {
			logWarning("Equity refresh failed: %v", err)
			return web_interface.Message{}, false
		}
		metrics.Equity.Set(equity)
		return web_interface.Message{
			Type: web_interface.TypeEquity,
			Data: web_interface.EquityData{Equity: equity, Time: time.Now()},
		}, true
	})
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg = config.LoadConfig()

	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML file with symbols, timeframe and strategy settings")
	brokerName := flag.String("broker", "", "broker to use: paper or rest (overrides BROKER)")
	daemonStart := flag.Bool("start-daemon", false, "Start the application as a daemon")
	daemonStop := flag.Bool("stop-daemon", false, "Stop the daemon process")
	daemonRestart := flag.Bool("restart-daemon", false, "Restart the daemon process")
	debugFlag := flag.Bool("debug", cfg.Debug, "enable debug logs")
	flag.Parse()

	cfg.Debug = *debugFlag
	if *brokerName != "" {
		cfg.Broker = strings.ToLower(*brokerName)
	}
	if *configFile != "" {
		if err := cfg.ApplyFile(*configFile); err != nil {
			log.Fatalf("Failed to load %s: %v", *configFile, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if handleDaemonCommands(*daemonStart, *daemonStop, *daemonRestart) {
		return
	}

	if err := initLogging(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	logInfo("Application starting...")
	logInfo("Daemon mode: %t", cfg.DaemonMode || daemon.IsDaemon())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := newBroker()
	if err != nil {
		logFatal("Broker: %v", err)
	}
	symCtx, cancel := withCallTimeout(ctx)
	if symbols, err := b.Symbols(symCtx); err != nil {
		logWarning("Could not list %s symbols: %v", b.Name(), err)
	} else {
		logInfo("Broker %s offers %d symbols: %s", b.Name(), len(symbols), strings.Join(symbols, ", "))
	}
	cancel()

	manager := strategy.NewManager(ctx, b, cfg.Strategy, logger)

	ui := web_interface.NewWebUI(logger.ForAsset("webui"), func() interface{} {
		return manager.Snapshots()
	})
	logger.AddHook(ui.LogHook())
	manager.OnUpdate = func(s models.StrategySnapshot) {
		ui.PublishSnapshot(s)
	}
	go ui.Run(ctx)
	go watchEquity(ctx, b, ui)

	server := status.StartServer(cfg, manager, ui, logger.ForAsset("status"))

	started := 0
	for _, symbol := range cfg.Symbols {
		if err := manager.Start(symbol, cfg.Timeframe, cfg.LotBase); err != nil {
			logError("Strategy %s not started: %v", symbol, err)
			continue
		}
		started++
	}
	if started == 0 && server == nil {
		logFatal("No strategy could be started and the status server is disabled")
	}
	logInfo("%d of %d strategies running on %s", started, len(cfg.Symbols), cfg.Timeframe)

	<-ctx.Done()
	logInfo("Shutdown requested, waiting for running ticks to finish...")

	manager.StopAll()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logError("Status server shutdown: %v", err)
		}
		cancel()
	}
	if err := logger.Sync(); err != nil {
		log.Printf("log sync: %v", err)
	}
	logInfo("Application stopped")
}

// logInfo logs info messages
func logInfo(format string, v ...interface{}) {
	logger.Info(format, v...)
}

// logWarning logs warning messages
func logWarning(format string, v ...interface{}) {
	logger.Warning(format, v...)
}

// logError logs error messages
func logError(format string, v ...interface{}) {
	logger.Error(format, v...)
}

// logFatal logs fatal messages and exits
func logFatal(format string, v ...interface{}) {
	logger.Fatal(format, v...)
}
