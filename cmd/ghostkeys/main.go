// ghostkeys - type Brazilian Portuguese on a US keyboard
//
// Keys are remapped by physical position to the ABNT2 layout while the OS
// layout stays US:
//
//	ghostkeys run         Install the keyboard hook and remap until quit
//	ghostkeys table       Print the position and accent tables
//	ghostkeys simulate    Run a key script through the simulated hook
//	ghostkeys config      Print the effective configuration
//	ghostkeys version     Print the version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"ghostkeys/internal/config"
	"ghostkeys/internal/controller"
	"ghostkeys/internal/health"
	"ghostkeys/internal/interceptor"
	"ghostkeys/internal/lifecycle"
	"ghostkeys/internal/logging"
	"ghostkeys/internal/metrics"
	"ghostkeys/internal/notify"
	"ghostkeys/internal/state"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && (len(args[0]) == 0 || args[0][0] != '-') {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "table":
		cmdTable()
	case "simulate":
		os.Exit(cmdSimulate(args))
	case "config":
		os.Exit(cmdConfig(args))
	case "version":
		fmt.Printf("%s %s\n", logging.AppName, Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`ghostkeys - ABNT2 positions on a US keyboard

USAGE:
    ghostkeys [command] [options]

COMMANDS:
    run                 Install the keyboard hook and remap (default)
    table               Print the position and accent tables
    simulate <keys>     Type a key script through the simulated hook
    config              Print the effective configuration
    version             Show the version
    help                Show this help message

RUN OPTIONS:
    -config <path>      Config file (default: config.toml in the config dir)
    -mode <mode>        Start in active or passthrough mode
    -backend <name>     auto or simulated

CONSOLE KEYS (while running):
    p    toggle active / passthrough
    s    show the current mode and health
    q    quit

KEY SCRIPTS:
    Tokens are separated by spaces. Each character of a token is a key by
    its US legend; upper case letters and shifted symbols imply Shift.
    "space" is the space bar and "wait" lets 600ms pass.

    ghostkeys simulate "[a ' o ;"       types á, õ then ç`)
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := config.FindConfigFile(); p != "" {
		return p
	}
	return config.ConfigPath()
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgFlag := fs.String("config", "", "Config file path")
	modeFlag := fs.String("mode", "", "Initial mode: active or passthrough")
	backendFlag := fs.String("backend", "", "Hook backend: auto or simulated")
	fs.Parse(args)

	loader := config.NewLoader(configPath(*cfgFlag))
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if *modeFlag != "" {
		cfg.Remap.Mode = *modeFlag
	}
	if *backendFlag != "" {
		cfg.Interceptor.Backend = *backendFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer logger.Close()
	logger = logger.WithRunID(logging.NewRunID())
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir: cfg.Crash.Dir,
		Version:  Version,
	})
	crash.SetRunID(logger.RunID())
	if cfg.Crash.MaxAgeDays > 0 {
		if err := crash.CleanupOldReports(time.Duration(cfg.Crash.MaxAgeDays) * 24 * time.Hour); err != nil {
			logger.Debug("crash report cleanup failed", "error", err)
		}
	}

	notifier := notify.New(cfg.Notify.Enabled, logger.Logger)
	guard := lifecycle.NewGuard(lifecycle.Options{
		Logger:   logger.Logger,
		Crash:    crash,
		Notifier: notifier,
	})
	defer guard.Recover("main")

	modes := state.New(cfg.Mode())
	pipeline := metrics.NewPipeline(nil)

	ic, err := interceptor.New(cfg.Interceptor.Backend, interceptor.Options{
		Logger:      logger.WithComponent("interceptor").Logger,
		Metrics:     pipeline,
		Tick:        cfg.Tick(),
		StopTimeout: cfg.StopTimeout(),
		OnFatal:     guard.OnFatal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ic.Start(ctx, modes); err != nil {
		logger.Error("keyboard hook not installed", "error", err)
		if errors.Is(err, interceptor.ErrNotAvailable) {
			fmt.Fprintln(os.Stderr, "No keyboard hook on this platform. Try: ghostkeys simulate")
		}
		return 1
	}
	guard.Arm(ic)
	logger.Info("started", "version", Version, "backend", ic.Name(), "mode", cfg.Mode().String(), "config", loader.Path())

	toggler := controller.NewToggler(modes, logger.Logger, notifier)

	checker := health.NewChecker()
	checker.RegisterFunc("hook", true, health.HookCheck(ic))
	checker.RegisterFunc("mode", true, health.ModeCheck(modes))
	checker.RegisterFunc("injection", false, health.InjectionCheck(pipeline))

	loader.OnChange(func(old, new *config.Config) {
		if old.Remap.Mode != new.Remap.Mode {
			toggler.Set(new.Mode())
		}
		if old.Logging.Level != new.Logging.Level {
			logger.SetLevel(new.LogLevel())
		}
		logger.Info("configuration reloaded")
	})
	loader.SetSpawner(guard.Go)
	if err := loader.Watch(ctx); err != nil {
		logger.Warn("config file not watched", "error", err)
	} else {
		defer loader.Close()
		guard.Go("config-errors", func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-loader.Errors():
					logger.Warn("config reload failed, keeping previous", "error", err)
				}
			}
		})
	}

	if cfg.Controller.Signals {
		lifecycle.WatchSignals(ctx, guard, modes, lifecycle.SignalHandlers{
			Toggle: toggler.Toggle,
			Reload: func() {
				if err := loader.Reload(); err != nil {
					logger.Warn("config reload failed, keeping previous", "error", err)
				}
			},
		}, logger.Logger)
	}

	var console *controller.Console
	if cfg.Controller.Console {
		console = controller.NewConsole(modes, toggler, controller.ConsoleOptions{
			Input:          os.Stdin,
			Output:         os.Stdout,
			Logger:         logger.Logger,
			ManageTerminal: true,
			Status:         func() []string { return checker.Report(ctx) },
			Go:             guard.Go,
		})
		if err := console.Start(); err != nil {
			logger.Warn("console controller not started", "error", err)
			console = nil
		} else {
			guard.OnExit(func() { _ = console.Stop() })
		}
	}

	// The hook thread also exits on its own when it sees the exit request.
	<-modes.Done()
	checker.Check(ctx)
	logger.Info("shutting down", "health", string(checker.OverallStatus()))

	if console != nil {
		if err := console.Stop(); err != nil {
			logger.Warn("console restore failed", "error", err)
		}
	}
	if err := ic.Stop(); err != nil {
		logger.Error("hook stop failed", "error", err)
	}
	guard.Disarm()

	stats := interceptor.StatsFrom(pipeline)
	logger.Info("session totals",
		"events", stats.Events,
		"replaced", stats.Replaced,
		"suppressed", stats.Suppressed,
		"injected_runes", stats.InjectedRunes,
		"dropped", stats.InjectionFailures,
	)

	if cfg.Metrics.DumpOnExit {
		pipeline.UpdateUptime()
		if err := pipeline.Registry().WritePrometheus(os.Stderr); err != nil {
			logger.Debug("metrics dump failed", "error", err)
		}
	}
	return 0
}

func cmdConfig(args []string) int {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	cfgFlag := fs.String("config", "", "Config file path")
	fs.Parse(args)

	path := configPath(*cfgFlag)
	fmt.Printf("# %s\n", path)

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	if err := config.Encode(cfg, os.Stdout, "toml"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("# configuration is valid")
	return 0
}
