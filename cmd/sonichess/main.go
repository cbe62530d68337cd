// Command sonichess is the main entry point for the sonichess server: it
// turns chess game events into sound in real time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MrWong99/sonichess/internal/app"
	"github.com/MrWong99/sonichess/internal/config"
	"github.com/MrWong99/sonichess/internal/observe"
	"github.com/MrWong99/sonichess/internal/output"
	"github.com/MrWong99/sonichess/internal/output/otoout"
	"github.com/MrWong99/sonichess/internal/output/pa"
	"github.com/MrWong99/sonichess/internal/sonify"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	watch := flag.Duration("watch", 5*time.Second, "config file polling interval; 0 disables hot reload")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonichess: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("sonichess starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	reg := config.NewRegistry()
	registerBuiltins(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	opts := []app.Option{app.WithProvider(provider), app.WithLevelVar(&level)}
	if *configPath != "" && *watch > 0 {
		opts = append(opts, app.WithConfigFile(*configPath, *watch))
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; start without -config to use defaults", path)
	}
	return cfg, err
}

// registerBuiltins wires every sonifier and output backend that ships with
// sonichess into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterSonifier(sonify.BoardName, func(m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error) {
		return sonify.NewBoard(m, p, opts...)
	})
	reg.RegisterSonifier(sonify.MelodyName, func(m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error) {
		return sonify.NewMelody(m, p, opts...)
	})

	reg.RegisterBackend(output.NullName, func(src output.Source, f output.Format) (output.Backend, error) {
		return output.NewNull(src, f)
	})
	reg.RegisterBackend(pa.Name, func(src output.Source, f output.Format) (output.Backend, error) {
		return pa.New(src, f)
	})
	reg.RegisterBackend(otoout.Name, func(src output.Source, f output.Format) (output.Backend, error) {
		return otoout.New(src, f)
	})

	for _, name := range reg.SonifierNames() {
		slog.Debug("registered sonifier", "name", name)
	}
}

func printStartupSummary(cfg *config.Config) {
	a := cfg.Audio
	latency := time.Duration(float64(a.BlockSize) / float64(a.SampleRate) * float64(time.Second))
	blockBytes := uint64(a.BlockSize * a.Channels * 4)

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        sonichess startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	row("Backend", a.Backend)
	if a.FallbackBackend != "" {
		retry := "never"
		if a.FallbackRetry > 0 {
			retry = "every " + a.FallbackRetry.String()
		}
		row("Fallback", a.FallbackBackend+" (retry "+retry+")")
	}
	row("Sample rate", humanize.SIWithDigits(float64(a.SampleRate), 1, "Hz"))
	row("Block", fmt.Sprintf("%s fr / %s", humanize.Comma(int64(a.BlockSize)), latency.Round(100*time.Microsecond)))
	row("Block buffer", humanize.IBytes(blockBytes))
	row("Channels", fmt.Sprint(a.Channels))
	row("Max voices", humanize.Comma(int64(a.MaxVoices)))
	row("Queue capacity", humanize.Comma(int64(a.QueueCapacity)))
	row("Master gain", fmt.Sprintf("%.2f", a.Gain()))
	row("Sonifier", cfg.Sonifier.Name+" / "+cfg.Sonifier.Waveform)
	if cfg.Feed.Enabled {
		row("Feed", cfg.Feed.Path)
	} else {
		row("Feed", "(disabled)")
	}
	row("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func row(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
