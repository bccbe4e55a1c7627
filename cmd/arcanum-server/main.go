// Command arcanum-server is the authoritative relay server for Arcanum duels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/eikq/arcanum/internal/bot"
	"github.com/eikq/arcanum/internal/config"
	"github.com/eikq/arcanum/internal/health"
	"github.com/eikq/arcanum/internal/observe"
	"github.com/eikq/arcanum/internal/relay"
	"github.com/eikq/arcanum/internal/room"
	"github.com/eikq/arcanum/internal/spellbook"
)

// maxRoomsReady is the room count past which /readyz reports the instance as
// overloaded so load balancers stop routing new matches to it.
const maxRoomsReady = 4096

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arcanum-server: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("arcanum-server starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "arcanum-server"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(prov.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Hub and bot driver ────────────────────────────────────────────────────
	book := spellbook.Default()
	hub := newHub(cfg, book, metrics)
	hub.SetBotDriver(bot.New(bot.Config{
		Hub:        hub,
		Book:       book,
		Difficulty: bot.Difficulty(cfg.Bot.Difficulty),
	}))

	// ── HTTP routes ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/ws", relay.NewHandler(hub, metrics))
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.HubChecker(hub, maxRoomsReady),
		health.SpellbookChecker(book),
	).ReportLoad(func() health.Load {
		return health.Load{Rooms: hub.RoomCount(), QueueDepth: hub.QueueDepth()}
	}).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.GameChanged || d.BotChanged {
			slog.Warn("game or bot tuning changed on disk; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hub: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("relay listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newHub translates the game tuning block into hub options. Config durations
// are millisecond integers; mana regen is an integer rate in config but the
// hub accrues it fractionally between lazy updates.
func newHub(cfg *config.Config, book *spellbook.Book, metrics *observe.Metrics) *room.Hub {
	return room.NewHub(book, room.Options{
		Countdown:        msDur(cfg.Game.CountdownMs),
		RoundTime:        msDur(cfg.Game.RoundTimeMs),
		CastMinInterval:  msDur(cfg.Game.CastMinIntervalMs),
		QueueBotFallback: msDur(cfg.Game.QueueBotFallbackMs),
		HeartbeatSweep:   msDur(cfg.Game.HeartbeatSweepMs),
		HeartbeatTimeout: msDur(cfg.Game.HeartbeatTimeoutMs),
		ManaRegenPerSec:  float64(cfg.Game.ManaRegenPerSec),
		Metrics:          metrics,
	})
}

// loadConfig loads the file at path, falling back to defaults when the file
// does not exist. A missing config is normal for local development.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

func msDur(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
