package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cameroncuttingedge/cube_four/ai"
	"github.com/cameroncuttingedge/cube_four/api"
	"github.com/cameroncuttingedge/cube_four/config"
	"github.com/cameroncuttingedge/cube_four/events"
	"github.com/cameroncuttingedge/cube_four/local"
	"github.com/cameroncuttingedge/cube_four/rooms"
	"github.com/cameroncuttingedge/cube_four/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Local.Enabled {
		InitializeLogger(cfg.Logging, io.Discard)
		if err := playLocal(ctx, cfg.Local, os.Stdin, os.Stdout); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	InitializeLogger(cfg.Logging, os.Stdout)
	log.Info().Msg("Starting App")
	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// InitializeLogger points the global logger at console, and also at the log
// file when file logging is on (logging.to_file or LOGGING=true).
func InitializeLogger(cfg config.LoggingConfig, console io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.ToFile && os.Getenv("LOGGING") != "true" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return
	}
	runLogFile, err := os.OpenFile(
		cfg.File,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY,
		0664,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open log file")
	}
	multi := zerolog.MultiLevelWriter(runLogFile, console)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
}

// run serves the API and sweeps idle rooms until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	manager := rooms.NewManager(
		rooms.WithIdleTimeout(cfg.Rooms.IdleTimeout),
		rooms.WithCodeLength(cfg.Rooms.CodeLength),
	)
	hub := websocket.NewHub(manager,
		websocket.WithStartedPolicy(events.DeliveryPolicy{Delays: cfg.Events.StartedRedelivery}),
		websocket.WithRecheckInterval(cfg.Events.RecheckInterval),
		websocket.WithSendBuffer(cfg.Events.SendBuffer),
	)
	defer hub.Close()
	server := api.NewServer(manager, hub)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.StartAPI(ctx, cfg.Server.Address, server.Handler(cfg), cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return manager.Run(ctx, cfg.Rooms.SweepInterval)
	})
	return g.Wait()
}

func playLocal(ctx context.Context, cfg config.LocalConfig, in io.Reader, out io.Writer) error {
	term := local.NewTerminal(in, out)
	var opponent local.Mover = term
	if cfg.Opponent == "ai" {
		d, err := ai.ParseDifficulty(cfg.Difficulty)
		if err != nil {
			return err
		}
		opponent = local.NewComputer(uint64(time.Now().UnixNano()), d)
		fmt.Fprintf(out, "You are Player 1. The computer plays Player 2 on %s.\n", d)
	}
	m := local.NewMatch(term, opponent)
	fmt.Fprintln(out, m.Board().String())
	_, err := m.Play(ctx, func(t local.Turn) { local.Render(out, t) })
	return err
}
