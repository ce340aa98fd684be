// Command server boots the light-cycle arena backend: lobby manager,
// session manager, broadcast fabric, replay store and the single /ws
// surface. Entrypoint shape adapted from the teacher's cmd/server/main.go,
// generalized to a cobra command tree per SPEC_FULL.md §1/§4.11.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lightcycle-arena/server/internal/arena"
	"github.com/lightcycle-arena/server/internal/auth"
	"github.com/lightcycle-arena/server/internal/broadcast"
	"github.com/lightcycle-arena/server/internal/cache"
	"github.com/lightcycle-arena/server/internal/config"
	"github.com/lightcycle-arena/server/internal/middleware"
	"github.com/lightcycle-arena/server/internal/replay"
	"github.com/lightcycle-arena/server/internal/session"
	"github.com/lightcycle-arena/server/internal/ws"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "arena-server",
		Short: "Real-time light-cycle arena game server",
		RunE:  run,
	}
	config.RegisterFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	redisStore, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	replayStore := replay.NewStore(redisStore, cfg.MaxReplaysPerUser)

	issuer, err := auth.NewIssuer()
	if err != nil {
		return fmt.Errorf("failed to initialize reconnect token issuer: %w", err)
	}

	sessions := session.NewManager(cfg.ReconnectWindow, cfg.SessionArchiveTTL, redisStore, logger)
	fabric := broadcast.New(sessions, logger)
	lobbies := arena.NewManager(arena.Config{
		TickRate:          cfg.TickRate,
		CountdownDuration: cfg.CountdownDuration,
	}, fabric, sessions, replayStore, logger)

	wsServer := ws.NewServer(lobbies, sessions, replayStore, fabric, issuer, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(wsServer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	stopSweep := startSessionSweep(sessions, cfg.SessionSweepEvery)
	defer stopSweep()

	logger.Infof("arena server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

// startSessionSweep runs the periodic archive eviction named in spec §5
// ("session archives older than 120s are swept"), grounded on the
// teacher's cmd/db/historian.go inactivityLoop ticker shape.
func startSessionSweep(sessions *session.Manager, every time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.SweepArchives()
			}
		}
	}()
	return cancel
}
