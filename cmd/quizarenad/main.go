// Command quizarenad boots the quiz game orchestration core: it wires
// Postgres (session/question storage) and Redis (live state, timers,
// event bus) into the Game Engine, Lobby Controller, Realtime Gateway,
// and HTTP front door, then serves until an interrupt arrives.
// Graceful shutdown (signal.Notify + http.Server.Shutdown with a
// bounded context) is adapted from the teacher's cmd/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizarena/engine/config"
	"github.com/quizarena/engine/eventbus"
	"github.com/quizarena/engine/gameengine"
	"github.com/quizarena/engine/gatewayserver"
	"github.com/quizarena/engine/livestate"
	"github.com/quizarena/engine/lobby"
	"github.com/quizarena/engine/questionrepo"
	"github.com/quizarena/engine/sessionstore"
	"github.com/quizarena/engine/timerqueue"
	"github.com/quizarena/engine/wsgateway"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cmd := config.New(func(cmd *cobra.Command, cfg *config.Config) error {
		return run(cmd.Context(), cfg, log)
	})

	if err := cmd.Execute(); err != nil {
		log.Error("quizarenad: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("quizarenad: connect postgres: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	questions := questionrepo.New(pool, log)
	sessions := sessionstore.New(pool)
	live := livestate.New(rdb)
	timers := timerqueue.New(rdb)
	bus := eventbus.New(rdb)

	engine := gameengine.New(cfg.Engine, log, questions, sessions, live, timers, bus)
	lobbyController := lobby.New(sessions, timers, bus, engine)
	gateway := wsgateway.New(bus, log, splitOrigins(cfg.AllowedOrigin))
	httpServer := gatewayserver.New(engine, lobbyController, sessions, gateway,
		gatewayserver.Config{AllowedOrigin: cfg.AllowedOrigin})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := engine.Run(runCtx, timers, cfg.PollInterval); err != nil {
			log.Error("quizarenad: game engine run loop exited", "error", err)
		}
	}()
	go timerqueue.Poll(runCtx, timers, timerqueue.QueueLobbyCountdown, cfg.PollInterval, log, lobbyController.HandleCountdownJob)
	go func() {
		if err := gateway.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("quizarenad: gateway run loop exited", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: httpServer.Handler(),
	}

	go func() {
		log.Info("quizarenad: listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("quizarenad: http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("quizarenad: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("quizarenad: http server shutdown error", "error", err)
	}

	log.Info("quizarenad: stopped")
	return nil
}

func splitOrigins(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	return []string{origin}
}
