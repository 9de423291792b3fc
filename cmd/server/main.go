package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/chaincast/session/internal/adapters/http"
	wssignal "github.com/chaincast/session/internal/adapters/signal"
	"github.com/chaincast/session/internal/auth"
	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/hub"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("chaincast-server", pflag.ExitOnError)
	flags.String("mode", "release", "gin mode: release, debug or test")
	flags.String("log-level", "info", "zerolog level")
	flags.Int("port", 8080, "listen port")
	flags.String("store", "memory", "presence store: memory or redis")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	presence, err := openPresence(ctx, cfg.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("presence store")
	}
	defer presence.Close()

	iss, err := auth.NewIssuer(cfg.Server.JWTSecret, cfg.Server.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}

	h := hub.New(presence, cfg.Server.MaxParticipants)
	ctl := wssignal.NewController(h, cfg.Server)

	r := router.SetupRouter(ctx, cfg, h, ctl, iss)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.Server.Store).Msg("room server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openPresence(ctx context.Context, cfg config.ServerConfig) (hub.PresenceStore, error) {
	if cfg.Store == "redis" {
		return hub.DialRedis(ctx, cfg.Redis)
	}
	return hub.NewMemoryPresence(), nil
}
