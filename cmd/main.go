package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	grpcapi "vet-scribe-service/internal/api/grpc"
	"vet-scribe-service/internal/app"
	"vet-scribe-service/internal/config"
	apihttp "vet-scribe-service/internal/http"
	"vet-scribe-service/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg)
	if err := a.Start(ctx); err != nil {
		a.Logger.Fatal().Err(err).Msg("failed to start application")
	}

	api := &http.Server{
		Addr: ":" + cfg.Service.HTTPPort,
		Handler: apihttp.NewRouter(apihttp.Deps{
			Recordings:  a.Manager,
			Transcripts: a.Store,
			Notes:       a.Notes,
			Watchers:    a.Hub,
			Format:      a.StreamFormat(),
			StopTimeout: cfg.Recording.FlushTimeout + cfg.Recording.ConnectTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	obs := observability.NewServer(":"+cfg.Service.MetricsPort, prometheus.DefaultGatherer,
		a.Store.Ping,
	)

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		a.Logger.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("failed to listen")
	}
	grpcServer := grpcapi.New(a.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", api.Addr).Msg("Recording API started")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(obs.ListenAndServe)
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	grpcServer.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		grpcServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Finish active recordings before the listeners go away.
		appErr := a.Shutdown(shutdownCtx)
		grpcServer.Shutdown(shutdownCtx)
		return errors.Join(appErr, api.Shutdown(shutdownCtx), obs.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
	a.Logger.Info().Msg("service stopped")
}
