package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/availability"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/config"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/events"
	httpserver "github.com/Escanor68/alquilatucancha-backend-challenge/internal/interfaces/http"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/interfaces/http/handlers"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/metrics"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/ratelimit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/upstream"
)

func serveCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the availability API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store := kv.New(cfg.KV)
	defer store.Close()
	go store.Probe(ctx)

	c := cache.New(store)
	limiter := ratelimit.NewFixedWindow(cfg.RateLimit, cfg.RateWindow)
	breaker := circuit.New("upstream", cfg.Breaker)
	client := upstream.New(cfg.Upstream, c, limiter, breaker)
	go client.StartPrefetchWorker(ctx)

	planner := availability.New(client, c, cfg.FanOut)
	engine := events.New(c, cfg.PrefetchPlaceIDs, loc)

	m := metrics.New()
	m.ObserveCache(store.Stats)
	m.ObserveBreaker(breaker.Status)
	m.ObserveEvents(engine.Stats)

	server := httpserver.NewServer(httpserver.Config{
		Addr:     cfg.HTTP.Addr,
		EventRPS: cfg.HTTP.EventRPS,
	}, handlers.New(planner, engine, client, m), m)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("upstream", cfg.Upstream.BaseURL).
		Strs("prefetch_places", cfg.PrefetchPlaceIDs).
		Msg("availability: serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
