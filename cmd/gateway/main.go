package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/seanblong/curricache/internal/config"
	"github.com/seanblong/curricache/internal/gateway"
	"github.com/seanblong/curricache/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("curricache-gateway", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("backend", cfg.Gateway.BackendURL).Msg("starting curricache gateway")

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)

	gw := gateway.New(
		cfg.Gateway.BackendURL,
		st, st,
		gateway.NewMemStore(),
		time.Duration(cfg.Gateway.SessionTTLSec)*time.Second,
		cfg.Gateway.PayloadCacheMax,
		time.Duration(cfg.Gateway.PayloadCacheTTLSec)*time.Second,
		metrics,
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Api-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			http.Error(w, "backend store unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(cfg.Gateway.BackendURL, "/")+"/healthz", nil)
		if err == nil {
			var resp *http.Response
			if resp, err = http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					err = fmt.Errorf("status %d", resp.StatusCode)
				}
			}
		}
		if err != nil {
			http.Error(w, "query api unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Post("/ask", gw.ServeHTTP)

	address := fmt.Sprintf(":%d", cfg.Gateway.Port)
	s := &http.Server{Addr: address, Handler: r}
	logger.Info().Str("addr", s.Addr).Msg("gateway listening")
	log.Fatal(s.ListenAndServe())
}
