package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sweatstake/game-engine/internal/config"
	"github.com/sweatstake/game-engine/internal/game"
	"github.com/sweatstake/game-engine/internal/leaderboard"
	"github.com/sweatstake/game-engine/internal/metrics"
	"github.com/sweatstake/game-engine/internal/monitor"
	"github.com/sweatstake/game-engine/internal/odds"
	"github.com/sweatstake/game-engine/internal/scores"
	"github.com/sweatstake/game-engine/internal/settle"
	"github.com/sweatstake/game-engine/internal/store"
	"github.com/sweatstake/game-engine/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("SWEATSTAKE_CONFIG"))
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Store.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Store.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Odds provider and score sources ---
	oddsClient := odds.NewClient(
		cfg.OddsAPI.BaseURL,
		cfg.OddsAPI.APIKey,
		cfg.OddsAPI.BookmakerKey,
		cfg.OddsAPI.Timeout,
		cfg.OddsAPI.RequestsPerSec,
	)
	scorer := scores.NewCombined(
		scores.NewOddsAPISource(oddsClient, cfg.OddsAPI.ScoresDaysFrom),
		scores.NewESPNSource(cfg.ESPN.BaseURL, cfg.ESPN.Timeout, cfg.ESPN.MatchThreshold, cfg.ESPN.MatchWindow),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// --- Push channel, leaderboard, settlement, monitor, game service ---
	hub := ws.NewHub(nil)
	board := leaderboard.NewAggregator(st, hub)
	engine := settle.NewEngine(st, board, hub)
	mon := monitor.New(st, oddsClient, scorer, engine, board, hub, cfg.Monitor)
	gameSvc := game.NewService(st, oddsClient, board, mon, cfg.Game.StartingBankroll)
	hub.SetSnapshot(gameSvc)

	go hub.Run(rootCtx)
	mon.Start(rootCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"game-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for odds and leaderboard pushes.
		r.Get("/ws", hub.HandleWS)
		gameSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("game-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop the monitor (and any in-flight tick) before
	// taking the HTTP server down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down game-engine...")
	mon.Stop()
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("game-engine stopped")
}
