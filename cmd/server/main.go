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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/havenark/wiggly/internal/bus"
	"github.com/havenark/wiggly/internal/journal"
	"github.com/havenark/wiggly/internal/metrics"
	"github.com/havenark/wiggly/internal/progress"
	"github.com/havenark/wiggly/internal/roles"
	"github.com/havenark/wiggly/internal/session"
	"github.com/havenark/wiggly/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Local dev overrides; missing file is fine.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cached *store.CachedStore
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			cached = store.NewCachedStore(st, rdb, 30*time.Second)
			st = cached
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Session verification ---
	var accessor session.Accessor
	if authURL := os.Getenv("SUPABASE_URL"); authURL != "" {
		accessor = session.NewHostedAccessor(authURL, os.Getenv("SUPABASE_SECRET_KEY"))
		slog.Info("hosted session verification enabled")
	} else {
		slog.Warn("SUPABASE_URL not set, all requests are treated as guests")
		accessor = session.StaticAccessor{}
	}

	// --- Role cache registry ---
	registry := roles.NewRegistry(st, roles.DefaultTTL)

	// --- WebSocket hub ---
	wsHub := journal.NewWSHub()
	go wsHub.Run()

	// --- Event bus ---
	b := bus.New()
	b.Subscribe(bus.TopicClearUserCache, func(data map[string]interface{}) {
		userID, _ := data["user_id"].(string)
		if userID == "" {
			registry.ClearAll()
			return
		}
		registry.Clear(userID)
		if cached != nil {
			cached.InvalidateUser(context.Background(), userID)
		}
	})
	b.Subscribe(bus.TopicSessionFocus, func(_ map[string]interface{}) {
		registry.MarkAllStale()
	})
	b.Subscribe(bus.TopicTradeRecorded, func(data map[string]interface{}) {
		wsHub.Broadcast(journal.WSMessage{Type: "trade_recorded", Data: data})
	})
	b.Subscribe(bus.TopicProgressUpdated, func(data map[string]interface{}) {
		wsHub.Broadcast(journal.WSMessage{Type: "progress_updated", Data: data})
	})

	// --- Journal service ---
	svc := journal.NewService(st, registry, b, progress.DefaultSettleDelay)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"wiggly"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(session.Middleware(accessor))

		// WebSocket endpoint for live trade and progress updates.
		r.Get("/ws", wsHub.HandleWS)

		// Trade journal.
		r.Post("/trades", svc.CreateTrade)
		r.Get("/trades", svc.ListTrades)
		r.Get("/trades/stats", svc.TradeStats)

		// Course progress.
		r.Get("/courses/{courseID}/progress", svc.GetCourseProgress)
		r.Post("/courses/{courseID}/lessons/{lessonID}/progress", svc.MarkLessonProgress)
		r.Post("/courses/{courseID}/lessons/{lessonID}/toggle", svc.ToggleLessonCompletion)

		// Administration.
		r.Post("/admin/cache/clear", svc.ClearAllCaches)

		// Roles and session.
		r.Get("/me/roles", svc.MyRoles)
		r.Post("/auth/logout", svc.Logout)
		r.Post("/session/focus", func(w http.ResponseWriter, r *http.Request) {
			b.Publish(bus.TopicSessionFocus, nil)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("wiggly listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wiggly...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wiggly stopped")
}
