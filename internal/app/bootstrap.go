// Package app wires configuration, stores, services, middleware, and
// routes into a runnable HTTP handler.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/223-Media/223media-website/internal/admin"
	"github.com/223-Media/223media-website/internal/admission"
	"github.com/223-Media/223media-website/internal/auth"
	"github.com/223-Media/223media-website/internal/authz"
	"github.com/223-Media/223media-website/internal/db"
	"github.com/223-Media/223media-website/internal/httpx"
	"github.com/223-Media/223media-website/internal/identity"
	"github.com/223-Media/223media-website/internal/lockout"
	"github.com/223-Media/223media-website/internal/maintenance"
	"github.com/223-Media/223media-website/internal/observability"
	"github.com/223-Media/223media-website/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	StartSweeper  bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *zap.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	env := envOrDefault("APP_ENV", "development")
	logger := observability.NewLogger(env)

	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), env); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	bcryptCost := envIntOrDefault("BCRYPT_COST", 12)

	var (
		store    identity.Store
		database *sql.DB
	)
	if databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); databaseURL != "" {
		database, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := database.Ping(); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if options.RunMigrations {
			if err := db.RunMigrations(database); err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		store = identity.NewPostgresStore(database, bcryptCost)
	} else {
		store = identity.NewMemoryStore(bcryptCost)
	}

	closeDatabase := func() error {
		if database != nil {
			return database.Close()
		}
		return nil
	}

	if err := store.Bootstrap(context.Background(), os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = closeDatabase()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	tokens := token.NewService(store, jwtSecret).WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	locks := lockout.NewTracker(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)

	whitelist := []string{"127.0.0.1", "::1"}
	for _, ip := range strings.Split(os.Getenv("IP_WHITELIST"), ",") {
		if trimmed := strings.TrimSpace(ip); trimmed != "" {
			whitelist = append(whitelist, trimmed)
		}
	}
	limiter := admission.NewLimiter(whitelist)
	authSpeed := admission.NewAuthSpeedLimiter()

	devMode := env == "development"
	authMiddleware := authz.New(tokens, store, devMode)
	authHandler := auth.NewHandler(store, tokens, locks, env == "production",
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	adminHandler := admin.NewHandler(store, limiter)

	sweeper := maintenance.NewSweeper(
		envMinutesOrDefault("MAINTENANCE_INTERVAL_MINUTES", 60),
		logger,
		maintenance.Task{Name: "rate_limit_tracking", Run: limiter.Sweep},
		maintenance.Task{Name: "auth_speed_windows", Run: authSpeed.Sweep},
		maintenance.Task{Name: "lockout_records", Run: locks.Sweep},
		maintenance.Task{Name: "refresh_registry", Run: tokens.SweepExpired},
	)
	if options.StartSweeper {
		sweeper.Start()
	}
	cleanupHandler := maintenance.NewHandler(sweeper, os.Getenv("CRON_SECRET"))

	r := chi.NewRouter()
	r.Use(observability.Recover(logger))
	r.Use(observability.RequestLogging(logger))
	r.Use(limiter.Middleware(authSpeed))

	r.Get("/health", healthHandler(database))
	r.Get("/internal/maintenance/cleanup", cleanupHandler.Handle)
	r.Post("/internal/maintenance/cleanup", cleanupHandler.Handle)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(authz.Authorize(identity.RoleAdmin))

			r.Post("/users", adminHandler.CreateUser)
			r.Patch("/users/{email}/active", adminHandler.SetUserActive)
			r.Get("/security/rate-limits", adminHandler.RateLimitStatus)
			r.Post("/security/block", adminHandler.BlockIP)
			r.Post("/security/unblock", adminHandler.UnblockIP)
		})
	})

	return &Runtime{
		Handler: r,
		Logger:  logger,
		Close: func() error {
			sweeper.Stop()
			observability.FlushSentry()
			_ = logger.Sync()
			return closeDatabase()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.PingContext(ctx); err != nil {
				body["status"] = "degraded"
				httpx.WriteJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}

		httpx.WriteJSON(w, http.StatusOK, body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
