package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pulseworks/surveyd/internal/api"
	"github.com/pulseworks/surveyd/internal/db"
	"github.com/pulseworks/surveyd/internal/middleware"
	"github.com/pulseworks/surveyd/internal/push"
	"github.com/pulseworks/surveyd/internal/scheduler"
	"github.com/pulseworks/surveyd/internal/services"
)

type config struct {
	Addr            string        `env:"SURVEYD_ADDR" envDefault:":8080"`
	SQLitePath      string        `env:"SURVEYD_SQLITE_PATH"`
	MigrationsDir   string        `env:"SURVEYD_MIGRATIONS_DIR"`
	Seed            bool          `env:"SURVEYD_SEED"`
	ReminderHour    int           `env:"SURVEYD_REMINDER_HOUR" envDefault:"12"`
	ReminderTitle   string        `env:"SURVEYD_REMINDER_TITLE" envDefault:"Survey reminder"`
	ReminderMessage string        `env:"SURVEYD_REMINDER_MESSAGE" envDefault:"You have an unanswered survey waiting."`
	ReminderLockTTL time.Duration `env:"SURVEYD_REMINDER_LOCK_TTL" envDefault:"12h"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	mux := http.NewServeMux()
	router := api.NewRouter(store)
	router.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"name": "surveyd",
		})
	})

	if cfg.Seed {
		if err := api.SeedExampleData(router.Management()); err != nil {
			log.Printf("seed example data: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	surveys := services.NewSurveyService(store)
	reminders := services.NewReminderService(store, surveys, push.LogSender{},
		cfg.ReminderLockTTL, cfg.ReminderTitle, cfg.ReminderMessage)
	worker := scheduler.NewWorker(reminders, cfg.ReminderHour)
	worker.Start(ctx)
	defer worker.Stop()

	handler := middleware.NoStore(middleware.SecureHeaders(middleware.WithAuth(mux)))

	server := &http.Server{Addr: cfg.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("surveyd listening on %s", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// openStore selects SQLite when a path is configured and the in-memory store
// otherwise. The memory store enforces the same uniqueness rules, so dev mode
// behaves like production minus persistence.
func openStore(cfg config) (api.Store, error) {
	if cfg.SQLitePath == "" {
		log.Printf("no SURVEYD_SQLITE_PATH set, using in-memory store")
		return api.NewMemoryStore(), nil
	}
	sqlDB, err := db.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(sqlDB, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	return db.NewStore(sqlDB)
}
