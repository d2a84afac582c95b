package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/config"
	"github.com/tomdray/library/internal/httpapi"
	"github.com/tomdray/library/internal/library"
	"github.com/tomdray/library/internal/service/circulation"
	"github.com/tomdray/library/internal/service/reports"
	"github.com/tomdray/library/internal/storage/memory"
	pgstore "github.com/tomdray/library/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger (slog to stdout). Level via LOG_LEVEL; format via LOG_FORMAT (json|text, default json)
	logger := buildLoggerFromEnv()
	slog.SetDefault(logger)

	policy, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	var srvMux http.Handler
	var closeFn func()

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		// Use Postgres store when DATABASE_URL is provided
		pg, err := pgstore.Open(ctx, dsn)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		closeFn = func() { pg.Close() }
		// Optional dev seed for compose/local
		if dev := strings.ToLower(strings.TrimSpace(os.Getenv("DEV_SEED"))); dev == "1" || dev == "true" || dev == "yes" {
			users, books, err := pg.SeedDev(ctx)
			if err != nil {
				logger.Error("dev seed failed", "err", err)
			} else {
				logDevSeed(logger, "postgres", users, books)
				printDevSeedBanner(users, books)
			}
		}
		circ := circulation.New(pg, policy)
		rep := reports.New(pg, policy)
		srvMux = httpapi.New(circ, rep, pg, pg, pg, logger).Handler()
		logger.Info("storage backend: postgres")
	} else {
		// Default to in-memory store with a small dev seed
		store := memory.New()
		member := library.User{ID: uuid.New(), Name: "Dev Member", Email: "member@example.com", Role: library.RoleMember}
		staff := library.User{ID: uuid.New(), Name: "Dev Librarian", Email: "librarian@example.com", Role: library.RoleLibrarian}
		store.SeedUser(member)
		store.SeedUser(staff)
		books := []library.Book{
			{ID: uuid.New(), ISBN: "978-0134190440", Title: "The Go Programming Language", TotalCopies: 2, AvailableCopies: 2},
			{ID: uuid.New(), ISBN: "978-1449373320", Title: "Designing Data-Intensive Applications", TotalCopies: 1, AvailableCopies: 1},
		}
		for _, b := range books {
			store.SeedBook(b)
		}
		logDevSeed(logger, "memory", []library.User{member, staff}, books)
		printDevSeedBanner([]library.User{member, staff}, books)
		circ := circulation.New(store, policy)
		rep := reports.New(store, policy)
		srvMux = httpapi.New(circ, rep, store, store, store, logger).Handler()
		logger.Info("storage backend: memory")
	}

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           srvMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("library service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	if closeFn != nil {
		closeFn()
	}
}

// logDevSeed emits structured logs with useful IDs
func logDevSeed(l *slog.Logger, backend string, users []library.User, books []library.Book) {
	ids := map[string]string{}
	for _, u := range users {
		if u.Role == library.RoleMember {
			ids["member_id"] = u.ID.String()
		} else {
			ids["librarian_id"] = u.ID.String()
		}
	}
	for i, b := range books {
		ids[fmt.Sprintf("book_%d_id", i+1)] = b.ID.String()
	}
	l.Info("DEV seed ("+backend+")", "ids", ids)
}

// printDevSeedBanner prints a simple banner to stdout for easy copy/paste of IDs
func printDevSeedBanner(users []library.User, books []library.Book) {
	fmt.Println("==================== DEV SEED ====================")
	for _, u := range users {
		fmt.Printf("%s_id: %s\n", u.Role, u.ID.String())
	}
	for _, b := range books {
		fmt.Printf("book %q: %s (copies: %d)\n", b.Title, b.ID.String(), b.TotalCopies)
	}
	fmt.Println("==================================================")
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "ERR", "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLoggerFromEnv() *slog.Logger {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))
	format := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
