//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/config"
	"github.com/unclebandit/wa-broadcast/internal/db"
	"github.com/unclebandit/wa-broadcast/internal/logger"
)

func main() {
	migrationsDir := flag.String("migrations", "migrations", "directory of schema migrations")
	seedDir := flag.String("seed", "seed", "directory of seed data; empty to skip")
	flag.Parse()

	if err := run(*migrationsDir, *seedDir); err != nil {
		fmt.Fprintln(os.Stderr, "seeder:", err)
		os.Exit(1)
	}
}

func run(migrationsDir, seedDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := applyDir(ctx, conn, migrationsDir, log); err != nil {
		return err
	}
	if seedDir != "" {
		if err := applyDir(ctx, conn, seedDir, log); err != nil {
			return err
		}
	}

	log.Info("Database seeding completed successfully!")
	return nil
}

// applyDir executes every .sql file of dir in lexical order.
func applyDir(ctx context.Context, conn *sql.DB, dir string, log *zap.Logger) error {
	files, err := sqlFiles(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		log.Info("Applied", zap.String("file", file))
	}
	return nil
}

func sqlFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
