package database

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/config"
	"github.com/dynamoRando/rcd-sub000/internal/testpg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMigrationURL(t *testing.T) {
	cfg := &config.Config{
		DBHost: "db.local", DBPort: 5432, DBName: "rcd",
		DBUser: "rcd", DBPassword: "p@ss/word", DBSSLMode: "disable",
	}
	got := MigrationURL(cfg)
	if !strings.HasPrefix(got, "pgx5://rcd:") {
		t.Errorf("MigrationURL() = %q, ожидается схема pgx5 и пользователь rcd", got)
	}
	if strings.Contains(got, "p@ss/word") {
		t.Errorf("пароль должен быть экранирован: %q", got)
	}
	if !strings.HasSuffix(got, "@db.local:5432/rcd?sslmode=disable") {
		t.Errorf("MigrationURL() = %q", got)
	}
}

func TestConnect(t *testing.T) {
	cfg := testpg.Start(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	// Без миграций хранилище доступно, но не готово
	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "fail" {
		t.Errorf("CheckReady() = %s (%s), ожидается fail до миграций", status, msg)
	}
}

func TestMigrate(t *testing.T) {
	cfg := testpg.Start(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if status, msg := NewReadinessChecker(pool).CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %s (%s), ожидается ok после миграций", status, msg)
	}

	tables := []string{"rcd_host_info", "cds_hosts", "cds_contracts", "rcd_logins", "rcd_roles", "rcd_tokens"}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}
}
