// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// rcd мониторит:
//   - PostgreSQL системного хранилища — SQL checker через существующий pgxpool (critical)
//   - удалённые rcd из RCD_DEPHEALTH_PEERS — HTTP checker к /health/live (non-critical)
//
// Участники и хосты, не перечисленные в конфигурации, не мониторятся:
// их недоступность обнаруживается в момент вызова (ErrRemoteUnavailable).
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
)

// peerHealthPath — liveness endpoint удалённого rcd.
const peerHealthPath = "/health/live"

// maxDepNameLen — максимальная длина имени зависимости.
const maxDepNameLen = 63

// DephealthService держит граф зависимостей узла в topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	peers  int
	logger *slog.Logger
}

// DephealthConfig описывает вершину rcd и её зависимости.
type DephealthConfig struct {
	// ServiceID — имя вершины графа ("rcd").
	ServiceID string
	// Group — RCD_DEPHEALTH_GROUP.
	Group string
	// DB получен из pgxpool через stdlib.OpenDBFromPool.
	DB *sql.DB
	// PostgresURL попадает только в лейблы метрик.
	PostgresURL string
	// Peers — базовые URL удалённых rcd.
	Peers         []string
	CheckInterval time.Duration
}

// NewDephealthService строит граф: PostgreSQL как critical и каждый
// удалённый rcd как non-critical. Без dephealth.WithRegisterer метрики
// попадают в глобальный Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger, extra ...dephealth.Option) (*DephealthService, error) {
	peerOpts, err := peerDependencies(cfg.Peers, cfg.CheckInterval)
	if err != nil {
		return nil, err
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}

	opts = append(opts, peerOpts...)
	opts = append(opts, extra...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, fmt.Errorf("topologymetrics: %w", err)
	}

	return &DephealthService{
		dh:     dh,
		peers:  len(peerOpts),
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// peerDependencies переводит URL удалённых rcd в HTTP-зависимости.
// Повторы одного адреса схлопываются.
func peerDependencies(peers []string, interval time.Duration) ([]dephealth.Option, error) {
	seen := make(map[string]bool, len(peers))
	var opts []dephealth.Option
	for _, peer := range peers {
		name, err := peerDepName(peer)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(peer),
			dephealth.WithHTTPHealthPath(peerHealthPath),
			dephealth.CheckInterval(interval),
			dephealth.Critical(false),
		}
		if strings.HasPrefix(peer, "https://") {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP(name, depOpts...))
	}
	return opts, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Int("peers", ds.peers))
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — имя зависимости → последняя проверка успешна.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// peerDepName строит имя зависимости из базового URL удалённого rcd.
func peerDepName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: некорректный URL удалённого rcd %q", ErrValidation, rawURL)
	}
	name := u.Hostname()
	if port := u.Port(); port != "" {
		name += "-" + port
	}
	return normalizePeerDepName(name), nil
}

// normalizePeerDepName приводит имя к виду [a-z][a-z0-9-]*, не длиннее 63 символов.
func normalizePeerDepName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	result := strings.Trim(b.String(), "-")
	if result == "" {
		return "unknown-peer"
	}
	if result[0] >= '0' && result[0] <= '9' {
		result = "peer-" + result
	}
	if len(result) > maxDepNameLen {
		result = strings.TrimRight(result[:maxDepNameLen], "-")
	}
	return result
}
