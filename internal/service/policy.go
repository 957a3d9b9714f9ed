// policy.go — политики хранения таблиц (логическая репликация).
// Политики читаются на каждом запросе, поэтому кэшируются в
// expirable LRU; запись политики обновляет кэш этого экземпляра.
// Существование таблицы проверяется всегда, мимо кэша.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/sqlinspect"
)

// Prometheus-метрики кэша политик.
var (
	policyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcd_policy_cache_hits_total",
		Help: "Общее количество попаданий в кэш политик хранения.",
	})
	policyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcd_policy_cache_misses_total",
		Help: "Общее количество промахов кэша политик хранения.",
	})
)

// PolicyService — движок политик хранения.
type PolicyService struct {
	dbs    *DatabaseService
	cache  *expirable.LRU[string, model.LogicalStoragePolicy]
	logger *slog.Logger
}

// NewPolicyService создаёт движок политик с кэшем maxSize записей и временем жизни ttl.
func NewPolicyService(dbs *DatabaseService, maxSize int, ttl time.Duration, logger *slog.Logger) *PolicyService {
	return &PolicyService{
		dbs:    dbs,
		cache:  expirable.NewLRU[string, model.LogicalStoragePolicy](maxSize, nil, ttl),
		logger: logger.With(slog.String("component", "policy_service")),
	}
}

func policyKey(dbName, table string) string {
	return dbName + "\x00" + table
}

// GetPolicy возвращает политику таблицы. ErrTableNotFound, если таблицы нет;
// для существующей таблицы без политики — PolicyNone без ошибки.
func (s *PolicyService) GetPolicy(ctx context.Context, dbName, table string) (model.LogicalStoragePolicy, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return model.PolicyNone, err
	}
	return s.policyOf(ctx, db, table)
}

func (s *PolicyService) policyOf(ctx context.Context, db backend.Database, table string) (model.LogicalStoragePolicy, error) {
	key := policyKey(db.Name(), table)

	// Таблица могла быть удалена после попадания политики в кэш
	exists, err := db.HasTable(ctx, table)
	if err != nil {
		return model.PolicyNone, fmt.Errorf("проверка таблицы %s: %w", table, mapStorageError(err))
	}
	if !exists {
		s.cache.Remove(key)
		return model.PolicyNone, fmt.Errorf("%w: %s.%s", ErrTableNotFound, db.Name(), table)
	}

	if p, ok := s.cache.Get(key); ok {
		policyCacheHitsTotal.Inc()
		return p, nil
	}
	policyCacheMissesTotal.Inc()

	// Служебные таблицы не созданы — политики ещё не задавались
	coop, err := db.HasTable(ctx, model.TableRemotes)
	if err != nil {
		return model.PolicyNone, fmt.Errorf("проверка служебных таблиц: %w", mapStorageError(err))
	}
	if !coop {
		return model.PolicyNone, nil
	}

	p, err := repository.NewPolicyRepository(db).Get(ctx, table)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p = model.PolicyNone
		} else {
			return model.PolicyNone, err
		}
	}
	s.cache.Add(key, p)
	return p, nil
}

// SetPolicy задаёт политику таблицы и публикует её текущую схему.
func (s *PolicyService) SetPolicy(ctx context.Context, dbName, table string, policy model.LogicalStoragePolicy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: неизвестная политика хранения %d", ErrValidation, policy)
	}
	if model.IsServiceTable(table) {
		return fmt.Errorf("%w: таблица %s служебная", ErrValidation, table)
	}

	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return err
	}
	ts, err := db.TableSchema(ctx, table)
	if err != nil {
		return mapStorageError(err)
	}

	if err := repository.EnsureHostTables(ctx, db); err != nil {
		return err
	}
	if err := repository.NewPolicyRepository(db).Upsert(ctx, table, policy); err != nil {
		return err
	}
	if policy.IsCooperative() {
		if err := repository.EnsureLedgerTables(ctx, db, table); err != nil {
			return err
		}
	}

	published := repository.NewPublishedSchemaRepository(db)
	if _, err := published.DatabaseID(ctx, dbName); err != nil {
		return err
	}
	if err := published.PublishTable(ctx, ts); err != nil {
		return err
	}

	s.cache.Add(policyKey(db.Name(), table), policy)
	s.logger.Info("Политика хранения задана",
		slog.String("database", dbName),
		slog.String("table", table),
		slog.String("policy", policy.String()),
	)
	return nil
}

// CooperativeTablesIn возвращает таблицы выражения с политикой
// Mirror, ParticipantOwned или Shared.
func (s *PolicyService) CooperativeTablesIn(ctx context.Context, db backend.Database, stmt *sqlinspect.Statement) ([]string, error) {
	var result []string
	for _, table := range stmt.Tables {
		p, err := s.policyOf(ctx, db, table)
		if err != nil {
			// Таблица, которой ещё нет (CREATE TABLE), не кооперативная
			if errors.Is(err, ErrTableNotFound) {
				continue
			}
			return nil, err
		}
		if p.IsCooperative() {
			result = append(result, table)
		}
	}
	return result, nil
}

// UnsetTables возвращает пользовательские таблицы базы без политики хранения.
func (s *PolicyService) UnsetTables(ctx context.Context, db backend.Database) ([]string, error) {
	tables, err := db.UserTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение таблиц базы %s: %w", db.Name(), mapStorageError(err))
	}
	var unset []string
	for _, t := range tables {
		p, err := s.policyOf(ctx, db, t)
		if err != nil {
			return nil, err
		}
		if p == model.PolicyNone {
			unset = append(unset, t)
		}
	}
	return unset, nil
}
