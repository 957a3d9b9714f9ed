// databases.go — логические базы данных пользователя.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
)

// DatabaseService — создание и открытие логических баз.
type DatabaseService struct {
	backend backend.Backend
	logger  *slog.Logger
}

// NewDatabaseService создаёт сервис логических баз.
func NewDatabaseService(b backend.Backend, logger *slog.Logger) *DatabaseService {
	return &DatabaseService{
		backend: b,
		logger:  logger.With(slog.String("component", "database_service")),
	}
}

// Open открывает существующую базу. ErrNotFound, если её нет.
func (s *DatabaseService) Open(ctx context.Context, name string) (backend.Database, error) {
	db, err := s.backend.Database(ctx, name)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return db, nil
}

// Create создаёт пользовательскую базу. Имена частичных баз зарезервированы.
func (s *DatabaseService) Create(ctx context.Context, name string) error {
	if model.IsPartialDatabaseName(name) {
		return fmt.Errorf("%w: имя %s зарезервировано для частичных баз", ErrValidation, name)
	}
	if err := s.backend.CreateDatabase(ctx, name); err != nil {
		return mapStorageError(err)
	}
	s.logger.Info("База данных создана", slog.String("database", name))
	return nil
}

// EnableCooperativeFeatures создаёт служебные таблицы кооперативной базы хоста.
func (s *DatabaseService) EnableCooperativeFeatures(ctx context.Context, name string) error {
	db, err := s.Open(ctx, name)
	if err != nil {
		return err
	}
	if err := repository.EnsureHostTables(ctx, db); err != nil {
		return err
	}
	s.logger.Info("Кооперативные функции включены", slog.String("database", name))
	return nil
}

// HasTable сообщает, существует ли таблица в базе.
func (s *DatabaseService) HasTable(ctx context.Context, dbName, table string) (bool, error) {
	db, err := s.Open(ctx, dbName)
	if err != nil {
		return false, err
	}
	ok, err := db.HasTable(ctx, table)
	if err != nil {
		return false, fmt.Errorf("проверка таблицы %s: %w", table, mapStorageError(err))
	}
	return ok, nil
}

// OpenPartial открывает частичную базу участника для базы хоста dbName.
func (s *DatabaseService) OpenPartial(ctx context.Context, dbName string) (backend.Database, error) {
	return s.Open(ctx, model.PartialDatabaseName(dbName))
}
