// ledger.go — журнал хэшей строк у хоста.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// LedgerService — последние подтверждённые хэши строк участников.
type LedgerService struct {
	dbs    *DatabaseService
	auth   *AuthService
	logger *slog.Logger
}

// NewLedgerService создаёт сервис журнала хэшей.
func NewLedgerService(dbs *DatabaseService, auth *AuthService, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		dbs:    dbs,
		auth:   auth,
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// ledger открывает журнал кооперативной таблицы.
func (s *LedgerService) ledger(ctx context.Context, dbName, table string) (backend.Database, repository.LedgerRepository, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, nil, err
	}
	ok, err := db.HasTable(ctx, model.MetadataTableName(table))
	if err != nil {
		return nil, nil, mapStorageError(err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: журнал %s.%s", ErrTableNotFound, dbName, table)
	}
	return db, repository.NewLedgerRepository(db), nil
}

// Upsert записывает хэш строки участника.
func (s *LedgerService) Upsert(ctx context.Context, dbName string, rec model.RowHashRecord) error {
	_, repo, err := s.ledger(ctx, dbName, rec.TableName)
	if err != nil {
		return err
	}
	return repo.Upsert(ctx, rec)
}

// Get возвращает хэш строки участника. ErrNotFound, если записи нет.
func (s *LedgerService) Get(ctx context.Context, dbName, table string, rowID int64, participantID string) (uint64, error) {
	_, repo, err := s.ledger(ctx, dbName, table)
	if err != nil {
		return 0, err
	}
	h, err := repo.Get(ctx, table, rowID, participantID)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return h, nil
}

// Remove удаляет запись журнала и обратную ссылку на строку.
func (s *LedgerService) Remove(ctx context.Context, dbName, table string, rowID int64, participantID string) error {
	_, repo, err := s.ledger(ctx, dbName, table)
	if err != nil {
		return err
	}
	return mapStorageError(repo.Remove(ctx, table, rowID, participantID))
}

// GetDataHashAtHost возвращает хэш строки участника alias по журналу хоста.
func (s *LedgerService) GetDataHashAtHost(ctx context.Context, dbName, table, alias string, rowID int64) (uint64, error) {
	db, repo, err := s.ledger(ctx, dbName, table)
	if err != nil {
		return 0, err
	}
	p, err := repository.NewParticipantRepository(db).GetByAlias(ctx, alias)
	if err != nil {
		return 0, mapStorageError(err)
	}
	h, err := repo.Get(ctx, table, rowID, p.InternalID)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return h, nil
}

// UpdateRowHashForHost принимает от участника новый хэш строки.
func (s *LedgerService) UpdateRowHashForHost(ctx context.Context, creds wire.AuthRequest, dbName, table string,
	rowID int64, hash uint64) error {
	db, repo, p, err := s.authenticated(ctx, creds, dbName, table)
	if err != nil {
		return err
	}
	if err := repo.Upsert(ctx, model.RowHashRecord{
		TableName:     table,
		RowID:         rowID,
		ParticipantID: p.InternalID,
		Hash:          hash,
	}); err != nil {
		return err
	}
	s.logger.Debug("Хэш строки обновлён участником",
		slog.String("database", db.Name()),
		slog.String("table", table),
		slog.String("alias", p.Alias),
		slog.Int64("row_id", rowID),
	)
	return nil
}

// NotifyRowRemoved принимает от участника уведомление об удалении строки.
// Отсутствие записи журнала не является ошибкой.
func (s *LedgerService) NotifyRowRemoved(ctx context.Context, creds wire.AuthRequest, dbName, table string, rowID int64) error {
	db, repo, p, err := s.authenticated(ctx, creds, dbName, table)
	if err != nil {
		return err
	}
	if err := repo.Remove(ctx, table, rowID, p.InternalID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.logger.Info("Участник удалил строку",
		slog.String("database", db.Name()),
		slog.String("table", table),
		slog.String("alias", p.Alias),
		slog.Int64("row_id", rowID),
	)
	return nil
}

// authenticated открывает журнал после проверки учётных данных участника.
// Неизвестная база и неверные учётные данные неразличимы для вызывающего.
func (s *LedgerService) authenticated(ctx context.Context, creds wire.AuthRequest, dbName, table string) (
	backend.Database, repository.LedgerRepository, *model.Participant, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, nil, ErrAuthenticationFailure
		}
		return nil, nil, nil, err
	}
	p, ok := s.auth.AuthenticateParticipant(ctx, db, creds)
	if !ok {
		return nil, nil, nil, ErrAuthenticationFailure
	}
	_, repo, err := s.ledger(ctx, dbName, table)
	if err != nil {
		return nil, nil, nil, err
	}
	return db, repo, p, nil
}
