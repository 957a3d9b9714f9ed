// participant.go — реестр участников базы хоста.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// ParticipantService — регистрация участников, отправка контрактов
// и фиксация решений участников.
type ParticipantService struct {
	dbs       *DatabaseService
	contracts *ContractService
	hostInfo  *HostInfoService
	remote    RemoteClient
	logger    *slog.Logger
}

// NewParticipantService создаёт реестр участников.
func NewParticipantService(dbs *DatabaseService, contracts *ContractService, hostInfo *HostInfoService,
	remote RemoteClient, logger *slog.Logger) *ParticipantService {
	return &ParticipantService{
		dbs:       dbs,
		contracts: contracts,
		hostInfo:  hostInfo,
		remote:    remote,
		logger:    logger.With(slog.String("component", "participant_service")),
	}
}

// participantURL — базовый URL сервиса данных участника.
func participantURL(p *model.Participant) string {
	return rcdclient.BaseURL(p.HTTPAddr, p.HTTPPort)
}

// Add регистрирует участника со статусом NotSent.
// Возвращает false без изменений, если псевдоним уже занят.
func (s *ParticipantService) Add(ctx context.Context, dbName string, p model.Participant) (bool, error) {
	if p.Alias == "" {
		return false, fmt.Errorf("%w: пустой псевдоним участника", ErrValidation)
	}
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return false, err
	}
	if err := repository.EnsureHostTables(ctx, db); err != nil {
		return false, err
	}

	repo := repository.NewParticipantRepository(db)
	if _, err := repo.GetByAlias(ctx, p.Alias); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, err
	}

	p.InternalID = uuid.NewString()
	p.ContractStatus = model.ContractStatusNotSent
	p.AcceptedContractVersion = nil
	p.ParticipantID = nil
	p.Token = nil
	if err := repo.Create(ctx, &p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	s.logger.Info("Участник добавлен",
		slog.String("database", dbName),
		slog.String("alias", p.Alias),
		slog.String("internal_id", p.InternalID),
	)
	return true, nil
}

// List возвращает участников базы.
func (s *ParticipantService) List(ctx context.Context, dbName string) ([]*model.Participant, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}
	ok, err := db.HasTable(ctx, model.TableParticipant)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !ok {
		return nil, nil
	}
	return repository.NewParticipantRepository(db).List(ctx)
}

// SendContract отправляет действующий контракт участнику.
// При успехе статус участника становится Pending; при ошибке вызова
// локальное состояние не меняется и возвращается false.
func (s *ParticipantService) SendContract(ctx context.Context, dbName, alias string) (bool, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return false, err
	}
	c, err := s.contracts.active(ctx, db)
	if err != nil {
		return false, err
	}
	repo := repository.NewParticipantRepository(db)
	p, err := repo.GetByAlias(ctx, alias)
	if err != nil {
		return false, mapStorageError(err)
	}

	contract, err := s.contracts.ToWire(ctx, db, c, model.ContractStatusPending, alias)
	if err != nil {
		return false, err
	}
	req := &wire.SaveContractRequest{Contract: contract}
	req.Authentication = s.hostInfo.Credentials()

	reply, err := s.remote.SaveContract(ctx, participantURL(p), req)
	if err == nil {
		err = checkReply(wire.OpSaveContract, reply)
	}
	if err != nil {
		s.logger.Warn("Контракт не отправлен участнику",
			slog.String("database", dbName),
			slog.String("alias", alias),
			slog.String("error", err.Error()),
		)
		return false, mapRemoteError(err)
	}

	if err := repo.UpdateStatus(ctx, alias, model.ContractStatusPending); err != nil {
		return false, mapStorageError(err)
	}
	s.logger.Info("Контракт отправлен участнику",
		slog.String("database", dbName),
		slog.String("alias", alias),
		slog.String("version_id", c.VersionID),
	)
	return true, nil
}

// RecordAcceptance фиксирует принятие контракта участником. Переданные
// participantID и token становятся учётными данными участника.
func (s *ParticipantService) RecordAcceptance(ctx context.Context, dbName, alias, versionID, participantID string, token []byte) error {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return err
	}
	c, err := s.contracts.active(ctx, db)
	if err != nil {
		return err
	}
	if c.VersionID != versionID {
		return fmt.Errorf("%w: версия %s не является действующей (%s)", ErrValidation, versionID, c.VersionID)
	}
	if len(token) == 0 {
		return fmt.Errorf("%w: пустой токен участника", ErrValidation)
	}

	if err := repository.NewParticipantRepository(db).RecordAcceptance(ctx, alias, versionID, participantID, token); err != nil {
		return mapStorageError(err)
	}
	s.logger.Info("Участник принял контракт",
		slog.String("database", dbName),
		slog.String("alias", alias),
		slog.String("version_id", versionID),
		slog.String("participant_id", participantID),
	)
	return nil
}

// RecordRejection фиксирует отказ участника от контракта.
func (s *ParticipantService) RecordRejection(ctx context.Context, dbName, alias string) error {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return err
	}
	if err := repository.NewParticipantRepository(db).UpdateStatus(ctx, alias, model.ContractStatusRejected); err != nil {
		return mapStorageError(err)
	}
	s.logger.Info("Участник отклонил контракт",
		slog.String("database", dbName),
		slog.String("alias", alias),
	)
	return nil
}
