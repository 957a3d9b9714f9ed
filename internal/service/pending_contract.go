// pending_contract.go — контракты, полученные участником от хостов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// Шаги принятия и отклонения контракта.
const (
	stepMarkAccepted          = "mark_accepted"
	stepMarkRejected          = "mark_rejected"
	stepCreatePartialDatabase = "create_partial_database"
	stepNotifyHost            = "notify_host"
)

// PendingContractService — входящие контракты участника.
type PendingContractService struct {
	cached     repository.CachedContractRepository
	knownHosts repository.KnownHostRepository
	partial    *PartialService
	hostInfo   *HostInfoService
	remote     RemoteClient
	logger     *slog.Logger
}

// NewPendingContractService создаёт сервис входящих контрактов.
func NewPendingContractService(
	cached repository.CachedContractRepository,
	knownHosts repository.KnownHostRepository,
	partial *PartialService,
	hostInfo *HostInfoService,
	remote RemoteClient,
	logger *slog.Logger,
) *PendingContractService {
	return &PendingContractService{
		cached:     cached,
		knownHosts: knownHosts,
		partial:    partial,
		hostInfo:   hostInfo,
		remote:     remote,
		logger:     logger.With(slog.String("component", "pending_contract_service")),
	}
}

// Save сохраняет полученный контракт со статусом Pending и запоминает
// хост-отправитель. Повторное получение той же версии не является ошибкой.
func (s *PendingContractService) Save(ctx context.Context, cc *model.CachedContract) error {
	if cc.VersionID == "" || cc.Host.HostID == "" {
		return fmt.Errorf("%w: контракт без версии или идентификатора хоста", ErrValidation)
	}
	if cc.DatabaseName == "" {
		return fmt.Errorf("%w: контракт без имени базы", ErrValidation)
	}
	cc.Status = model.ContractStatusPending
	if cc.ReceivedAt.IsZero() {
		cc.ReceivedAt = time.Now().UTC()
	}

	if err := s.knownHosts.Upsert(ctx, &cc.Host); err != nil {
		return err
	}
	if err := s.cached.Save(ctx, cc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Debug("Контракт уже сохранён", slog.String("version_id", cc.VersionID))
			return nil
		}
		return err
	}

	s.logger.Info("Получен контракт",
		slog.String("host_name", cc.Host.HostName),
		slog.String("database", cc.DatabaseName),
		slog.String("version_id", cc.VersionID),
	)
	return nil
}

// ViewPending возвращает контракты, ожидающие решения.
func (s *PendingContractService) ViewPending(ctx context.Context) ([]*model.CachedContract, error) {
	return s.cached.ListByStatus(ctx, model.ContractStatusPending)
}

// Accept принимает ожидающий контракт хоста: фиксирует решение, создаёт
// частичную базу по схеме контракта и сообщает хосту свои учётные данные.
// Выполненные шаги при сбое следующего не откатываются.
// Пустой dbName выбирает базу сам, если у хоста она одна.
func (s *PendingContractService) Accept(ctx context.Context, hostName, dbName string) (*SagaResult, error) {
	cc, err := s.cached.GetPendingByHostName(ctx, hostName, dbName)
	if err != nil {
		return nil, mapStorageError(err)
	}
	own, err := s.hostInfo.Ensure(ctx, "")
	if err != nil {
		return nil, err
	}

	saga := newSaga("accept_contract")
	if err := s.cached.UpdateStatus(ctx, cc.VersionID, model.ContractStatusAccepted, time.Now().UTC()); err != nil {
		return saga, saga.fail(stepMarkAccepted, mapStorageError(err))
	}
	saga.complete(stepMarkAccepted)

	if err := s.partial.CreateFromSchema(ctx, cc.Schema); err != nil {
		return saga, s.logFailure(saga, stepCreatePartialDatabase, err, cc)
	}
	saga.complete(stepCreatePartialDatabase)

	req := &wire.AcceptContractRequest{
		Participant:     s.identity(own, cc.ParticipantAlias),
		DatabaseName:    cc.DatabaseName,
		ContractVersion: cc.VersionID,
	}
	req.Authentication = hostCredentials(cc.Host)
	reply, err := s.remote.AcceptContract(ctx, hostURL(cc.Host), req)
	if err == nil {
		err = checkReply(wire.OpAcceptContract, reply)
	}
	if err != nil {
		return saga, s.logFailure(saga, stepNotifyHost, mapRemoteError(err), cc)
	}
	saga.complete(stepNotifyHost)

	s.logger.Info("Контракт принят",
		slog.String("host_name", cc.Host.HostName),
		slog.String("database", cc.DatabaseName),
		slog.String("version_id", cc.VersionID),
	)
	return saga, nil
}

// Reject отклоняет ожидающий контракт хоста и уведомляет хост.
func (s *PendingContractService) Reject(ctx context.Context, hostName, dbName string) (*SagaResult, error) {
	cc, err := s.cached.GetPendingByHostName(ctx, hostName, dbName)
	if err != nil {
		return nil, mapStorageError(err)
	}
	own, err := s.hostInfo.Ensure(ctx, "")
	if err != nil {
		return nil, err
	}

	saga := newSaga("reject_contract")
	if err := s.cached.UpdateStatus(ctx, cc.VersionID, model.ContractStatusRejected, time.Now().UTC()); err != nil {
		return saga, saga.fail(stepMarkRejected, mapStorageError(err))
	}
	saga.complete(stepMarkRejected)

	req := &wire.RejectContractRequest{
		Participant:     s.identity(own, cc.ParticipantAlias),
		DatabaseName:    cc.DatabaseName,
		ContractVersion: cc.VersionID,
	}
	req.Authentication = hostCredentials(cc.Host)
	reply, err := s.remote.RejectContract(ctx, hostURL(cc.Host), req)
	if err == nil {
		err = checkReply(wire.OpRejectContract, reply)
	}
	if err != nil {
		return saga, s.logFailure(saga, stepNotifyHost, mapRemoteError(err), cc)
	}
	saga.complete(stepNotifyHost)

	s.logger.Info("Контракт отклонён",
		slog.String("host_name", cc.Host.HostName),
		slog.String("database", cc.DatabaseName),
		slog.String("version_id", cc.VersionID),
	)
	return saga, nil
}

// acceptedContractFor возвращает принятый контракт базы от хоста hostID.
func (s *PendingContractService) acceptedContractFor(ctx context.Context, dbName, hostID string) (*model.CachedContract, error) {
	accepted, err := s.cached.ListByStatus(ctx, model.ContractStatusAccepted)
	if err != nil {
		return nil, err
	}
	for _, cc := range accepted {
		if cc.DatabaseName == dbName && cc.Host.HostID == hostID {
			return cc, nil
		}
	}
	return nil, fmt.Errorf("%w: нет принятого контракта базы %s от хоста %s", ErrNotFound, dbName, hostID)
}

func (s *PendingContractService) identity(own model.HostInfo, alias string) wire.ParticipantIdentity {
	adv := s.hostInfo.Advertise()
	return wire.ParticipantIdentity{
		ParticipantGUID: own.ID,
		Alias:           alias,
		IP4Address:      adv.Addr,
		Port:            adv.Port,
		HTTPAddr:        adv.Addr,
		HTTPPort:        adv.Port,
		Token:           wire.EncodeToken(own.Token),
	}
}

func (s *PendingContractService) logFailure(saga *SagaResult, step string, err error, cc *model.CachedContract) error {
	out := saga.fail(step, err)
	s.logger.Warn("Обработка контракта прервана",
		slog.String("operation", saga.Operation),
		slog.String("step", step),
		slog.Any("completed_steps", saga.CompletedSteps),
		slog.String("version_id", cc.VersionID),
		slog.String("error", err.Error()),
	)
	return out
}

// hostURL — базовый URL сервиса данных хоста из контракта.
func hostURL(h model.HostIdentity) string {
	return rcdclient.BaseURL(h.HTTPAddr, h.HTTPPort)
}

// hostCredentials — идентичность хоста из контракта, которой участник
// подтверждает обращение к этому хосту.
func hostCredentials(h model.HostIdentity) wire.AuthRequest {
	return wire.AuthRequest{UserName: h.HostID, Token: wire.EncodeToken(h.Token)}
}
