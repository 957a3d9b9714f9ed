// pending_action.go — очередь отложенных действий участника.
//
// Поставленное в очередь изменение хоста применяется только при явном
// принятии: выражение выполняется в одной транзакции с удалением записи
// очереди, поэтому повторное принятие невозможно. После применения
// участник сообщает хосту новые хэши строк.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// Шаги принятия отложенного действия.
const (
	stepApplyAction = "apply_action"
)

// PendingActionService — просмотр и принятие отложенных действий.
type PendingActionService struct {
	dbs       *DatabaseService
	contracts *PendingContractService
	hostInfo  *HostInfoService
	remote    RemoteClient
	logger    *slog.Logger
}

// NewPendingActionService создаёт сервис очереди отложенных действий.
func NewPendingActionService(dbs *DatabaseService, contracts *PendingContractService, hostInfo *HostInfoService,
	remote RemoteClient, logger *slog.Logger) *PendingActionService {
	return &PendingActionService{
		dbs:       dbs,
		contracts: contracts,
		hostInfo:  hostInfo,
		remote:    remote,
		logger:    logger.With(slog.String("component", "pending_action_service")),
	}
}

func (s *PendingActionService) queue(ctx context.Context, dbName, table string) (backend.Database, repository.QueueRepository, error) {
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return nil, nil, err
	}
	ok, err := db.HasTable(ctx, model.QueueTableName(table))
	if err != nil {
		return nil, nil, mapStorageError(err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: очередь %s.%s", ErrTableNotFound, db.Name(), table)
	}
	return db, repository.NewQueueRepository(db), nil
}

// List возвращает отложенные действия таблицы указанного вида
// (ActionUnknown — все).
func (s *PendingActionService) List(ctx context.Context, dbName, table string, kind model.PendingActionKind) ([]*model.PendingAction, error) {
	_, queue, err := s.queue(ctx, dbName, table)
	if err != nil {
		return nil, err
	}
	return queue.List(ctx, table, kind)
}

// Accept применяет отложенное действие и уведомляет хост о новых хэшах.
// Сбой уведомления не отменяет применённого изменения: результат содержит
// SagaResult с невыполненным шагом notify_host.
func (s *PendingActionService) Accept(ctx context.Context, dbName, table string, id int64) (*model.PartialDataResult, *SagaResult, error) {
	db, queue, err := s.queue(ctx, dbName, table)
	if err != nil {
		return nil, nil, err
	}
	action, err := queue.Get(ctx, table, id)
	if err != nil {
		return nil, nil, mapStorageError(err)
	}

	ids, err := affectedRowIDs(ctx, db, table, action.WhereClause)
	if err != nil {
		return nil, nil, err
	}

	saga := newSaga("accept_pending_action")
	err = db.InTx(ctx, func(tx backend.Executor) error {
		if _, err := tx.Exec(ctx, backend.TrimStatement(action.Statement)); err != nil {
			return fmt.Errorf("выполнение %s для %s: %w", action.Kind, table, mapStorageError(err))
		}
		return queue.Delete(ctx, tx, table, id)
	})
	if err != nil {
		return nil, saga, saga.fail(stepApplyAction, err)
	}
	saga.complete(stepApplyAction)

	rows, err := rowsAfter(ctx, db, action.Kind, table, ids)
	if err != nil {
		return nil, saga, saga.fail(stepNotifyHost, err)
	}
	result := &model.PartialDataResult{IsSuccessful: true, Rows: rows}

	s.logger.Info("Отложенное действие применено",
		slog.String("database", db.Name()),
		slog.String("table", table),
		slog.Int64("action_id", id),
		slog.String("action", action.Kind.String()),
		slog.Int("rows", len(rows)),
	)

	if err := s.notifyHost(ctx, model.HostDatabaseName(db.Name()), table, action, rows); err != nil {
		out := saga.fail(stepNotifyHost, err)
		s.logger.Warn("Хост не уведомлён о применённом действии",
			slog.String("database", db.Name()),
			slog.String("table", table),
			slog.Int64("action_id", id),
			slog.String("error", err.Error()),
		)
		result.Message = saga.Message()
		return result, saga, out
	}
	saga.complete(stepNotifyHost)
	return result, saga, nil
}

// notifyHost сообщает хосту, запросившему действие, новые хэши строк
// или факт их удаления.
func (s *PendingActionService) notifyHost(ctx context.Context, dbName, table string,
	action *model.PendingAction, rows []model.RowHash) error {
	if len(rows) == 0 {
		return nil
	}
	cc, err := s.contracts.acceptedContractFor(ctx, dbName, action.RequestingHostID)
	if err != nil {
		return err
	}
	auth := wire.AuthRequest{
		UserName: cc.ParticipantAlias,
		Token:    wire.EncodeToken(s.hostInfo.Current().Token),
	}
	baseURL := hostURL(cc.Host)

	for _, r := range rows {
		var reply wire.Reply
		switch action.Kind {
		case model.ActionDelete:
			req := &wire.NotifyRowRemovedRequest{DatabaseName: dbName, TableName: table, RowID: r.RowID}
			req.Authentication = auth
			reply, err = s.remote.NotifyRowRemoved(ctx, baseURL, req)
			if err == nil {
				err = checkReply(wire.OpNotifyHostOfRemovedRow, reply)
			}
		default:
			req := &wire.UpdateRowHashRequest{DatabaseName: dbName, TableName: table, RowID: r.RowID, UpdatedHash: r.Hash}
			req.Authentication = auth
			reply, err = s.remote.UpdateRowHash(ctx, baseURL, req)
			if err == nil {
				err = checkReply(wire.OpUpdateRowDataHashForHost, reply)
			}
		}
		if err != nil {
			return mapRemoteError(err)
		}
	}
	return nil
}
