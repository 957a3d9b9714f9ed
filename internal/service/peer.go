// peer.go — входящие межузловые операции (хост↔участник).
//
// Каждая операция сначала проверяет учётные данные вызывающего узла,
// затем выполняет действие и заполняет общую часть ответа. Отказ в
// аутентификации не раскрывает, какая часть учётных данных неверна.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// PeerService — обработчик межузловых операций этого процесса.
// Один процесс rcd одновременно может быть хостом одних баз и участником других.
type PeerService struct {
	auth         *AuthService
	participants *ParticipantService
	pending      *PendingContractService
	partial      *PartialService
	ledger       *LedgerService
	logger       *slog.Logger
}

// NewPeerService создаёт обработчик межузловых операций.
func NewPeerService(auth *AuthService, participants *ParticipantService, pending *PendingContractService,
	partial *PartialService, ledger *LedgerService, logger *slog.Logger) *PeerService {
	return &PeerService{
		auth:         auth,
		participants: participants,
		pending:      pending,
		partial:      partial,
		ledger:       ledger,
		logger:       logger.With(slog.String("component", "peer_service")),
	}
}

// denied заполняет ответ отказом в аутентификации.
func denied(reply wire.Reply, userName string) {
	reply.SetAuth(wire.AuthResult{UserName: userName, Message: ErrAuthenticationFailure.Error()})
	reply.SetStatus(false, ErrAuthenticationFailure.Error())
}

// granted отмечает ответ как аутентифицированный.
func granted(reply wire.Reply, userName string) {
	reply.SetAuth(wire.AuthResult{IsAuthenticated: true, UserName: userName})
}

// finishReply заполняет флаг успеха и сообщение по ошибке операции.
func (s *PeerService) finishReply(reply wire.Reply, op string, err error) {
	if err == nil {
		reply.SetStatus(true, "")
		return
	}
	if errors.Is(err, ErrAuthenticationFailure) {
		u := reply.Base().AuthenticationResult.UserName
		denied(reply, u)
		return
	}
	s.logger.Warn("Межузловая операция не выполнена",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	reply.SetStatus(false, err.Error())
}

// knownHost проверяет хост, от которого получен принятый контракт базы dbName.
func (s *PeerService) knownHost(ctx context.Context, a wire.AuthRequest, dbName string) (*model.HostIdentity, bool) {
	host, ok := s.auth.AuthenticateKnownHost(ctx, a)
	if !ok {
		return nil, false
	}
	if _, err := s.pending.acceptedContractFor(ctx, dbName, host.HostID); err != nil {
		return nil, false
	}
	return host, true
}

// SaveContract принимает контракт от хоста (сторона участника).
func (s *PeerService) SaveContract(ctx context.Context, req *wire.SaveContractRequest) *wire.SaveContractReply {
	reply := &wire.SaveContractReply{}
	cc := req.Contract.ToCached(time.Now().UTC())
	if !s.auth.AuthenticateContractSender(ctx, req.Authentication, cc.Host) {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	s.finishReply(reply, wire.OpSaveContract, s.pending.Save(ctx, cc))
	return reply
}

// AcceptContract фиксирует принятие контракта участником (сторона хоста).
func (s *PeerService) AcceptContract(ctx context.Context, req *wire.AcceptContractRequest) *wire.AcceptContractReply {
	reply := &wire.AcceptContractReply{}
	if !s.auth.AuthenticateHost(ctx, req.Authentication) {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	err := s.participants.RecordAcceptance(ctx, req.DatabaseName, req.Participant.Alias, req.ContractVersion,
		req.Participant.ParticipantGUID, wire.DecodeToken(req.Participant.Token))
	s.finishReply(reply, wire.OpAcceptContract, err)
	return reply
}

// RejectContract фиксирует отказ участника от контракта (сторона хоста).
func (s *PeerService) RejectContract(ctx context.Context, req *wire.RejectContractRequest) *wire.RejectContractReply {
	reply := &wire.RejectContractReply{}
	if !s.auth.AuthenticateHost(ctx, req.Authentication) {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	s.finishReply(reply, wire.OpRejectContract, s.participants.RecordRejection(ctx, req.DatabaseName, req.Participant.Alias))
	return reply
}

// InsertData выполняет INSERT хоста в частичной таблице (сторона участника).
func (s *PeerService) InsertData(ctx context.Context, req *wire.InsertDataRequest) *wire.InsertDataReply {
	reply := &wire.InsertDataReply{}
	if _, ok := s.knownHost(ctx, req.Authentication, req.DatabaseName); !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	row, err := s.partial.Insert(ctx, req.DatabaseName, req.TableName, req.CmdText)
	if err == nil {
		reply.RowID = row.RowID
		reply.DataHash = row.Hash
	}
	s.finishReply(reply, wire.OpInsertCommandIntoTable, err)
	return reply
}

// UpdateData применяет UPDATE хоста согласно настройкам таблицы (сторона участника).
func (s *PeerService) UpdateData(ctx context.Context, req *wire.UpdateDataRequest) *wire.UpdateDataReply {
	reply := &wire.UpdateDataReply{}
	host, ok := s.knownHost(ctx, req.Authentication, req.DatabaseName)
	if !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	res, err := s.partial.Update(ctx, host.HostID, req.DatabaseName, req.TableName, req.CmdText, req.WhereClause)
	if err != nil {
		s.finishReply(reply, wire.OpUpdateCommandIntoTable, err)
		return reply
	}
	reply.Rows = res.Rows
	reply.IsPending = res.IsPending
	reply.SetStatus(res.IsSuccessful, res.Message)
	return reply
}

// DeleteData применяет DELETE хоста согласно настройкам таблицы (сторона участника).
func (s *PeerService) DeleteData(ctx context.Context, req *wire.DeleteDataRequest) *wire.DeleteDataReply {
	reply := &wire.DeleteDataReply{}
	host, ok := s.knownHost(ctx, req.Authentication, req.DatabaseName)
	if !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	res, err := s.partial.Delete(ctx, host.HostID, req.DatabaseName, req.TableName, req.CmdText, req.WhereClause)
	if err != nil {
		s.finishReply(reply, wire.OpDeleteCommandIntoTable, err)
		return reply
	}
	reply.Rows = res.Rows
	reply.IsPending = res.IsPending
	reply.SetStatus(res.IsSuccessful, res.Message)
	return reply
}

// GetRows возвращает строки частичной таблицы с хэшами (сторона участника).
func (s *PeerService) GetRows(ctx context.Context, req *wire.GetRowRequest) *wire.GetRowReply {
	reply := &wire.GetRowReply{}
	if _, ok := s.knownHost(ctx, req.Authentication, req.DatabaseName); !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	set, err := s.partial.GetRows(ctx, req.DatabaseName, req.TableName, req.RowIDs, req.WhereClause)
	if err == nil {
		reply.Columns = set.Columns
		reply.Rows = make([]wire.Row, 0, len(set.Rows))
		for i, r := range set.Rows {
			reply.Rows = append(reply.Rows, wire.Row{RowID: r.RowID, Hash: set.Hash(i), Values: r.Values})
		}
	}
	s.finishReply(reply, wire.OpGetRowFromPartialDatabase, err)
	return reply
}

// UpdateRowHash принимает новый хэш строки от участника (сторона хоста).
func (s *PeerService) UpdateRowHash(ctx context.Context, req *wire.UpdateRowHashRequest) *wire.UpdateRowHashReply {
	reply := &wire.UpdateRowHashReply{}
	granted(reply, req.Authentication.UserName)
	err := s.ledger.UpdateRowHashForHost(ctx, req.Authentication, req.DatabaseName, req.TableName, req.RowID, req.UpdatedHash)
	s.finishReply(reply, wire.OpUpdateRowDataHashForHost, err)
	return reply
}

// NotifyRowRemoved принимает уведомление участника об удалении строки (сторона хоста).
func (s *PeerService) NotifyRowRemoved(ctx context.Context, req *wire.NotifyRowRemovedRequest) *wire.NotifyRowRemovedReply {
	reply := &wire.NotifyRowRemovedReply{}
	granted(reply, req.Authentication.UserName)
	err := s.ledger.NotifyRowRemoved(ctx, req.Authentication, req.DatabaseName, req.TableName, req.RowID)
	s.finishReply(reply, wire.OpNotifyHostOfRemovedRow, err)
	return reply
}

// CreatePartialDatabase создаёт частичную базу по запросу известного хоста.
func (s *PeerService) CreatePartialDatabase(ctx context.Context, req *wire.CreatePartialDatabaseRequest) *wire.CreatePartialDatabaseReply {
	reply := &wire.CreatePartialDatabaseReply{}
	if _, ok := s.auth.AuthenticateKnownHost(ctx, req.Authentication); !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	name, err := s.partial.CreatePartialDatabase(ctx, req.DatabaseName)
	reply.DatabaseName = name
	s.finishReply(reply, wire.OpCreatePartialDatabase, err)
	return reply
}

// CreateTable создаёт частичную таблицу по запросу известного хоста.
func (s *PeerService) CreateTable(ctx context.Context, req *wire.CreateTableRequest) *wire.CreateTableReply {
	reply := &wire.CreateTableReply{DatabaseName: req.DatabaseName, TableName: req.TableName}
	if _, ok := s.auth.AuthenticateKnownHost(ctx, req.Authentication); !ok {
		denied(reply, req.Authentication.UserName)
		return reply
	}
	granted(reply, req.Authentication.UserName)
	err := s.partial.CreateTable(ctx, req.DatabaseName, model.TableSchema{
		TableName:    req.TableName,
		DatabaseName: req.DatabaseName,
		Columns:      req.Columns,
	})
	s.finishReply(reply, wire.OpCreateTableInDatabase, err)
	return reply
}
