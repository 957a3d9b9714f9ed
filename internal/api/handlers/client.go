// client.go — клиентская группа операций (POST /client/v1/<Операция>).
// Каждая операция аутентифицирует клиента, вызывает сервисный слой и
// переводит ошибку сервиса в is_successful/message ответа.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/service"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// Services — сервисы, которые вызывает клиентская группа.
type Services struct {
	Auth             *service.AuthService
	HostInfo         *service.HostInfoService
	Databases        *service.DatabaseService
	Policies         *service.PolicyService
	Contracts        *service.ContractService
	Participants     *service.ParticipantService
	PendingContracts *service.PendingContractService
	PendingActions   *service.PendingActionService
	Partial          *service.PartialService
	Ledger           *service.LedgerService
	Coordinator      *service.Coordinator
}

// ClientHandler — обработчик клиентских операций.
type ClientHandler struct {
	svc    Services
	logger *slog.Logger
}

// NewClientHandler создаёт обработчик клиентских операций.
func NewClientHandler(svc Services, logger *slog.Logger) *ClientHandler {
	return &ClientHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "client_handler")),
	}
}

func (h *ClientHandler) operations() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		wire.OpIsOnline:                      h.IsOnline,
		wire.OpAuthForToken:                  h.AuthForToken,
		wire.OpRevokeToken:                   h.RevokeToken,
		wire.OpCreateUserDatabase:            h.CreateUserDatabase,
		wire.OpEnableCooperativeFeatures:     h.EnableCooperativeFeatures,
		wire.OpHasTable:                      h.HasTable,
		wire.OpExecuteRead:                   h.ExecuteRead,
		wire.OpExecuteWrite:                  h.ExecuteWrite,
		wire.OpExecuteCooperativeWrite:       h.ExecuteCooperativeWrite,
		wire.OpSetLogicalStoragePolicy:       h.SetLogicalStoragePolicy,
		wire.OpGetLogicalStoragePolicy:       h.GetLogicalStoragePolicy,
		wire.OpGenerateContract:              h.GenerateContract,
		wire.OpGetActiveContract:             h.GetActiveContract,
		wire.OpAddParticipant:                h.AddParticipant,
		wire.OpGetParticipants:               h.GetParticipants,
		wire.OpSendParticipantContract:       h.SendParticipantContract,
		wire.OpViewPendingContracts:          h.ViewPendingContracts,
		wire.OpAcceptPendingContract:         h.AcceptPendingContract,
		wire.OpRejectPendingContract:         h.RejectPendingContract,
		wire.OpGenerateHostInfo:              h.GenerateHostInfo,
		wire.OpGetHostInfo:                   h.GetHostInfo,
		wire.OpChangeUpdatesFromHostBehavior: h.ChangeUpdatesFromHostBehavior,
		wire.OpChangeDeletesFromHostBehavior: h.ChangeDeletesFromHostBehavior,
		wire.OpGetPendingActions:             h.GetPendingActionsAtParticipant,
		wire.OpAcceptPendingAction:           h.AcceptPendingActionAtParticipant,
		wire.OpGetDataHashAtHost:             h.GetDataHashAtHost,
		wire.OpGetDataHashAtParticipant:      h.GetDataHashAtParticipant,
	}
}

// serve декодирует запрос, аутентифицирует клиента и выполняет fn.
// До вызова fn ответ помечается успешным; fn может сам выставить
// неуспех, ошибка fn попадает в message.
func (h *ClientHandler) serve(w http.ResponseWriter, r *http.Request, op string,
	req wire.Request, reply wire.Reply, fn func(ctx context.Context) error) {
	if !decode(w, r, req) {
		return
	}
	ctx := r.Context()
	a := req.Auth()

	userName, ok := h.svc.Auth.AuthenticateClient(ctx, a)
	if !ok {
		msg := service.ErrAuthenticationFailure.Error()
		reply.SetAuth(wire.AuthResult{UserName: a.UserName, Message: msg})
		reply.SetStatus(false, msg)
		writeReply(w, reply)
		return
	}
	reply.SetAuth(wire.AuthResult{IsAuthenticated: true, UserName: userName})
	reply.SetStatus(true, "")

	if err := fn(ctx); err != nil {
		h.logger.Warn("Операция не выполнена",
			slog.String("operation", op),
			slog.String("user_name", userName),
			slog.String("error", err.Error()),
		)
		reply.SetStatus(false, err.Error())
	}
	writeReply(w, reply)
}

// IsOnline возвращает присланное сообщение без аутентификации.
func (h *ClientHandler) IsOnline(w http.ResponseWriter, r *http.Request) {
	var req wire.IsOnlineRequest
	if decode(w, r, &req) {
		writeJSON(w, http.StatusOK, wire.IsOnlineReply{EchoMessage: req.EchoMessage})
	}
}

// AuthForToken выдаёт JWT по паролю.
func (h *ClientHandler) AuthForToken(w http.ResponseWriter, r *http.Request) {
	var req wire.RequestBase
	reply := &wire.AuthForTokenReply{}
	h.serve(w, r, wire.OpAuthForToken, &req, reply, func(ctx context.Context) error {
		token, expires, err := h.svc.Auth.AuthForToken(ctx, req.Authentication.UserName, req.Authentication.Pw)
		if err != nil {
			return err
		}
		reply.Jwt = token
		reply.ExpirationUTC = expires
		return nil
	})
}

// RevokeToken отзывает JWT, которым аутентифицирован запрос.
func (h *ClientHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req wire.RequestBase
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpRevokeToken, &req, reply, func(ctx context.Context) error {
		if req.Authentication.Token == "" {
			return fmt.Errorf("%w: запрос аутентифицирован без токена", service.ErrValidation)
		}
		return h.svc.Auth.RevokeToken(ctx, req.Authentication.Token)
	})
}

// CreateUserDatabase создаёт пользовательскую базу.
func (h *ClientHandler) CreateUserDatabase(w http.ResponseWriter, r *http.Request) {
	var req wire.DatabaseRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpCreateUserDatabase, &req, reply, func(ctx context.Context) error {
		return h.svc.Databases.Create(ctx, req.DatabaseName)
	})
}

// EnableCooperativeFeatures создаёт служебные таблицы базы хоста.
func (h *ClientHandler) EnableCooperativeFeatures(w http.ResponseWriter, r *http.Request) {
	var req wire.DatabaseRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpEnableCooperativeFeatures, &req, reply, func(ctx context.Context) error {
		return h.svc.Databases.EnableCooperativeFeatures(ctx, req.DatabaseName)
	})
}

// HasTable сообщает, существует ли таблица.
func (h *ClientHandler) HasTable(w http.ResponseWriter, r *http.Request) {
	var req wire.TableRequest
	reply := &wire.HasTableReply{}
	h.serve(w, r, wire.OpHasTable, &req, reply, func(ctx context.Context) error {
		ok, err := h.svc.Databases.HasTable(ctx, req.DatabaseName, req.TableName)
		reply.HasTable = ok
		return err
	})
}

// ExecuteRead выполняет чтение; кооперативные таблицы читаются у участников.
func (h *ClientHandler) ExecuteRead(w http.ResponseWriter, r *http.Request) {
	var req wire.ExecuteReadRequest
	reply := &wire.ExecuteReadReply{}
	h.serve(w, r, wire.OpExecuteRead, &req, reply, func(ctx context.Context) error {
		rs, err := h.svc.Coordinator.ExecuteRead(ctx, req.DatabaseName, req.SQLStatement)
		reply.Results = rs
		return err
	})
}

// ExecuteWrite выполняет запись в локальную базу.
func (h *ClientHandler) ExecuteWrite(w http.ResponseWriter, r *http.Request) {
	var req wire.ExecuteWriteRequest
	reply := &wire.ExecuteWriteReply{}
	h.serve(w, r, wire.OpExecuteWrite, &req, reply, func(ctx context.Context) error {
		n, err := h.svc.Coordinator.ExecuteWrite(ctx, req.DatabaseName, req.SQLStatement)
		reply.TotalRowsAffected = n
		return err
	})
}

// ExecuteCooperativeWrite выполняет запись в кооперативную таблицу через участника.
func (h *ClientHandler) ExecuteCooperativeWrite(w http.ResponseWriter, r *http.Request) {
	var req wire.ExecuteCooperativeWriteRequest
	reply := &wire.ExecuteCooperativeWriteReply{}
	h.serve(w, r, wire.OpExecuteCooperativeWrite, &req, reply, func(ctx context.Context) error {
		res, err := h.svc.Coordinator.ExecuteCooperativeWrite(ctx, req.DatabaseName, req.SQLStatement, req.Alias, req.WhereClause)
		if res != nil {
			reply.TotalRowsAffected = res.RowsAffected
			reply.IsPending = res.IsPending
			reply.Saga = res.Saga.Wire()
			reply.SetStatus(res.IsSuccessful, res.Message)
		}
		return err
	})
}

// SetLogicalStoragePolicy задаёт политику хранения таблицы.
func (h *ClientHandler) SetLogicalStoragePolicy(w http.ResponseWriter, r *http.Request) {
	var req wire.SetPolicyRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpSetLogicalStoragePolicy, &req, reply, func(ctx context.Context) error {
		return h.svc.Policies.SetPolicy(ctx, req.DatabaseName, req.TableName, model.LogicalStoragePolicy(req.PolicyMode))
	})
}

// GetLogicalStoragePolicy возвращает политику хранения таблицы.
func (h *ClientHandler) GetLogicalStoragePolicy(w http.ResponseWriter, r *http.Request) {
	var req wire.TableRequest
	reply := &wire.GetPolicyReply{}
	h.serve(w, r, wire.OpGetLogicalStoragePolicy, &req, reply, func(ctx context.Context) error {
		p, err := h.svc.Policies.GetPolicy(ctx, req.DatabaseName, req.TableName)
		if err != nil {
			return err
		}
		reply.PolicyMode = int(p)
		reply.PolicyName = p.String()
		return nil
	})
}

// GenerateContract создаёт новый контракт базы. Если не у всех таблиц
// задана политика, ответ перечисляет такие таблицы.
func (h *ClientHandler) GenerateContract(w http.ResponseWriter, r *http.Request) {
	var req wire.GenerateContractRequest
	reply := &wire.GenerateContractReply{}
	h.serve(w, r, wire.OpGenerateContract, &req, reply, func(ctx context.Context) error {
		_, err := h.svc.Contracts.Generate(ctx, req.DatabaseName, req.HostName, req.Description,
			model.RemoteDeleteBehavior(req.RemoteDeleteBehavior))
		var unset *service.NotAllTablesSetError
		if errors.As(err, &unset) {
			reply.Tables = unset.Tables
		}
		return err
	})
}

// GetActiveContract возвращает действующий контракт базы.
func (h *ClientHandler) GetActiveContract(w http.ResponseWriter, r *http.Request) {
	var req wire.DatabaseRequest
	reply := &wire.GetActiveContractReply{}
	h.serve(w, r, wire.OpGetActiveContract, &req, reply, func(ctx context.Context) error {
		c, err := h.svc.Contracts.GetActive(ctx, req.DatabaseName)
		if err != nil {
			return err
		}
		host := h.svc.HostInfo.Identity()
		host.Token = nil
		contract := wire.NewContract(c, c.Schema, host, model.ContractStatusNotSent, "")
		reply.Contract = &contract
		return nil
	})
}

// AddParticipant регистрирует участника базы.
func (h *ClientHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req wire.AddParticipantRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpAddParticipant, &req, reply, func(ctx context.Context) error {
		added, err := h.svc.Participants.Add(ctx, req.DatabaseName, model.Participant{
			Alias:      req.Alias,
			IP4Address: req.IP4Address,
			Port:       req.Port,
			HTTPAddr:   req.HTTPAddr,
			HTTPPort:   req.HTTPPort,
		})
		if err != nil {
			return err
		}
		if !added {
			reply.SetStatus(false, fmt.Sprintf("участник %s уже зарегистрирован", req.Alias))
		}
		return nil
	})
}

// GetParticipants возвращает участников базы.
func (h *ClientHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	var req wire.DatabaseRequest
	reply := &wire.GetParticipantsReply{}
	h.serve(w, r, wire.OpGetParticipants, &req, reply, func(ctx context.Context) error {
		list, err := h.svc.Participants.List(ctx, req.DatabaseName)
		if err != nil {
			return err
		}
		reply.Participants = make([]wire.ParticipantStatus, 0, len(list))
		for _, p := range list {
			reply.Participants = append(reply.Participants, participantStatus(p))
		}
		return nil
	})
}

func participantStatus(p *model.Participant) wire.ParticipantStatus {
	st := wire.ParticipantStatus{
		InternalID:     p.InternalID,
		Alias:          p.Alias,
		IP4Address:     p.IP4Address,
		Port:           p.Port,
		HTTPAddr:       p.HTTPAddr,
		HTTPPort:       p.HTTPPort,
		ContractStatus: int(p.ContractStatus),
	}
	if p.AcceptedContractVersion != nil {
		st.AcceptedContractVersion = *p.AcceptedContractVersion
	}
	if p.ParticipantID != nil {
		st.ParticipantID = *p.ParticipantID
	}
	return st
}

// SendParticipantContract отправляет действующий контракт участнику.
func (h *ClientHandler) SendParticipantContract(w http.ResponseWriter, r *http.Request) {
	var req wire.SendParticipantContractRequest
	reply := &wire.SendParticipantContractReply{}
	h.serve(w, r, wire.OpSendParticipantContract, &req, reply, func(ctx context.Context) error {
		sent, err := h.svc.Participants.SendContract(ctx, req.DatabaseName, req.ParticipantAlias)
		reply.IsSent = sent
		reply.ContractStatus = int(h.participantContractStatus(ctx, req.DatabaseName, req.ParticipantAlias))
		return err
	})
}

// participantContractStatus — текущий статус контракта участника
// (Unknown, если участник не найден).
func (h *ClientHandler) participantContractStatus(ctx context.Context, dbName, alias string) model.ContractStatus {
	list, err := h.svc.Participants.List(ctx, dbName)
	if err != nil {
		return model.ContractStatusUnknown
	}
	for _, p := range list {
		if p.Alias == alias {
			return p.ContractStatus
		}
	}
	return model.ContractStatusUnknown
}

// ViewPendingContracts возвращает контракты, ожидающие решения участника.
func (h *ClientHandler) ViewPendingContracts(w http.ResponseWriter, r *http.Request) {
	var req wire.RequestBase
	reply := &wire.ViewPendingContractsReply{}
	h.serve(w, r, wire.OpViewPendingContracts, &req, reply, func(ctx context.Context) error {
		pending, err := h.svc.PendingContracts.ViewPending(ctx)
		if err != nil {
			return err
		}
		reply.Contracts = make([]wire.Contract, 0, len(pending))
		for _, cc := range pending {
			c := wire.FromCached(cc)
			c.HostInfo.Token = nil
			reply.Contracts = append(reply.Contracts, c)
		}
		return nil
	})
}

// AcceptPendingContract принимает контракт хоста.
func (h *ClientHandler) AcceptPendingContract(w http.ResponseWriter, r *http.Request) {
	var req wire.HostAliasRequest
	reply := &wire.AcceptPendingContractReply{}
	h.serve(w, r, wire.OpAcceptPendingContract, &req, reply, func(ctx context.Context) error {
		saga, err := h.svc.PendingContracts.Accept(ctx, req.HostAlias, req.DatabaseName)
		reply.Saga = saga.Wire()
		return err
	})
}

// RejectPendingContract отклоняет контракт хоста.
func (h *ClientHandler) RejectPendingContract(w http.ResponseWriter, r *http.Request) {
	var req wire.HostAliasRequest
	reply := &wire.AcceptPendingContractReply{}
	h.serve(w, r, wire.OpRejectPendingContract, &req, reply, func(ctx context.Context) error {
		saga, err := h.svc.PendingContracts.Reject(ctx, req.HostAlias, req.DatabaseName)
		reply.Saga = saga.Wire()
		return err
	})
}

// GenerateHostInfo (пере)генерирует идентичность хоста.
func (h *ClientHandler) GenerateHostInfo(w http.ResponseWriter, r *http.Request) {
	var req wire.GenerateHostInfoRequest
	reply := &wire.HostInfoReply{}
	h.serve(w, r, wire.OpGenerateHostInfo, &req, reply, func(ctx context.Context) error {
		info, err := h.svc.HostInfo.Generate(ctx, req.HostName)
		if err != nil {
			return err
		}
		reply.HostID = info.ID
		reply.HostName = info.Name
		return nil
	})
}

// GetHostInfo возвращает идентичность хоста без токена.
func (h *ClientHandler) GetHostInfo(w http.ResponseWriter, r *http.Request) {
	var req wire.RequestBase
	reply := &wire.HostInfoReply{}
	h.serve(w, r, wire.OpGetHostInfo, &req, reply, func(context.Context) error {
		info := h.svc.HostInfo.Current()
		if info.IsZero() {
			return fmt.Errorf("%w: идентичность хоста не сгенерирована", service.ErrNotFound)
		}
		reply.HostID = info.ID
		reply.HostName = info.Name
		return nil
	})
}

// ChangeUpdatesFromHostBehavior меняет реакцию участника на UPDATE хоста.
func (h *ClientHandler) ChangeUpdatesFromHostBehavior(w http.ResponseWriter, r *http.Request) {
	var req wire.ChangeBehaviorRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpChangeUpdatesFromHostBehavior, &req, reply, func(ctx context.Context) error {
		return h.svc.Partial.ChangeUpdatesBehavior(ctx, req.DatabaseName, req.TableName,
			model.UpdatesFromHostBehavior(req.Behavior))
	})
}

// ChangeDeletesFromHostBehavior меняет реакцию участника на DELETE хоста.
func (h *ClientHandler) ChangeDeletesFromHostBehavior(w http.ResponseWriter, r *http.Request) {
	var req wire.ChangeBehaviorRequest
	reply := &wire.StatusReply{}
	h.serve(w, r, wire.OpChangeDeletesFromHostBehavior, &req, reply, func(ctx context.Context) error {
		return h.svc.Partial.ChangeDeletesBehavior(ctx, req.DatabaseName, req.TableName,
			model.DeletesFromHostBehavior(req.Behavior))
	})
}

// GetPendingActionsAtParticipant возвращает очередь частичной таблицы.
// Пустой action — действия всех видов.
func (h *ClientHandler) GetPendingActionsAtParticipant(w http.ResponseWriter, r *http.Request) {
	var req wire.GetPendingActionsRequest
	reply := &wire.GetPendingActionsReply{}
	h.serve(w, r, wire.OpGetPendingActions, &req, reply, func(ctx context.Context) error {
		kind := model.ActionUnknown
		if req.Action != "" {
			k, err := model.ParsePendingActionKind(req.Action)
			if err != nil {
				return fmt.Errorf("%w: %w", service.ErrValidation, err)
			}
			kind = k
		}
		actions, err := h.svc.PendingActions.List(ctx, req.DatabaseName, req.TableName, kind)
		if err != nil {
			return err
		}
		reply.PendingActions = make([]wire.PendingAction, 0, len(actions))
		for _, a := range actions {
			reply.PendingActions = append(reply.PendingActions, wire.PendingAction{
				RowID:       a.ID,
				Statement:   a.Statement,
				WhereClause: a.WhereClause,
				Action:      a.Kind.String(),
				RequestedAt: a.RequestedAt,
				HostID:      a.RequestingHostID,
			})
		}
		return nil
	})
}

// AcceptPendingActionAtParticipant применяет отложенное действие.
func (h *ClientHandler) AcceptPendingActionAtParticipant(w http.ResponseWriter, r *http.Request) {
	var req wire.AcceptPendingActionRequest
	reply := &wire.AcceptPendingActionReply{}
	h.serve(w, r, wire.OpAcceptPendingAction, &req, reply, func(ctx context.Context) error {
		res, saga, err := h.svc.PendingActions.Accept(ctx, req.DatabaseName, req.TableName, req.RowID)
		reply.Saga = saga.Wire()
		if res != nil {
			reply.Rows = res.Rows
		}
		return err
	})
}

// GetDataHashAtHost возвращает хэш строки из журнала хоста.
func (h *ClientHandler) GetDataHashAtHost(w http.ResponseWriter, r *http.Request) {
	var req wire.GetDataHashRequest
	reply := &wire.GetDataHashReply{}
	h.serve(w, r, wire.OpGetDataHashAtHost, &req, reply, func(ctx context.Context) error {
		hash, err := h.svc.Ledger.GetDataHashAtHost(ctx, req.DatabaseName, req.TableName, req.Alias, req.RowID)
		reply.DataHash = hash
		return err
	})
}

// GetDataHashAtParticipant возвращает хэш строки частичной таблицы.
func (h *ClientHandler) GetDataHashAtParticipant(w http.ResponseWriter, r *http.Request) {
	var req wire.GetDataHashRequest
	reply := &wire.GetDataHashReply{}
	h.serve(w, r, wire.OpGetDataHashAtParticipant, &req, reply, func(ctx context.Context) error {
		hash, err := h.svc.Partial.GetDataHash(ctx, req.DatabaseName, req.TableName, req.RowID)
		reply.DataHash = hash
		return err
	})
}
