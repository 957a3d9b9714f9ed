package wire

import (
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// Операции клиентской группы.
const (
	OpIsOnline                      = "IsOnline"
	OpAuthForToken                  = "AuthForToken"
	OpRevokeToken                   = "RevokeToken"
	OpCreateUserDatabase            = "CreateUserDatabase"
	OpEnableCooperativeFeatures     = "EnableCooperativeFeatures"
	OpHasTable                      = "HasTable"
	OpExecuteRead                   = "ExecuteRead"
	OpExecuteWrite                  = "ExecuteWrite"
	OpExecuteCooperativeWrite       = "ExecuteCooperativeWrite"
	OpSetLogicalStoragePolicy       = "SetLogicalStoragePolicy"
	OpGetLogicalStoragePolicy       = "GetLogicalStoragePolicy"
	OpGenerateContract              = "GenerateContract"
	OpGetActiveContract             = "GetActiveContract"
	OpAddParticipant                = "AddParticipant"
	OpGetParticipants               = "GetParticipants"
	OpSendParticipantContract       = "SendParticipantContract"
	OpViewPendingContracts          = "ViewPendingContracts"
	OpAcceptPendingContract         = "AcceptPendingContract"
	OpRejectPendingContract         = "RejectPendingContract"
	OpGenerateHostInfo              = "GenerateHostInfo"
	OpGetHostInfo                   = "GetHostInfo"
	OpChangeUpdatesFromHostBehavior = "ChangeUpdatesFromHostBehavior"
	OpChangeDeletesFromHostBehavior = "ChangeDeletesFromHostBehavior"
	OpGetPendingActions             = "GetPendingActionsAtParticipant"
	OpAcceptPendingAction           = "AcceptPendingActionAtParticipant"
	OpGetDataHashAtHost             = "GetDataHashAtHost"
	OpGetDataHashAtParticipant      = "GetDataHashAtParticipant"
)

// IsOnlineRequest — проверка доступности процесса. Учётные данные не нужны.
type IsOnlineRequest struct {
	RequestBase
	EchoMessage string `json:"request_echo_message"`
}

// IsOnlineReply возвращает присланное сообщение.
type IsOnlineReply struct {
	EchoMessage string `json:"reply_echo_message"`
}

// DatabaseRequest — запрос, адресованный базе данных.
type DatabaseRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
}

// TableRequest — запрос, адресованный таблице.
type TableRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
}

// StatusReply — ответ без данных.
type StatusReply struct {
	ReplyBase
}

// AuthForTokenReply — выданный JWT.
type AuthForTokenReply struct {
	ReplyBase
	Jwt           string    `json:"jwt,omitempty"`
	ExpirationUTC time.Time `json:"expiration_utc"`
}

// HasTableReply — наличие таблицы.
type HasTableReply struct {
	ReplyBase
	HasTable bool `json:"has_table"`
}

// ExecuteReadRequest — чтение.
type ExecuteReadRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	SQLStatement string `json:"sql_statement"`
}

// ExecuteReadReply — результат чтения.
type ExecuteReadReply struct {
	ReplyBase
	Results *model.ResultSet `json:"results,omitempty"`
}

// ExecuteWriteRequest — запись в локальную базу.
type ExecuteWriteRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	SQLStatement string `json:"sql_statement"`
}

// ExecuteWriteReply — количество затронутых строк.
type ExecuteWriteReply struct {
	ReplyBase
	TotalRowsAffected int64 `json:"total_rows_affected"`
}

// ExecuteCooperativeWriteRequest — запись в кооперативную таблицу через участника.
type ExecuteCooperativeWriteRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	SQLStatement string `json:"sql_statement"`
	Alias        string `json:"alias"`
	WhereClause  string `json:"where_clause"`
}

// ExecuteCooperativeWriteReply — итог кооперативной записи.
type ExecuteCooperativeWriteReply struct {
	ReplyBase
	TotalRowsAffected int64       `json:"total_rows_affected"`
	IsPending         bool        `json:"is_pending"`
	Saga              *SagaResult `json:"saga,omitempty"`
}

// SetPolicyRequest — установка политики хранения.
type SetPolicyRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	PolicyMode   int    `json:"policy_mode"`
}

// GetPolicyReply — политика хранения таблицы.
type GetPolicyReply struct {
	ReplyBase
	PolicyMode int    `json:"policy_mode"`
	PolicyName string `json:"policy_name"`
}

// GenerateContractRequest — генерация контракта базы.
type GenerateContractRequest struct {
	RequestBase
	DatabaseName         string `json:"database_name"`
	HostName             string `json:"host_name"`
	Description          string `json:"description"`
	RemoteDeleteBehavior int    `json:"remote_delete_behavior"`
}

// GenerateContractReply — итог генерации. Tables — таблицы без политики.
type GenerateContractReply struct {
	ReplyBase
	Tables []string `json:"tables,omitempty"`
}

// GetActiveContractReply — действующий контракт базы.
type GetActiveContractReply struct {
	ReplyBase
	Contract *Contract `json:"contract,omitempty"`
}

// AddParticipantRequest — регистрация участника.
type AddParticipantRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	Alias        string `json:"alias"`
	IP4Address   string `json:"ip4_address"`
	Port         int    `json:"port"`
	HTTPAddr     string `json:"http_addr"`
	HTTPPort     int    `json:"http_port"`
}

// ParticipantStatus — участник в ответе GetParticipants.
type ParticipantStatus struct {
	InternalID              string `json:"internal_participant_id"`
	Alias                   string `json:"alias"`
	IP4Address              string `json:"ip4_address"`
	Port                    int    `json:"port"`
	HTTPAddr                string `json:"http_addr"`
	HTTPPort                int    `json:"http_port"`
	ContractStatus          int    `json:"contract_status"`
	AcceptedContractVersion string `json:"accepted_contract_version,omitempty"`
	ParticipantID           string `json:"participant_guid,omitempty"`
}

// GetParticipantsReply — участники базы.
type GetParticipantsReply struct {
	ReplyBase
	Participants []ParticipantStatus `json:"participants"`
}

// SendParticipantContractRequest — отправка контракта участнику.
type SendParticipantContractRequest struct {
	RequestBase
	DatabaseName     string `json:"database_name"`
	ParticipantAlias string `json:"participant_alias"`
}

// SendParticipantContractReply — итог отправки.
type SendParticipantContractReply struct {
	ReplyBase
	IsSent         bool `json:"is_sent"`
	ContractStatus int  `json:"contract_status"`
}

// ViewPendingContractsReply — контракты, ожидающие решения.
type ViewPendingContractsReply struct {
	ReplyBase
	Contracts []Contract `json:"contracts"`
}

// HostAliasRequest — решение по контракту хоста. DatabaseName обязателен,
// если хост ждёт решения по нескольким базам.
type HostAliasRequest struct {
	RequestBase
	HostAlias    string `json:"host_alias"`
	DatabaseName string `json:"database_name,omitempty"`
}

// AcceptPendingContractReply — итог принятия контракта.
type AcceptPendingContractReply struct {
	ReplyBase
	Saga *SagaResult `json:"saga,omitempty"`
}

// GenerateHostInfoRequest — (пере)генерация идентичности хоста.
type GenerateHostInfoRequest struct {
	RequestBase
	HostName string `json:"host_name"`
}

// HostInfoReply — идентичность хоста (без токена).
type HostInfoReply struct {
	ReplyBase
	HostID   string `json:"host_guid"`
	HostName string `json:"host_name"`
}

// ChangeBehaviorRequest — изменение реакции участника на изменения хоста.
type ChangeBehaviorRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	Behavior     int    `json:"behavior"`
}

// GetPendingActionsRequest — просмотр очереди частичной таблицы.
type GetPendingActionsRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	Action       string `json:"action"`
}

// PendingAction — отложенное действие в ответе.
type PendingAction struct {
	RowID       int64     `json:"row_id"`
	Statement   string    `json:"statement"`
	WhereClause string    `json:"where_clause"`
	Action      string    `json:"action"`
	RequestedAt time.Time `json:"requested_ts_utc"`
	HostID      string    `json:"host_id"`
}

// GetPendingActionsReply — очередь частичной таблицы.
type GetPendingActionsReply struct {
	ReplyBase
	PendingActions []PendingAction `json:"pending_actions"`
}

// AcceptPendingActionRequest — применение отложенного действия.
type AcceptPendingActionRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	RowID        int64  `json:"row_id"`
}

// AcceptPendingActionReply — итог применения.
type AcceptPendingActionReply struct {
	ReplyBase
	Rows []model.RowHash `json:"rows"`
	Saga *SagaResult     `json:"saga,omitempty"`
}

// GetDataHashRequest — хэш строки у хоста или у участника.
// Alias нужен только хосту: журнал хранит хэш для каждого участника.
type GetDataHashRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	RowID        int64  `json:"row_id"`
	Alias        string `json:"alias,omitempty"`
}

// GetDataHashReply — хэш строки.
type GetDataHashReply struct {
	ReplyBase
	DataHash uint64 `json:"data_hash"`
}
