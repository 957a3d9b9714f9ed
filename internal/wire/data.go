package wire

import "github.com/dynamoRando/rcd-sub000/internal/domain/model"

// Операции межузловой группы.
const (
	OpSaveContract              = "SaveContract"
	OpAcceptContract            = "AcceptContract"
	OpRejectContract            = "RejectContract"
	OpInsertCommandIntoTable    = "InsertCommandIntoTable"
	OpUpdateCommandIntoTable    = "UpdateCommandIntoTable"
	OpDeleteCommandIntoTable    = "DeleteCommandIntoTable"
	OpGetRowFromPartialDatabase = "GetRowFromPartialDatabase"
	OpUpdateRowDataHashForHost  = "UpdateRowDataHashForHost"
	OpNotifyHostOfRemovedRow    = "NotifyHostOfRemovedRow"
	OpCreatePartialDatabase     = "CreatePartialDatabase"
	OpCreateTableInDatabase     = "CreateTableInDatabase"
)

// SaveContractRequest — хост отправляет контракт участнику.
type SaveContractRequest struct {
	RequestBase
	Contract Contract `json:"contract"`
}

// SaveContractReply — ответ участника.
type SaveContractReply struct {
	ReplyBase
}

// ParticipantIdentity — идентичность участника, принявшего контракт.
type ParticipantIdentity struct {
	ParticipantGUID string `json:"participant_guid"`
	Alias           string `json:"alias"`
	IP4Address      string `json:"ip4_address"`
	Port            int    `json:"database_port_number"`
	HTTPAddr        string `json:"http_addr"`
	HTTPPort        int    `json:"http_port"`
	Token           string `json:"token"`
}

// AcceptContractRequest — участник сообщает хосту о принятии контракта.
// Authentication содержит идентичность хоста из полученного контракта.
type AcceptContractRequest struct {
	RequestBase
	Participant     ParticipantIdentity `json:"participant"`
	DatabaseName    string              `json:"database_name"`
	ContractVersion string              `json:"contract_version_guid"`
}

// AcceptContractReply — ответ хоста.
type AcceptContractReply struct {
	ReplyBase
}

// RejectContractRequest — участник сообщает хосту об отказе.
type RejectContractRequest struct {
	RequestBase
	Participant     ParticipantIdentity `json:"participant"`
	DatabaseName    string              `json:"database_name"`
	ContractVersion string              `json:"contract_version_guid"`
}

// RejectContractReply — ответ хоста.
type RejectContractReply struct {
	ReplyBase
}

// InsertDataRequest — INSERT в частичную таблицу участника.
type InsertDataRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	CmdText      string `json:"cmd"`
}

// InsertDataReply — идентификатор и хэш вставленной строки.
type InsertDataReply struct {
	ReplyBase
	RowID    int64  `json:"row_id"`
	DataHash uint64 `json:"data_hash"`
}

// UpdateDataRequest — UPDATE в частичной таблице участника.
type UpdateDataRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	CmdText      string `json:"cmd"`
	WhereClause  string `json:"where_clause"`
}

// UpdateDataReply — затронутые строки с новыми хэшами.
// IsPending — изменение поставлено в очередь участника.
type UpdateDataReply struct {
	ReplyBase
	Rows      []model.RowHash `json:"rows"`
	IsPending bool            `json:"is_pending"`
}

// DeleteDataRequest — DELETE в частичной таблице участника.
type DeleteDataRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	CmdText      string `json:"cmd"`
	WhereClause  string `json:"where_clause"`
}

// DeleteDataReply — удалённые строки (хэш нулевой).
type DeleteDataReply struct {
	ReplyBase
	Rows      []model.RowHash `json:"rows"`
	IsPending bool            `json:"is_pending"`
}

// GetRowRequest — чтение строк частичной таблицы.
// RowIDs ограничивает выборку конкретными строками, WhereClause — условием.
type GetRowRequest struct {
	RequestBase
	DatabaseName string  `json:"database_name"`
	TableName    string  `json:"table_name"`
	RowIDs       []int64 `json:"row_ids,omitempty"`
	WhereClause  string  `json:"where_clause,omitempty"`
}

// Row — строка частичной таблицы с хэшем, вычисленным участником.
type Row struct {
	RowID  int64  `json:"row_id"`
	Hash   uint64 `json:"hash"`
	Values []any  `json:"values"`
}

// GetRowReply — строки частичной таблицы.
type GetRowReply struct {
	ReplyBase
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// UpdateRowHashRequest — участник сообщает хосту новый хэш строки.
type UpdateRowHashRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	RowID        int64  `json:"row_id"`
	UpdatedHash  uint64 `json:"updated_hash"`
}

// UpdateRowHashReply — ответ хоста.
type UpdateRowHashReply struct {
	ReplyBase
}

// NotifyRowRemovedRequest — участник сообщает хосту об удалении строки.
type NotifyRowRemovedRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
	RowID        int64  `json:"row_id"`
}

// NotifyRowRemovedReply — ответ хоста.
type NotifyRowRemovedReply struct {
	ReplyBase
}

// CreatePartialDatabaseRequest — создание частичной базы у участника.
type CreatePartialDatabaseRequest struct {
	RequestBase
	DatabaseName string `json:"database_name"`
}

// CreatePartialDatabaseReply — имя созданной частичной базы.
type CreatePartialDatabaseReply struct {
	ReplyBase
	DatabaseName string `json:"database_name"`
}

// CreateTableRequest — создание частичной таблицы у участника.
type CreateTableRequest struct {
	RequestBase
	DatabaseName string               `json:"database_name"`
	TableName    string               `json:"table_name"`
	Columns      []model.ColumnSchema `json:"columns"`
}

// CreateTableReply — ответ участника.
type CreateTableReply struct {
	ReplyBase
	DatabaseName string `json:"database_name"`
	TableName    string `json:"table_name"`
}
