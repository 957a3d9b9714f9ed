package model

import "time"

// RowHashRecord — последний подтверждённый хэш строки у конкретного участника.
// Хранится в таблице <table>_METADATA базы хоста.
type RowHashRecord struct {
	TableName     string
	RowID         int64
	ParticipantID string
	Hash          uint64
}

// RowHash — идентификатор строки и её хэш, возвращаемые участником.
type RowHash struct {
	RowID int64  `json:"row_id"`
	Hash  uint64 `json:"hash"`
}

// PendingAction — отложенное изменение у участника.
// Хранится в таблице <table>_QUEUE частичной базы и удаляется при принятии.
type PendingAction struct {
	ID               int64
	TableName        string
	Statement        string
	WhereClause      string
	Kind             PendingActionKind
	RequestedAt      time.Time
	RequestingHostID string
}

// PartialDataResult — результат применения изменения к частичной таблице.
type PartialDataResult struct {
	IsSuccessful bool
	// Rows — затронутые строки с новыми хэшами (для DELETE хэш нулевой)
	Rows []RowHash
	// IsPending — изменение поставлено в очередь и ещё не применено
	IsPending bool
	Message   string
}

// DataTableBehavior — настройки частичной таблицы у участника.
// Хранится в таблице COOP_DATA_TABLES частичной базы.
type DataTableBehavior struct {
	TableName       string
	UpdatesFromHost UpdatesFromHostBehavior
	DeletesFromHost DeletesFromHostBehavior
}
