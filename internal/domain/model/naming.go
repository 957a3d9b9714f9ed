package model

import "strings"

// Имена служебных таблиц кооперативной базы.
// Сохраняются для совместимости с существующими установками.
const (
	TableParticipant      = "COOP_PARTICIPANT"
	TableDatabaseContract = "COOP_DATABASE_CONTRACT"
	TableRemotes          = "COOP_REMOTES"
	TableDataHost         = "COOP_DATA_HOST"
	TableDataHostTables   = "COOP_DATA_HOST_TABLES"
	TableDataHostColumns  = "COOP_DATA_HOST_TABLE_COLUMNS"
	TableDataTables       = "COOP_DATA_TABLES"
	coopPrefix            = "COOP_"
	metadataSuffix        = "_METADATA"
	queueSuffix           = "_QUEUE"
	remotesSuffix         = "_REMOTES"
	partialDatabaseSuffix = "_dbpart"
)

// MetadataTableName — таблица журнала хэшей для таблицы хоста.
func MetadataTableName(table string) string {
	return table + metadataSuffix
}

// QueueTableName — таблица очереди отложенных действий для частичной таблицы.
func QueueTableName(table string) string {
	return table + queueSuffix
}

// RemotesTableName — таблица обратных ссылок на удалённые строки.
func RemotesTableName(table string) string {
	return table + remotesSuffix
}

// PartialDatabaseName — имя частичной базы участника для базы хоста.
func PartialDatabaseName(db string) string {
	if strings.HasSuffix(db, partialDatabaseSuffix) {
		return db
	}
	return db + partialDatabaseSuffix
}

// IsPartialDatabaseName сообщает, является ли имя именем частичной базы.
func IsPartialDatabaseName(db string) bool {
	return strings.HasSuffix(db, partialDatabaseSuffix)
}

// IsServiceTable сообщает, что таблица служебная и не является
// пользовательской: COOP_*, *_METADATA, *_QUEUE, *_REMOTES.
func IsServiceTable(table string) bool {
	upper := strings.ToUpper(table)
	return strings.HasPrefix(upper, coopPrefix) ||
		strings.HasSuffix(upper, metadataSuffix) ||
		strings.HasSuffix(upper, queueSuffix) ||
		strings.HasSuffix(upper, remotesSuffix)
}

// HostDatabaseName — имя базы хоста для имени частичной базы.
func HostDatabaseName(partial string) string {
	return strings.TrimSuffix(partial, partialDatabaseSuffix)
}
