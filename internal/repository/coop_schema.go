package repository

import (
	"context"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// hostTablesDDL — служебные таблицы базы хоста.
// Имена колонок не экранируются: PostgreSQL приводит их к нижнему регистру
// одинаково в DDL и в запросах.
var hostTablesDDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableParticipant) + ` (
		INTERNAL_PARTICIPANT_ID TEXT NOT NULL PRIMARY KEY,
		ALIAS TEXT NOT NULL UNIQUE,
		IP4ADDRESS TEXT NOT NULL,
		PORT INTEGER NOT NULL,
		HTTP_ADDR TEXT NOT NULL,
		HTTP_PORT INTEGER NOT NULL,
		CONTRACT_STATUS INTEGER NOT NULL,
		ACCEPTED_CONTRACT_VERSION_ID TEXT,
		TOKEN TEXT NOT NULL,
		PARTICIPANT_ID TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableDatabaseContract) + ` (
		CONTRACT_ID TEXT NOT NULL,
		VERSION_ID TEXT NOT NULL PRIMARY KEY,
		GENERATED_DATE_UTC TEXT NOT NULL,
		DESCRIPTION TEXT NOT NULL,
		RETIRED_DATE_UTC TEXT,
		REMOTE_DELETE_BEHAVIOR INTEGER NOT NULL,
		SCHEMA_SNAPSHOT TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableRemotes) + ` (
		TABLENAME TEXT NOT NULL PRIMARY KEY,
		LOGICAL_STORAGE_POLICY INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableDataHost) + ` (
		DATABASE_ID TEXT NOT NULL PRIMARY KEY,
		DATABASE_NAME TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableDataHostTables) + ` (
		TABLE_ID TEXT NOT NULL PRIMARY KEY,
		TABLE_NAME TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableDataHostColumns) + ` (
		TABLE_ID TEXT NOT NULL,
		COLUMN_ID TEXT NOT NULL,
		COLUMN_NAME TEXT NOT NULL,
		PRIMARY KEY (TABLE_ID, COLUMN_NAME)
	)`,
}

// EnsureHostTables создаёт служебные таблицы кооперативной базы хоста.
func EnsureHostTables(ctx context.Context, db backend.Executor) error {
	for _, ddl := range hostTablesDDL {
		if _, err := db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ошибка создания служебных таблиц: %w", err)
		}
	}
	return nil
}

// EnsureLedgerTables создаёт таблицы журнала хэшей и обратных ссылок
// для кооперативной таблицы хоста.
func EnsureLedgerTables(ctx context.Context, db backend.Executor, table string) error {
	if err := backend.ValidateName(table); err != nil {
		return err
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.MetadataTableName(table)) + ` (
			ROW_ID BIGINT NOT NULL,
			INTERNAL_PARTICIPANT_ID TEXT NOT NULL,
			HASH BIGINT NOT NULL,
			PRIMARY KEY (ROW_ID, INTERNAL_PARTICIPANT_ID)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.RemotesTableName(table)) + ` (
			ROW_ID BIGINT NOT NULL,
			INTERNAL_PARTICIPANT_ID TEXT NOT NULL,
			PRIMARY KEY (ROW_ID, INTERNAL_PARTICIPANT_ID)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка создания журнала для %s: %w", table, err)
		}
	}
	return nil
}

// EnsurePartialTables создаёт служебные таблицы частичной базы участника.
func EnsurePartialTables(ctx context.Context, db backend.Executor) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + backend.Quote(model.TableDataTables) + ` (
		TABLE_NAME TEXT NOT NULL PRIMARY KEY,
		UPDATES_FROM_HOST_BEHAVIOR INTEGER NOT NULL,
		DELETES_FROM_HOST_BEHAVIOR INTEGER NOT NULL
	)`
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ошибка создания служебных таблиц частичной базы: %w", err)
	}
	return nil
}

// queueTableSchema — схема очереди отложенных действий. Идентификатор
// действия — идентификатор строки, предоставляемый движком.
func queueTableSchema(table string) model.TableSchema {
	return model.TableSchema{
		TableName: model.QueueTableName(table),
		Columns: []model.ColumnSchema{
			{ColumnName: "STATEMENT", ColumnType: "TEXT"},
			{ColumnName: "WHERE_CLAUSE", ColumnType: "TEXT"},
			{ColumnName: "ACTION", ColumnType: "INTEGER"},
			{ColumnName: "REQUESTED_TS_UTC", ColumnType: "TEXT"},
			{ColumnName: "HOST_ID", ColumnType: "TEXT"},
		},
	}
}

// EnsureQueueTable создаёт очередь отложенных действий для частичной таблицы.
func EnsureQueueTable(ctx context.Context, db backend.Database, table string) error {
	if err := backend.ValidateName(table); err != nil {
		return err
	}
	if err := db.CreateTable(ctx, queueTableSchema(table)); err != nil {
		return fmt.Errorf("ошибка создания очереди для %s: %w", table, err)
	}
	return nil
}
