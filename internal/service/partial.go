// partial.go — частичные базы участника: создание по схеме контракта
// и применение изменений, присланных хостом.
//
// INSERT применяется сразу. UPDATE и DELETE применяются согласно
// настройкам таблицы (COOP_DATA_TABLES): по умолчанию ставятся в очередь
// <table>_QUEUE и не меняют таблицу до явного принятия.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/sqlinspect"
)

// PartialService — частичные базы и таблицы участника.
type PartialService struct {
	dbs       *DatabaseService
	inspector *sqlinspect.Inspector
	logger    *slog.Logger
}

// NewPartialService создаёт сервис частичных баз.
func NewPartialService(dbs *DatabaseService, inspector *sqlinspect.Inspector, logger *slog.Logger) *PartialService {
	return &PartialService{
		dbs:       dbs,
		inspector: inspector,
		logger:    logger.With(slog.String("component", "partial_service")),
	}
}

// CreatePartialDatabase создаёт частичную базу для базы хоста dbName
// и её служебные таблицы. Возвращает имя частичной базы.
func (s *PartialService) CreatePartialDatabase(ctx context.Context, dbName string) (string, error) {
	name := model.PartialDatabaseName(dbName)
	if err := s.dbs.backend.CreateDatabase(ctx, name); err != nil {
		return "", mapStorageError(err)
	}
	db, err := s.dbs.Open(ctx, name)
	if err != nil {
		return "", err
	}
	if err := repository.EnsurePartialTables(ctx, db); err != nil {
		return "", err
	}
	return name, nil
}

// CreateTable создаёт частичную таблицу, её очередь и настройки по умолчанию.
func (s *PartialService) CreateTable(ctx context.Context, dbName string, ts model.TableSchema) error {
	if model.IsServiceTable(ts.TableName) {
		return fmt.Errorf("%w: таблица %s служебная", ErrValidation, ts.TableName)
	}
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return err
	}
	if err := db.CreateTable(ctx, ts); err != nil {
		return mapStorageError(err)
	}
	if err := repository.EnsureQueueTable(ctx, db, ts.TableName); err != nil {
		return mapStorageError(err)
	}

	behaviors := repository.NewDataTablesRepository(db)
	b, err := behaviors.Get(ctx, ts.TableName)
	if err != nil {
		return err
	}
	if err := behaviors.Upsert(ctx, b); err != nil {
		return err
	}

	s.logger.Info("Частичная таблица создана",
		slog.String("database", db.Name()),
		slog.String("table", ts.TableName),
	)
	return nil
}

// CreateFromSchema создаёт частичную базу с кооперативными таблицами схемы.
func (s *PartialService) CreateFromSchema(ctx context.Context, schema *model.DatabaseSchema) error {
	if schema == nil || schema.DatabaseName == "" {
		return fmt.Errorf("%w: схема контракта без имени базы", ErrValidation)
	}
	if _, err := s.CreatePartialDatabase(ctx, schema.DatabaseName); err != nil {
		return err
	}
	for _, ts := range schema.Tables {
		if !ts.LogicalStoragePolicy.IsCooperative() {
			continue
		}
		if err := s.CreateTable(ctx, schema.DatabaseName, ts); err != nil {
			return err
		}
	}
	return nil
}

// checkStatement проверяет, что выражение нужного вида и адресовано таблице.
func (s *PartialService) checkStatement(sql, table string, kind model.StatementKind) (*sqlinspect.Statement, error) {
	stmt, err := s.inspector.Inspect(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if stmt.Kind != kind {
		return nil, fmt.Errorf("%w: ожидалось выражение %s, получено %s", ErrInvalidOperation, kind, stmt.Kind)
	}
	if len(stmt.Tables) != 1 || !strings.EqualFold(stmt.Tables[0], table) {
		return nil, fmt.Errorf("%w: выражение должно затрагивать только таблицу %s", ErrInvalidOperation, table)
	}
	if err := checkSingleRowInsert(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// checkSingleRowInsert: кооперативная вставка — ровно один кортеж VALUES,
// журнал хоста получает одну запись на вставку.
func checkSingleRowInsert(stmt *sqlinspect.Statement) error {
	if stmt.Kind != model.StatementInsert {
		return nil
	}
	if stmt.InsertRows != 1 {
		return fmt.Errorf("%w: кооперативная вставка должна добавлять ровно одну строку через VALUES (получено строк: %d)",
			ErrInvalidOperation, stmt.InsertRows)
	}
	return nil
}

// Insert выполняет INSERT в частичной таблице и возвращает идентификатор
// и хэш новой строки.
func (s *PartialService) Insert(ctx context.Context, dbName, table, sql string) (model.RowHash, error) {
	if _, err := s.checkStatement(sql, table, model.StatementInsert); err != nil {
		return model.RowHash{}, err
	}
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return model.RowHash{}, err
	}

	id, err := db.Insert(ctx, sql)
	if err != nil {
		return model.RowHash{}, fmt.Errorf("вставка в %s: %w", table, mapStorageError(err))
	}
	rows, err := hashRows(ctx, db, table, []int64{id})
	if err != nil {
		return model.RowHash{}, err
	}
	if len(rows) != 1 {
		return model.RowHash{}, fmt.Errorf("вставленная строка %s/%d не найдена", table, id)
	}
	return rows[0], nil
}

// Update применяет UPDATE хоста согласно настройкам таблицы.
func (s *PartialService) Update(ctx context.Context, hostID, dbName, table, sql, where string) (*model.PartialDataResult, error) {
	stmt, err := s.checkStatement(sql, table, model.StatementUpdate)
	if err != nil {
		return nil, err
	}
	if where == "" {
		where = stmt.Where
	}
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return nil, err
	}
	b, err := repository.NewDataTablesRepository(db).Get(ctx, table)
	if err != nil {
		return nil, err
	}

	switch b.UpdatesFromHost {
	case model.UpdatesFromHostAllowOverwrite, model.UpdatesFromHostOverwriteWithLog:
		rows, err := applyAction(ctx, db, model.ActionUpdate, table, sql, where)
		if err != nil {
			return nil, err
		}
		if b.UpdatesFromHost == model.UpdatesFromHostOverwriteWithLog {
			s.logger.Info("Обновление хоста применено",
				slog.String("database", db.Name()),
				slog.String("table", table),
				slog.String("host_id", hostID),
				slog.String("statement", sql),
				slog.Int("rows", len(rows)),
			)
		}
		return &model.PartialDataResult{IsSuccessful: true, Rows: rows}, nil
	case model.UpdatesFromHostIgnore:
		return &model.PartialDataResult{Message: "обновления от хоста для таблицы " + table + " игнорируются"}, nil
	default:
		return s.enqueue(ctx, db, hostID, model.ActionUpdate, table, sql, where)
	}
}

// Delete применяет DELETE хоста согласно настройкам таблицы.
func (s *PartialService) Delete(ctx context.Context, hostID, dbName, table, sql, where string) (*model.PartialDataResult, error) {
	stmt, err := s.checkStatement(sql, table, model.StatementDelete)
	if err != nil {
		return nil, err
	}
	if where == "" {
		where = stmt.Where
	}
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return nil, err
	}
	b, err := repository.NewDataTablesRepository(db).Get(ctx, table)
	if err != nil {
		return nil, err
	}

	switch b.DeletesFromHost {
	case model.DeletesFromHostAllowRemoval, model.DeletesFromHostDeleteWithLog:
		rows, err := applyAction(ctx, db, model.ActionDelete, table, sql, where)
		if err != nil {
			return nil, err
		}
		if b.DeletesFromHost == model.DeletesFromHostDeleteWithLog {
			s.logger.Info("Удаление хоста применено",
				slog.String("database", db.Name()),
				slog.String("table", table),
				slog.String("host_id", hostID),
				slog.String("statement", sql),
				slog.Int("rows", len(rows)),
			)
		}
		return &model.PartialDataResult{IsSuccessful: true, Rows: rows}, nil
	case model.DeletesFromHostIgnore:
		return &model.PartialDataResult{Message: "удаления от хоста для таблицы " + table + " игнорируются"}, nil
	default:
		return s.enqueue(ctx, db, hostID, model.ActionDelete, table, sql, where)
	}
}

func (s *PartialService) enqueue(ctx context.Context, db backend.Database, hostID string,
	kind model.PendingActionKind, table, sql, where string) (*model.PartialDataResult, error) {
	action := &model.PendingAction{
		TableName:        table,
		Statement:        sql,
		WhereClause:      where,
		Kind:             kind,
		RequestedAt:      time.Now().UTC(),
		RequestingHostID: hostID,
	}
	id, err := repository.NewQueueRepository(db).Add(ctx, action)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Изменение хоста поставлено в очередь",
		slog.String("database", db.Name()),
		slog.String("table", table),
		slog.String("action", kind.String()),
		slog.Int64("action_id", id),
	)
	return &model.PartialDataResult{IsSuccessful: true, IsPending: true, Message: "изменение поставлено в очередь"}, nil
}

// affectedRowIDs возвращает идентификаторы строк, подходящих под условие.
func affectedRowIDs(ctx context.Context, db backend.Database, table, where string) ([]int64, error) {
	set, err := db.SelectRows(ctx, table, where)
	if err != nil {
		return nil, fmt.Errorf("выборка строк %s: %w", table, mapStorageError(err))
	}
	ids := make([]int64, 0, len(set.Rows))
	for _, r := range set.Rows {
		ids = append(ids, r.RowID)
	}
	return ids, nil
}

// rowsAfter возвращает затронутые строки после выполнения: для UPDATE
// с новыми хэшами, для DELETE с нулевым хэшем.
func rowsAfter(ctx context.Context, db backend.Database, kind model.PendingActionKind, table string, ids []int64) ([]model.RowHash, error) {
	if kind == model.ActionDelete {
		rows := make([]model.RowHash, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, model.RowHash{RowID: id})
		}
		return rows, nil
	}
	return hashRows(ctx, db, table, ids)
}

// applyAction выполняет UPDATE или DELETE и возвращает затронутые строки.
// Строки определяются условием where до выполнения.
func applyAction(ctx context.Context, db backend.Database,
	kind model.PendingActionKind, table, sql, where string) ([]model.RowHash, error) {
	ids, err := affectedRowIDs(ctx, db, table, where)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(ctx, backend.TrimStatement(sql)); err != nil {
		return nil, fmt.Errorf("выполнение %s для %s: %w", kind, table, mapStorageError(err))
	}
	return rowsAfter(ctx, db, kind, table, ids)
}

// hashRows читает строки по идентификаторам и возвращает их хэши.
func hashRows(ctx context.Context, db backend.Database, table string, ids []int64) ([]model.RowHash, error) {
	if len(ids) == 0 {
		return []model.RowHash{}, nil
	}
	set, err := db.SelectRows(ctx, table, rowIDFilter(db, ids))
	if err != nil {
		return nil, fmt.Errorf("выборка строк %s: %w", table, mapStorageError(err))
	}
	rows := make([]model.RowHash, 0, len(set.Rows))
	for i, r := range set.Rows {
		rows = append(rows, model.RowHash{RowID: r.RowID, Hash: set.Hash(i)})
	}
	return rows, nil
}

// rowIDFilter — условие "идентификатор строки IN (...)".
func rowIDFilter(db backend.Database, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return db.RowIDColumn() + " IN (" + strings.Join(parts, ", ") + ")"
}

// GetRows читает строки частичной таблицы по идентификаторам (nil — все)
// с дополнительным условием where.
func (s *PartialService) GetRows(ctx context.Context, dbName, table string, ids []int64, where string) (*backend.RowSet, error) {
	if err := backend.ValidateName(table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return nil, err
	}
	ok, err := db.HasTable(ctx, table)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, db.Name(), table)
	}

	var conds []string
	if ids != nil {
		if len(ids) == 0 {
			return &backend.RowSet{}, nil
		}
		conds = append(conds, rowIDFilter(db, ids))
	}
	if w := strings.TrimSpace(where); w != "" {
		conds = append(conds, "("+w+")")
	}
	set, err := db.SelectRows(ctx, table, strings.Join(conds, " AND "))
	if err != nil {
		return nil, fmt.Errorf("выборка строк %s: %w", table, mapStorageError(err))
	}
	return set, nil
}

// GetDataHash возвращает хэш строки частичной таблицы.
func (s *PartialService) GetDataHash(ctx context.Context, dbName, table string, rowID int64) (uint64, error) {
	set, err := s.GetRows(ctx, dbName, table, []int64{rowID}, "")
	if err != nil {
		return 0, err
	}
	if len(set.Rows) == 0 {
		return 0, fmt.Errorf("%w: строка %s/%d", ErrNotFound, table, rowID)
	}
	return set.Hash(0), nil
}

// ChangeUpdatesBehavior меняет реакцию на UPDATE от хоста.
func (s *PartialService) ChangeUpdatesBehavior(ctx context.Context, dbName, table string, behavior model.UpdatesFromHostBehavior) error {
	if behavior < model.UpdatesFromHostAllowOverwrite || behavior > model.UpdatesFromHostIgnore {
		return fmt.Errorf("%w: недопустимое значение %d", ErrValidation, behavior)
	}
	return s.changeBehavior(ctx, dbName, table, func(b *model.DataTableBehavior) {
		b.UpdatesFromHost = behavior
	})
}

// ChangeDeletesBehavior меняет реакцию на DELETE от хоста.
func (s *PartialService) ChangeDeletesBehavior(ctx context.Context, dbName, table string, behavior model.DeletesFromHostBehavior) error {
	if behavior < model.DeletesFromHostAllowRemoval || behavior > model.DeletesFromHostIgnore {
		return fmt.Errorf("%w: недопустимое значение %d", ErrValidation, behavior)
	}
	return s.changeBehavior(ctx, dbName, table, func(b *model.DataTableBehavior) {
		b.DeletesFromHost = behavior
	})
}

func (s *PartialService) changeBehavior(ctx context.Context, dbName, table string, change func(*model.DataTableBehavior)) error {
	db, err := s.dbs.OpenPartial(ctx, dbName)
	if err != nil {
		return err
	}
	ok, err := db.HasTable(ctx, table)
	if err != nil {
		return mapStorageError(err)
	}
	if !ok || model.IsServiceTable(table) {
		return fmt.Errorf("%w: %s.%s", ErrTableNotFound, db.Name(), table)
	}

	repo := repository.NewDataTablesRepository(db)
	b, err := repo.Get(ctx, table)
	if err != nil {
		return err
	}
	change(b)
	if err := repo.Upsert(ctx, b); err != nil {
		return err
	}
	s.logger.Info("Настройки частичной таблицы изменены",
		slog.String("database", db.Name()),
		slog.String("table", table),
		slog.Int("updates_from_host", int(b.UpdatesFromHost)),
		slog.Int("deletes_from_host", int(b.DeletesFromHost)),
	)
	return nil
}
