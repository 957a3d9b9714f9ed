// coordinator.go — кооперативные запись и чтение.
//
// Запись в кооперативную таблицу выполняется у участника, а хост
// фиксирует в журнале хэш, который участник вернул. Чтение собирает
// строки у участников и отбрасывает те, чей хэш разошёлся с журналом.
// Выражения, не затрагивающие кооперативных таблиц, выполняются
// локальным хранилищем.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/sqlinspect"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// Prometheus-метрики координатора.
var (
	coopWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcd_coop_writes_total",
			Help: "Общее количество кооперативных записей.",
		},
		[]string{"kind", "result"},
	)

	coopReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcd_coop_reads_total",
			Help: "Общее количество кооперативных чтений.",
		},
		[]string{"result"},
	)

	coopReadStaleRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcd_coop_read_stale_rows_total",
		Help: "Строки участников, отброшенные из-за расхождения хэша с журналом.",
	})
)

// Шаги кооперативной записи.
const (
	stepRemoteInsert = "remote_insert"
	stepRemoteUpdate = "remote_update"
	stepRemoteDelete = "remote_delete"
	stepLedgerUpsert = "ledger_upsert"
	stepLedgerUpdate = "ledger_update"
	stepLedgerRemove = "ledger_remove"
)

// WriteResult — итог кооперативной записи.
type WriteResult struct {
	IsSuccessful bool
	RowsAffected int64
	// IsPending — участник поставил изменение в очередь, журнал не изменён
	IsPending bool
	// Saga — выполненные шаги (nil, если до удалённого вызова не дошло)
	Saga    *SagaResult
	Message string
}

// Coordinator — координатор кооперативных записи и чтения.
type Coordinator struct {
	dbs       *DatabaseService
	policies  *PolicyService
	inspector *sqlinspect.Inspector
	hostInfo  *HostInfoService
	remote    RemoteClient
	logger    *slog.Logger
}

// NewCoordinator создаёт координатор.
func NewCoordinator(dbs *DatabaseService, policies *PolicyService, inspector *sqlinspect.Inspector,
	hostInfo *HostInfoService, remote RemoteClient, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		dbs:       dbs,
		policies:  policies,
		inspector: inspector,
		hostInfo:  hostInfo,
		remote:    remote,
		logger:    logger.With(slog.String("component", "coordinator")),
	}
}

// ExecuteRead выполняет чтение. Выражение без кооперативных таблиц
// (или не разобранное) выполняется локально. Кооперативное чтение
// допускается только по одной таблице.
func (c *Coordinator) ExecuteRead(ctx context.Context, dbName, sql string) (*model.ResultSet, error) {
	db, err := c.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}

	stmt, err := c.inspector.Inspect(sql)
	if err != nil {
		return c.readLocal(ctx, db, sql)
	}
	coop, err := c.policies.CooperativeTablesIn(ctx, db, stmt)
	if err != nil {
		return nil, err
	}
	if len(coop) == 0 {
		return c.readLocal(ctx, db, sql)
	}
	if stmt.Kind != model.StatementSelect || len(stmt.Tables) != 1 {
		return nil, fmt.Errorf("%w: кооперативное чтение поддерживает только SELECT из одной таблицы", ErrInvalidOperation)
	}

	rs, err := c.readCooperative(ctx, db, coop[0], stmt)
	if err != nil {
		coopReadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	coopReadsTotal.WithLabelValues("success").Inc()
	return rs, nil
}

func (c *Coordinator) readLocal(ctx context.Context, db backend.Database, sql string) (*model.ResultSet, error) {
	rows, err := db.Query(ctx, backend.TrimStatement(sql))
	if err != nil {
		return nil, fmt.Errorf("чтение из %s: %w", db.Name(), mapStorageError(err))
	}
	return backend.CollectResultSet(rows)
}

// readCooperative собирает строки таблицы у участников, принявших контракт.
// Строка попадает в результат, только если её хэш совпадает с журналом.
func (c *Coordinator) readCooperative(ctx context.Context, db backend.Database, table string,
	stmt *sqlinspect.Statement) (*model.ResultSet, error) {
	participants, err := c.participants(ctx, db)
	if err != nil {
		return nil, err
	}
	ledger := repository.NewLedgerRepository(db)

	var columns []string
	var rows [][]any
	for _, p := range participants {
		if p.ContractStatus != model.ContractStatusAccepted {
			continue
		}
		recs, err := ledger.ListByParticipant(ctx, table, p.InternalID)
		if err != nil {
			return nil, mapStorageError(err)
		}
		if len(recs) == 0 {
			continue
		}

		expected := make(map[int64]uint64, len(recs))
		ids := make([]int64, 0, len(recs))
		for _, r := range recs {
			expected[r.RowID] = r.Hash
			ids = append(ids, r.RowID)
		}

		req := &wire.GetRowRequest{
			DatabaseName: db.Name(),
			TableName:    table,
			RowIDs:       ids,
			WhereClause:  stmt.Where,
		}
		req.Authentication = c.hostInfo.Credentials()
		reply, err := c.remote.GetRows(ctx, participantURL(p), req)
		if err == nil {
			err = checkReply(wire.OpGetRowFromPartialDatabase, reply)
		}
		if err != nil {
			c.logger.Warn("Участник не вернул строки",
				slog.String("database", db.Name()),
				slog.String("table", table),
				slog.String("alias", p.Alias),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("участник %s: %w", p.Alias, mapRemoteError(err))
		}

		if columns == nil {
			columns = reply.Columns
		}
		for _, r := range reply.Rows {
			if h, ok := expected[r.RowID]; !ok || h != r.Hash {
				coopReadStaleRowsTotal.Inc()
				c.logger.Warn("Строка участника расходится с журналом",
					slog.String("database", db.Name()),
					slog.String("table", table),
					slog.String("alias", p.Alias),
					slog.Int64("row_id", r.RowID),
				)
				continue
			}
			rows = append(rows, r.Values)
		}
	}

	if columns == nil {
		ts, err := db.TableSchema(ctx, table)
		if err != nil {
			return nil, mapStorageError(err)
		}
		for _, col := range ts.Columns {
			columns = append(columns, col.ColumnName)
		}
	}
	return project(columns, rows, stmt.Columns)
}

// project оставляет в результате колонки выборки. Пустой список — все колонки.
func project(columns []string, rows [][]any, selected []string) (*model.ResultSet, error) {
	rs := &model.ResultSet{Columns: columns, Rows: [][]any{}}
	if len(selected) == 0 {
		rs.Rows = append(rs.Rows, rows...)
		return rs, nil
	}

	idx := make([]int, len(selected))
	for i, name := range selected {
		idx[i] = -1
		for j, col := range columns {
			if strings.EqualFold(col, name) {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: неизвестная колонка %s", ErrValidation, name)
		}
	}

	rs.Columns = make([]string, len(idx))
	for i, j := range idx {
		rs.Columns[i] = columns[j]
	}
	for _, row := range rows {
		out := make([]any, len(idx))
		for i, j := range idx {
			if j < len(row) {
				out[i] = row[j]
			}
		}
		rs.Rows = append(rs.Rows, out)
	}
	return rs, nil
}

func (c *Coordinator) participants(ctx context.Context, db backend.Database) ([]*model.Participant, error) {
	ok, err := db.HasTable(ctx, model.TableParticipant)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !ok {
		return nil, nil
	}
	return repository.NewParticipantRepository(db).List(ctx)
}

// ExecuteWrite выполняет запись в локальное хранилище и возвращает число
// затронутых строк. Запись в кооперативную таблицу отклоняется.
func (c *Coordinator) ExecuteWrite(ctx context.Context, dbName, sql string) (int64, error) {
	db, err := c.dbs.Open(ctx, dbName)
	if err != nil {
		return 0, err
	}
	if stmt, err := c.inspector.Inspect(sql); err == nil {
		coop, err := c.policies.CooperativeTablesIn(ctx, db, stmt)
		if err != nil {
			return 0, err
		}
		if len(coop) > 0 {
			return 0, fmt.Errorf("%w: таблица %s кооперативная, используйте кооперативную запись",
				ErrInvalidOperation, coop[0])
		}
	}

	n, err := db.Exec(ctx, backend.TrimStatement(sql))
	if err != nil {
		return 0, fmt.Errorf("запись в %s: %w", db.Name(), mapStorageError(err))
	}
	return n, nil
}

// ExecuteCooperativeWrite выполняет INSERT, UPDATE или DELETE кооперативной
// таблицы у участника alias и обновляет журнал хэшей. Пустой where —
// условие самого выражения. Неизвестный участник — неуспех без удалённого
// вызова. Сбой записи журнала после успешного удалённого вызова
// возвращается как частичный сбой без компенсации.
func (c *Coordinator) ExecuteCooperativeWrite(ctx context.Context, dbName, sql, alias, where string) (*WriteResult, error) {
	db, err := c.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}

	stmt, err := c.inspector.Inspect(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	switch stmt.Kind {
	case model.StatementInsert, model.StatementUpdate, model.StatementDelete:
	default:
		return nil, fmt.Errorf("%w: кооперативная запись не поддерживает %s", ErrInvalidOperation, stmt.Kind)
	}
	if len(stmt.Tables) != 1 {
		return nil, fmt.Errorf("%w: выражение должно затрагивать одну таблицу", ErrInvalidOperation)
	}
	if err := checkSingleRowInsert(stmt); err != nil {
		return nil, err
	}
	table := stmt.Tables[0]

	p, err := c.participant(ctx, db, alias)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &WriteResult{Message: "участник " + alias + " не найден"}, nil
	}
	if p.ContractStatus != model.ContractStatusAccepted {
		return &WriteResult{Message: "участник " + alias + " не принял контракт"}, nil
	}

	policy, err := c.policies.policyOf(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if !policy.IsCooperative() {
		return nil, fmt.Errorf("%w: таблица %s не кооперативная (%s)", ErrInvalidOperation, table, policy)
	}
	if where == "" {
		where = stmt.Where
	}

	w := &cooperativeWrite{
		c:     c,
		db:    db,
		table: table,
		sql:   sql,
		where: where,
		p:     p,
		url:   participantURL(p),
		auth:  c.hostInfo.Credentials(),
	}

	var kind string
	var result *WriteResult
	switch stmt.Kind {
	case model.StatementInsert:
		kind = "insert"
		result, err = w.insert(ctx)
	case model.StatementUpdate:
		kind = "update"
		result, err = w.update(ctx)
	default:
		kind = "delete"
		result, err = w.delete(ctx)
	}

	switch {
	case err != nil:
		coopWritesTotal.WithLabelValues(kind, "error").Inc()
		c.logger.Warn("Кооперативная запись не выполнена",
			slog.String("database", dbName),
			slog.String("table", table),
			slog.String("alias", alias),
			slog.String("error", err.Error()),
		)
	case result.IsPending:
		coopWritesTotal.WithLabelValues(kind, "pending").Inc()
	default:
		coopWritesTotal.WithLabelValues(kind, "success").Inc()
	}
	return result, err
}

func (c *Coordinator) participant(ctx context.Context, db backend.Database, alias string) (*model.Participant, error) {
	ok, err := db.HasTable(ctx, model.TableParticipant)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !ok {
		return nil, nil
	}
	p, err := repository.NewParticipantRepository(db).GetByAlias(ctx, alias)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// cooperativeWrite — одна кооперативная запись к одному участнику.
type cooperativeWrite struct {
	c     *Coordinator
	db    backend.Database
	table string
	sql   string
	where string
	p     *model.Participant
	url   string
	auth  wire.AuthRequest
}

// finish завершает сагу: при сбое результат неуспешен и содержит сообщение.
func finish(saga *SagaResult, result *WriteResult, err error) (*WriteResult, error) {
	result.Saga = saga
	if err != nil {
		result.IsSuccessful = false
		result.Message = saga.Message()
		return result, err
	}
	result.IsSuccessful = true
	return result, nil
}

func (w *cooperativeWrite) insert(ctx context.Context) (*WriteResult, error) {
	saga := newSaga("cooperative_insert")
	result := &WriteResult{}

	req := &wire.InsertDataRequest{DatabaseName: w.db.Name(), TableName: w.table, CmdText: w.sql}
	req.Authentication = w.auth
	reply, err := w.c.remote.InsertData(ctx, w.url, req)
	if err == nil {
		err = checkReply(wire.OpInsertCommandIntoTable, reply)
	}
	if err != nil {
		return finish(saga, result, saga.fail(stepRemoteInsert, mapRemoteError(err)))
	}
	saga.complete(stepRemoteInsert)
	result.RowsAffected = 1

	err = repository.NewLedgerRepository(w.db).Upsert(ctx, model.RowHashRecord{
		TableName:     w.table,
		RowID:         reply.RowID,
		ParticipantID: w.p.InternalID,
		Hash:          reply.DataHash,
	})
	if err != nil {
		return finish(saga, result, saga.fail(stepLedgerUpsert, err))
	}
	saga.complete(stepLedgerUpsert)
	return finish(saga, result, nil)
}

func (w *cooperativeWrite) update(ctx context.Context) (*WriteResult, error) {
	saga := newSaga("cooperative_update")
	result := &WriteResult{}

	req := &wire.UpdateDataRequest{DatabaseName: w.db.Name(), TableName: w.table, CmdText: w.sql, WhereClause: w.where}
	req.Authentication = w.auth
	reply, err := w.c.remote.UpdateData(ctx, w.url, req)
	if err == nil {
		err = checkReply(wire.OpUpdateCommandIntoTable, reply)
	}
	if err != nil {
		return finish(saga, result, saga.fail(stepRemoteUpdate, mapRemoteError(err)))
	}
	saga.complete(stepRemoteUpdate)

	// Участник применит изменение и сообщит новые хэши после принятия
	if reply.IsPending {
		result.IsPending = true
		result.Message = reply.Message
		return finish(saga, result, nil)
	}

	result.RowsAffected = int64(len(reply.Rows))
	ledger := repository.NewLedgerRepository(w.db)
	for _, r := range reply.Rows {
		err := ledger.Upsert(ctx, model.RowHashRecord{
			TableName:     w.table,
			RowID:         r.RowID,
			ParticipantID: w.p.InternalID,
			Hash:          r.Hash,
		})
		if err != nil {
			return finish(saga, result, saga.fail(stepLedgerUpdate, err))
		}
	}
	saga.complete(stepLedgerUpdate)
	return finish(saga, result, nil)
}

func (w *cooperativeWrite) delete(ctx context.Context) (*WriteResult, error) {
	saga := newSaga("cooperative_delete")
	result := &WriteResult{}

	req := &wire.DeleteDataRequest{DatabaseName: w.db.Name(), TableName: w.table, CmdText: w.sql, WhereClause: w.where}
	req.Authentication = w.auth
	reply, err := w.c.remote.DeleteData(ctx, w.url, req)
	if err == nil {
		err = checkReply(wire.OpDeleteCommandIntoTable, reply)
	}
	if err != nil {
		return finish(saga, result, saga.fail(stepRemoteDelete, mapRemoteError(err)))
	}
	saga.complete(stepRemoteDelete)

	if reply.IsPending {
		result.IsPending = true
		result.Message = reply.Message
		return finish(saga, result, nil)
	}

	result.RowsAffected = int64(len(reply.Rows))
	ledger := repository.NewLedgerRepository(w.db)
	for _, r := range reply.Rows {
		if err := ledger.Remove(ctx, w.table, r.RowID, w.p.InternalID); err != nil {
			return finish(saga, result, saga.fail(stepLedgerRemove, err))
		}
	}
	saga.complete(stepLedgerRemove)
	return finish(saga, result, nil)
}
