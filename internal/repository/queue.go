package repository

import (
	"context"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// QueueRepository — очередь отложенных действий частичной таблицы
// (<table>_QUEUE). Идентификатор действия — идентификатор строки очереди.
type QueueRepository interface {
	// Add ставит действие в очередь и возвращает его идентификатор.
	Add(ctx context.Context, a *model.PendingAction) (int64, error)
	// Get возвращает действие по идентификатору или ErrNotFound.
	Get(ctx context.Context, table string, id int64) (*model.PendingAction, error)
	// List возвращает действия таблицы заданного типа
	// (ActionUnknown — все типы) в порядке поступления.
	List(ctx context.Context, table string, kind model.PendingActionKind) ([]*model.PendingAction, error)
	// Delete удаляет действие. ErrNotFound, если его нет.
	Delete(ctx context.Context, ex backend.Executor, table string, id int64) error
}

type queueRepo struct {
	db backend.Database
}

// NewQueueRepository создаёт репозиторий очереди частичной базы.
// Таблицы очереди создаются EnsureQueueTable.
func NewQueueRepository(db backend.Database) QueueRepository {
	return &queueRepo{db: db}
}

var queueColumns = fmt.Sprintf("%s, %s, %s, %s, %s",
	backend.Quote("STATEMENT"), backend.Quote("WHERE_CLAUSE"), backend.Quote("ACTION"),
	backend.Quote("REQUESTED_TS_UTC"), backend.Quote("HOST_ID"))

func (r *queueRepo) Add(ctx context.Context, a *model.PendingAction) (int64, error) {
	if err := backend.ValidateName(a.TableName); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5)`,
		backend.Quote(model.QueueTableName(a.TableName)), queueColumns)
	id, err := r.db.Insert(ctx, query,
		a.Statement, a.WhereClause, int(a.Kind), formatTime(a.RequestedAt), a.RequestingHostID)
	if err != nil {
		return 0, mapBackendError(err, "ошибка постановки действия в очередь %s", a.TableName)
	}
	a.ID = id
	return id, nil
}

func (r *queueRepo) scan(row backend.Row, table string) (*model.PendingAction, error) {
	a := &model.PendingAction{TableName: table}
	var kind int
	var requested string
	if err := row.Scan(&a.ID, &a.Statement, &a.WhereClause, &kind, &requested, &a.RequestingHostID); err != nil {
		return nil, err
	}
	a.Kind = model.PendingActionKind(kind)
	var err error
	if a.RequestedAt, err = parseTime(requested); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *queueRepo) selectSQL(table string) string {
	return fmt.Sprintf(`SELECT %s, %s FROM %s`, r.db.RowIDColumn(), queueColumns,
		backend.Quote(model.QueueTableName(table)))
}

func (r *queueRepo) Get(ctx context.Context, table string, id int64) (*model.PendingAction, error) {
	if err := backend.ValidateName(table); err != nil {
		return nil, err
	}
	query := r.selectSQL(table) + fmt.Sprintf(` WHERE %s = $1`, r.db.RowIDColumn())
	a, err := r.scan(r.db.QueryRow(ctx, query, id), table)
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения действия %d из очереди %s", id, table)
	}
	return a, nil
}

func (r *queueRepo) List(ctx context.Context, table string, kind model.PendingActionKind) ([]*model.PendingAction, error) {
	if err := backend.ValidateName(table); err != nil {
		return nil, err
	}
	query := r.selectSQL(table)
	var args []any
	if kind != model.ActionUnknown {
		query += fmt.Sprintf(` WHERE %s = $1`, backend.Quote("ACTION"))
		args = append(args, int(kind))
	}
	query += fmt.Sprintf(` ORDER BY %s`, r.db.RowIDColumn())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapBackendError(err, "ошибка чтения очереди %s", table)
	}
	defer rows.Close()

	var result []*model.PendingAction
	for rows.Next() {
		a, err := r.scan(rows, table)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования действия: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Delete выполняется через ex, чтобы удаление действия попадало
// в транзакцию его применения.
func (r *queueRepo) Delete(ctx context.Context, ex backend.Executor, table string, id int64) error {
	if err := backend.ValidateName(table); err != nil {
		return err
	}
	if ex == nil {
		ex = r.db
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		backend.Quote(model.QueueTableName(table)), r.db.RowIDColumn())
	n, err := ex.Exec(ctx, query, id)
	if err != nil {
		return mapBackendError(err, "ошибка удаления действия %d из очереди %s", id, table)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
