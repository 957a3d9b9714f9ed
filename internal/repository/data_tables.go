package repository

import (
	"context"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// DataTablesRepository — настройки частичных таблиц участника (COOP_DATA_TABLES).
type DataTablesRepository interface {
	// Get возвращает настройки таблицы. Для таблицы без записи — QueueForReview
	// для обновлений и удалений.
	Get(ctx context.Context, table string) (*model.DataTableBehavior, error)
	// Upsert сохраняет настройки таблицы.
	Upsert(ctx context.Context, b *model.DataTableBehavior) error
	// List возвращает настройки всех таблиц.
	List(ctx context.Context) ([]*model.DataTableBehavior, error)
}

type dataTablesRepo struct {
	db backend.Executor
}

// NewDataTablesRepository создаёт репозиторий настроек частичных таблиц.
func NewDataTablesRepository(db backend.Executor) DataTablesRepository {
	return &dataTablesRepo{db: db}
}

// DefaultDataTableBehavior — настройки новой частичной таблицы.
func DefaultDataTableBehavior(table string) *model.DataTableBehavior {
	return &model.DataTableBehavior{
		TableName:       table,
		UpdatesFromHost: model.UpdatesFromHostQueueForReview,
		DeletesFromHost: model.DeletesFromHostQueueForReview,
	}
}

func scanDataTable(row backend.Row) (*model.DataTableBehavior, error) {
	b := &model.DataTableBehavior{}
	var upd, del int
	if err := row.Scan(&b.TableName, &upd, &del); err != nil {
		return nil, err
	}
	b.UpdatesFromHost = model.UpdatesFromHostBehavior(upd)
	b.DeletesFromHost = model.DeletesFromHostBehavior(del)
	return b, nil
}

func (r *dataTablesRepo) Get(ctx context.Context, table string) (*model.DataTableBehavior, error) {
	query := fmt.Sprintf(`SELECT TABLE_NAME, UPDATES_FROM_HOST_BEHAVIOR, DELETES_FROM_HOST_BEHAVIOR
		FROM %s WHERE TABLE_NAME = $1`, backend.Quote(model.TableDataTables))
	b, err := scanDataTable(r.db.QueryRow(ctx, query, table))
	if err != nil {
		if mapped := mapBackendError(err, "ошибка чтения настроек таблицы %s", table); mapped != ErrNotFound {
			return nil, mapped
		}
		return DefaultDataTableBehavior(table), nil
	}
	return b, nil
}

func (r *dataTablesRepo) Upsert(ctx context.Context, b *model.DataTableBehavior) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (TABLE_NAME, UPDATES_FROM_HOST_BEHAVIOR, DELETES_FROM_HOST_BEHAVIOR)
		VALUES ($1, $2, $3)
		ON CONFLICT (TABLE_NAME) DO UPDATE SET
			UPDATES_FROM_HOST_BEHAVIOR = excluded.UPDATES_FROM_HOST_BEHAVIOR,
			DELETES_FROM_HOST_BEHAVIOR = excluded.DELETES_FROM_HOST_BEHAVIOR`,
		backend.Quote(model.TableDataTables))
	if _, err := r.db.Exec(ctx, query, b.TableName, int(b.UpdatesFromHost), int(b.DeletesFromHost)); err != nil {
		return mapBackendError(err, "ошибка сохранения настроек таблицы %s", b.TableName)
	}
	return nil
}

func (r *dataTablesRepo) List(ctx context.Context) ([]*model.DataTableBehavior, error) {
	query := fmt.Sprintf(`SELECT TABLE_NAME, UPDATES_FROM_HOST_BEHAVIOR, DELETES_FROM_HOST_BEHAVIOR
		FROM %s ORDER BY TABLE_NAME`, backend.Quote(model.TableDataTables))
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapBackendError(err, "ошибка чтения настроек таблиц")
	}
	defer rows.Close()

	var result []*model.DataTableBehavior
	for rows.Next() {
		b, err := scanDataTable(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования настроек: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}
