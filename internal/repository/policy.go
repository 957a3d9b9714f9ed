package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// PolicyRepository — политики хранения таблиц (COOP_REMOTES).
type PolicyRepository interface {
	// Get возвращает политику таблицы или ErrNotFound, если она не задана.
	Get(ctx context.Context, table string) (model.LogicalStoragePolicy, error)
	// Upsert задаёт политику таблицы.
	Upsert(ctx context.Context, table string, policy model.LogicalStoragePolicy) error
	// List возвращает все заданные политики.
	List(ctx context.Context) (map[string]model.LogicalStoragePolicy, error)
}

type policyRepo struct {
	db backend.Executor
}

// NewPolicyRepository создаёт репозиторий политик хранения.
func NewPolicyRepository(db backend.Executor) PolicyRepository {
	return &policyRepo{db: db}
}

func (r *policyRepo) Get(ctx context.Context, table string) (model.LogicalStoragePolicy, error) {
	query := fmt.Sprintf(`SELECT LOGICAL_STORAGE_POLICY FROM %s WHERE TABLENAME = $1`,
		backend.Quote(model.TableRemotes))
	var p int
	if err := r.db.QueryRow(ctx, query, table).Scan(&p); err != nil {
		return model.PolicyNone, mapBackendError(err, "ошибка получения политики %s", table)
	}
	return model.LogicalStoragePolicy(p), nil
}

func (r *policyRepo) Upsert(ctx context.Context, table string, policy model.LogicalStoragePolicy) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (TABLENAME, LOGICAL_STORAGE_POLICY) VALUES ($1, $2)
		ON CONFLICT (TABLENAME) DO UPDATE SET LOGICAL_STORAGE_POLICY = excluded.LOGICAL_STORAGE_POLICY`,
		backend.Quote(model.TableRemotes))
	if _, err := r.db.Exec(ctx, query, table, int(policy)); err != nil {
		return mapBackendError(err, "ошибка сохранения политики %s", table)
	}
	return nil
}

func (r *policyRepo) List(ctx context.Context) (map[string]model.LogicalStoragePolicy, error) {
	query := fmt.Sprintf(`SELECT TABLENAME, LOGICAL_STORAGE_POLICY FROM %s`, backend.Quote(model.TableRemotes))
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения политик")
	}
	defer rows.Close()

	result := make(map[string]model.LogicalStoragePolicy)
	for rows.Next() {
		var table string
		var p int
		if err := rows.Scan(&table, &p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования политики: %w", err)
		}
		result[table] = model.LogicalStoragePolicy(p)
	}
	return result, rows.Err()
}

// PublishedSchemaRepository — опубликованная хостом схема
// (COOP_DATA_HOST, COOP_DATA_HOST_TABLES, COOP_DATA_HOST_TABLE_COLUMNS).
// Хранит стабильные идентификаторы базы, таблиц и колонок.
type PublishedSchemaRepository interface {
	// DatabaseID возвращает идентификатор базы, создавая его при первом обращении.
	DatabaseID(ctx context.Context, dbName string) (string, error)
	// PublishTable сохраняет текущие колонки таблицы и проставляет в ts
	// идентификаторы таблицы и колонок.
	PublishTable(ctx context.Context, ts *model.TableSchema) error
	// Annotate проставляет в ts ранее опубликованные идентификаторы.
	Annotate(ctx context.Context, ts *model.TableSchema) error
}

type publishedSchemaRepo struct {
	db backend.Executor
}

// NewPublishedSchemaRepository создаёт репозиторий опубликованной схемы.
func NewPublishedSchemaRepository(db backend.Executor) PublishedSchemaRepository {
	return &publishedSchemaRepo{db: db}
}

func (r *publishedSchemaRepo) DatabaseID(ctx context.Context, dbName string) (string, error) {
	query := fmt.Sprintf(`SELECT DATABASE_ID FROM %s WHERE DATABASE_NAME = $1`, backend.Quote(model.TableDataHost))
	var id string
	err := r.db.QueryRow(ctx, query, dbName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if mapped := mapBackendError(err, "ошибка получения идентификатора базы"); mapped != ErrNotFound {
		return "", mapped
	}

	id = uuid.NewString()
	insert := fmt.Sprintf(`INSERT INTO %s (DATABASE_ID, DATABASE_NAME) VALUES ($1, $2)`,
		backend.Quote(model.TableDataHost))
	if _, err := r.db.Exec(ctx, insert, id, dbName); err != nil {
		return "", mapBackendError(err, "ошибка сохранения идентификатора базы")
	}
	return id, nil
}

func (r *publishedSchemaRepo) tableID(ctx context.Context, table string) (string, error) {
	query := fmt.Sprintf(`SELECT TABLE_ID FROM %s WHERE TABLE_NAME = $1`, backend.Quote(model.TableDataHostTables))
	var id string
	if err := r.db.QueryRow(ctx, query, table).Scan(&id); err != nil {
		return "", mapBackendError(err, "ошибка получения идентификатора таблицы %s", table)
	}
	return id, nil
}

func (r *publishedSchemaRepo) PublishTable(ctx context.Context, ts *model.TableSchema) error {
	id, err := r.tableID(ctx, ts.TableName)
	if err == ErrNotFound {
		id = uuid.NewString()
		insert := fmt.Sprintf(`INSERT INTO %s (TABLE_ID, TABLE_NAME) VALUES ($1, $2)`,
			backend.Quote(model.TableDataHostTables))
		if _, err := r.db.Exec(ctx, insert, id, ts.TableName); err != nil {
			return mapBackendError(err, "ошибка публикации таблицы %s", ts.TableName)
		}
	} else if err != nil {
		return err
	}
	ts.TableID = id

	known, err := r.columnIDs(ctx, id)
	if err != nil {
		return err
	}

	del := fmt.Sprintf(`DELETE FROM %s WHERE TABLE_ID = $1`, backend.Quote(model.TableDataHostColumns))
	if _, err := r.db.Exec(ctx, del, id); err != nil {
		return mapBackendError(err, "ошибка очистки колонок таблицы %s", ts.TableName)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (TABLE_ID, COLUMN_ID, COLUMN_NAME) VALUES ($1, $2, $3)`,
		backend.Quote(model.TableDataHostColumns))
	for i := range ts.Columns {
		c := &ts.Columns[i]
		colID, ok := known[c.ColumnName]
		if !ok {
			colID = uuid.NewString()
		}
		if _, err := r.db.Exec(ctx, insert, id, colID, c.ColumnName); err != nil {
			return mapBackendError(err, "ошибка публикации колонки %s.%s", ts.TableName, c.ColumnName)
		}
		c.ColumnID = colID
		c.TableID = id
	}
	return nil
}

func (r *publishedSchemaRepo) Annotate(ctx context.Context, ts *model.TableSchema) error {
	id, err := r.tableID(ctx, ts.TableName)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	ts.TableID = id

	known, err := r.columnIDs(ctx, id)
	if err != nil {
		return err
	}
	for i := range ts.Columns {
		ts.Columns[i].TableID = id
		ts.Columns[i].ColumnID = known[ts.Columns[i].ColumnName]
	}
	return nil
}

func (r *publishedSchemaRepo) columnIDs(ctx context.Context, tableID string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT COLUMN_NAME, COLUMN_ID FROM %s WHERE TABLE_ID = $1`,
		backend.Quote(model.TableDataHostColumns))
	rows, err := r.db.Query(ctx, query, tableID)
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения колонок")
	}
	defer rows.Close()

	known := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования колонки: %w", err)
		}
		known[name] = id
	}
	return known, rows.Err()
}
