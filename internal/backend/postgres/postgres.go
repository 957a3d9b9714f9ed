// Пакет postgres — реализация backend.Backend на PostgreSQL (pgx/v5).
// Логическая база rcd — схема PostgreSQL; для каждой схемы открывается
// отдельный пул с search_path, чтобы пользовательский SQL работал без
// квалификации имён.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// RowIDColumnName — колонка идентификатора строки в частичных таблицах.
const RowIDColumnName = "rcd_row_id"

// Backend — логические базы как схемы одной базы PostgreSQL.
type Backend struct {
	dsn    string
	admin  *pgxpool.Pool
	logger *slog.Logger

	mu    sync.Mutex
	pools map[string]*Database
}

// New создаёт Backend поверх пула admin (используется для DDL схем)
// и DSN, из которого открываются пулы отдельных баз.
func New(admin *pgxpool.Pool, dsn string, logger *slog.Logger) *Backend {
	return &Backend{
		dsn:    dsn,
		admin:  admin,
		logger: logger.With(slog.String("component", "postgres_backend")),
		pools:  make(map[string]*Database),
	}
}

// Engine возвращает "postgres".
func (b *Backend) Engine() string { return "postgres" }

// CreateDatabase создаёт схему.
func (b *Backend) CreateDatabase(ctx context.Context, name string) error {
	if err := backend.ValidateName(name); err != nil {
		return err
	}
	if _, err := b.admin.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+backend.Quote(name)); err != nil {
		return fmt.Errorf("создание схемы %s: %w", name, mapError(err))
	}
	b.logger.Info("База данных создана", slog.String("database", name))
	return nil
}

// HasDatabase проверяет наличие схемы.
func (b *Backend) HasDatabase(ctx context.Context, name string) (bool, error) {
	if err := backend.ValidateName(name); err != nil {
		return false, err
	}
	var exists bool
	err := b.admin.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("проверка схемы %s: %w", name, mapError(err))
	}
	return exists, nil
}

// Database открывает пул схемы.
func (b *Backend) Database(ctx context.Context, name string) (backend.Database, error) {
	b.mu.Lock()
	if db, ok := b.pools[name]; ok {
		b.mu.Unlock()
		return db, nil
	}
	b.mu.Unlock()

	exists, err := b.HasDatabase(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", backend.ErrDatabaseNotFound, name)
	}

	poolCfg, err := pgxpool.ParseConfig(b.dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["search_path"] = name

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула для %s: %w", name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Пул мог быть создан параллельным вызовом
	if db, ok := b.pools[name]; ok {
		pool.Close()
		return db, nil
	}
	db := &Database{executor: executor{q: pool}, name: name, pool: pool}
	b.pools[name] = db
	return db, nil
}

// ListDatabases возвращает схемы, кроме системных.
func (b *Backend) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := b.admin.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT IN ('public', 'information_schema')
		  AND schema_name NOT LIKE 'pg\_%'
		ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("перечисление схем: %w", mapError(err))
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("перечисление схем: %w", mapError(err))
	}
	return names, nil
}

// Close закрывает пулы всех баз. Пул admin закрывает владелец.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, db := range b.pools {
		db.pool.Close()
	}
	b.pools = make(map[string]*Database)
}

// queryer — общее для *pgxpool.Pool и pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type executor struct {
	q queryer
}

func (e executor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (e executor) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	rows, err := e.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return &rowsWrapper{r: rows}, nil
}

func (e executor) QueryRow(ctx context.Context, sql string, args ...any) backend.Row {
	return row{r: e.q.QueryRow(ctx, sql, args...)}
}

// Database — схема PostgreSQL.
type Database struct {
	executor
	name string
	pool *pgxpool.Pool
}

var _ backend.Database = (*Database)(nil)

// Name возвращает имя схемы.
func (d *Database) Name() string { return d.name }

// RowIDColumn — колонка rcd_row_id.
func (d *Database) RowIDColumn() string { return backend.Quote(RowIDColumnName) }

// Insert выполняет INSERT ... RETURNING rcd_row_id. Собственный RETURNING
// выражения конфликтует с добавляемым, поэтому отклоняется.
func (d *Database) Insert(ctx context.Context, sql string, args ...any) (int64, error) {
	if backend.HasReturning(sql) {
		return 0, fmt.Errorf("%w: INSERT с RETURNING", backend.ErrUnsupportedStatement)
	}
	var id int64
	err := d.pool.QueryRow(ctx, backend.TrimStatement(sql)+" RETURNING "+d.RowIDColumn(), args...).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// SelectRows читает строки с rcd_row_id.
func (d *Database) SelectRows(ctx context.Context, table, where string, args ...any) (*backend.RowSet, error) {
	sql := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s",
		backend.Quote(table), backend.WhereSQL(where), d.RowIDColumn())
	rows, err := d.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := rows.Columns()
	idIdx := -1
	set := &backend.RowSet{}
	for i, c := range cols {
		if c == RowIDColumnName {
			idIdx = i
			continue
		}
		set.Columns = append(set.Columns, c)
	}
	if idIdx < 0 {
		return nil, fmt.Errorf("таблица %s не содержит колонку %s", table, RowIDColumnName)
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		id, err := toInt64(vals[idIdx])
		if err != nil {
			return nil, err
		}
		rest := make([]any, 0, len(vals)-1)
		rest = append(rest, vals[:idIdx]...)
		rest = append(rest, vals[idIdx+1:]...)
		set.Rows = append(set.Rows, backend.StoredRow{RowID: id, Values: rest})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// HasTable проверяет наличие таблицы в схеме.
func (d *Database) HasTable(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, d.name, table,
	).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

// UserTables возвращает пользовательские таблицы схемы.
func (d *Database) UserTables(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, d.name)
	if err != nil {
		return nil, mapError(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err)
	}
	tables := make([]string, 0, len(names))
	for _, n := range names {
		if !model.IsServiceTable(n) {
			tables = append(tables, n)
		}
	}
	return tables, nil
}

// TableSchema читает information_schema.columns. Колонка rcd_row_id не включается.
func (d *Database) TableSchema(ctx context.Context, table string) (*model.TableSchema, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT c.column_name, c.data_type, COALESCE(c.character_maximum_length, 0),
		       c.is_nullable = 'YES', c.ordinal_position,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage k
		             ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
		           WHERE tc.table_schema = c.table_schema AND tc.table_name = c.table_name
		             AND tc.constraint_type = 'PRIMARY KEY' AND k.column_name = c.column_name
		       )
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, d.name, table)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	ts := &model.TableSchema{TableName: table, DatabaseName: d.name}
	for rows.Next() {
		var c model.ColumnSchema
		var length, ordinal int32
		if err := rows.Scan(&c.ColumnName, &c.ColumnType, &length, &c.IsNullable, &ordinal, &c.IsPrimaryKey); err != nil {
			return nil, mapError(err)
		}
		if c.ColumnName == RowIDColumnName {
			continue
		}
		c.ColumnLength = int(length)
		c.Ordinal = int(ordinal)
		ts.Columns = append(ts.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(ts.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable создаёт таблицу с колонкой rcd_row_id BIGSERIAL.
func (d *Database) CreateTable(ctx context.Context, schema model.TableSchema) error {
	if err := backend.ValidateName(schema.TableName); err != nil {
		return err
	}
	rowID := backend.Quote(RowIDColumnName) + " BIGSERIAL PRIMARY KEY"
	_, err := d.Exec(ctx, backend.CreateTableSQL(schema, rowID, columnType))
	return err
}

// InTx выполняет fn в транзакции pgx.
func (d *Database) InTx(ctx context.Context, fn func(tx backend.Executor) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(executor{q: tx})
	})
}

// columnType переводит тип колонки (в том числе SQLite-типы) в тип PostgreSQL.
func columnType(c model.ColumnSchema) string {
	t := strings.ToLower(strings.TrimSpace(c.ColumnType))
	switch t {
	case "", "text", "clob":
		return "text"
	case "int", "integer", "int4":
		return "integer"
	case "bigint", "int8":
		return "bigint"
	case "real", "double", "float", "double precision":
		return "double precision"
	case "blob", "bytea":
		return "bytea"
	case "datetime", "timestamp", "timestamp without time zone":
		return "timestamp"
	case "timestamp with time zone", "timestamptz":
		return "timestamptz"
	case "varchar", "character varying", "nvarchar":
		if c.ColumnLength > 0 {
			return fmt.Sprintf("varchar(%d)", c.ColumnLength)
		}
		return "varchar"
	case "char", "character", "nchar":
		if c.ColumnLength > 0 {
			return fmt.Sprintf("char(%d)", c.ColumnLength)
		}
		return "char"
	default:
		return t
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("неожиданный тип идентификатора строки %T", v)
	}
}

// mapError приводит ошибки pgx к ошибкам backend.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %w", backend.ErrConflict, err)
		case "42P01":
			return fmt.Errorf("%w: %w", backend.ErrTableNotFound, err)
		case "3F000":
			return fmt.Errorf("%w: %w", backend.ErrDatabaseNotFound, err)
		}
	}
	return err
}

type row struct {
	r pgx.Row
}

func (r row) Scan(dest ...any) error {
	return mapError(r.r.Scan(dest...))
}

type rowsWrapper struct {
	r pgx.Rows
}

func (w *rowsWrapper) Columns() []string {
	fields := w.r.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols
}

func (w *rowsWrapper) Next() bool             { return w.r.Next() }
func (w *rowsWrapper) Scan(dest ...any) error { return mapError(w.r.Scan(dest...)) }
func (w *rowsWrapper) Values() ([]any, error) { return w.r.Values() }
func (w *rowsWrapper) Err() error             { return mapError(w.r.Err()) }
func (w *rowsWrapper) Close()                 { w.r.Close() }
