// Пакет sqlite — реализация backend.Backend на SQLite (mattn/go-sqlite3).
// Каждая логическая база — отдельный файл <dir>/<name>.db.
//
// go-sqlite3 гарантирует безопасность только конкурентных читателей,
// поэтому соединения открываются с busy_timeout и журналом WAL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

const (
	driverName = "rcd-sqlite3"
	fileExt    = ".db"
	rowIDAlias = "__rcd_rowid"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			_, err := c.Exec("PRAGMA foreign_keys = ON", nil)
			return err
		},
	})
}

// Backend — каталог файлов SQLite.
type Backend struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	dbs map[string]*Database
}

// New создаёт каталог (если нужно) и возвращает Backend.
func New(dir string, logger *slog.Logger) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("создание каталога %s: %w", dir, err)
	}
	return &Backend{
		dir:    dir,
		logger: logger.With(slog.String("component", "sqlite_backend")),
		dbs:    make(map[string]*Database),
	}, nil
}

// Engine возвращает "sqlite".
func (b *Backend) Engine() string { return "sqlite" }

func (b *Backend) path(name string) string {
	return filepath.Join(b.dir, name+fileExt)
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}

// CreateDatabase создаёт файл базы.
func (b *Backend) CreateDatabase(ctx context.Context, name string) error {
	if err := backend.ValidateName(name); err != nil {
		return err
	}
	_, err := b.open(ctx, name, true)
	return err
}

// HasDatabase проверяет наличие файла базы.
func (b *Backend) HasDatabase(_ context.Context, name string) (bool, error) {
	if err := backend.ValidateName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("проверка файла базы %s: %w", name, err)
}

// Database открывает существующую базу.
func (b *Backend) Database(ctx context.Context, name string) (backend.Database, error) {
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	return b.open(ctx, name, false)
}

func (b *Backend) open(ctx context.Context, name string, create bool) (*Database, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if db, ok := b.dbs[name]; ok {
		return db, nil
	}

	path := b.path(name)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", backend.ErrDatabaseNotFound, name)
		}
	}

	sqlDB, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("открытие базы %s: %w", name, err)
	}
	// Один писатель на файл: транзакции разных запросов идут по очереди
	sqlDB.SetMaxOpenConns(1)
	// Ping создаёт файл при первом подключении
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("подключение к базе %s: %w", name, err)
	}

	db := &Database{executor: executor{q: sqlDB}, name: name, db: sqlDB}
	b.dbs[name] = db

	if create {
		b.logger.Info("База данных открыта", slog.String("database", name), slog.String("path", path))
	}
	return db, nil
}

// ListDatabases перечисляет файлы *.db в каталоге.
func (b *Backend) ListDatabases(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога %s: %w", b.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Close закрывает все открытые базы.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, db := range b.dbs {
		if err := db.db.Close(); err != nil {
			b.logger.Warn("Ошибка закрытия базы",
				slog.String("database", name),
				slog.String("error", err.Error()),
			)
		}
	}
	b.dbs = make(map[string]*Database)
}

// queryer — общее для *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor struct {
	q queryer
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (e executor) Query(ctx context.Context, query string, args ...any) (backend.Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return newRows(rows)
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) backend.Row {
	return row{r: e.q.QueryRowContext(ctx, query, args...)}
}

// Database — файл SQLite.
type Database struct {
	executor
	name string
	db   *sql.DB
}

var _ backend.Database = (*Database)(nil)

// Name возвращает имя базы.
func (d *Database) Name() string { return d.name }

// RowIDColumn — встроенный rowid SQLite.
func (d *Database) RowIDColumn() string { return "rowid" }

// Insert выполняет INSERT и возвращает rowid вставленной строки.
func (d *Database) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.db.ExecContext(ctx, backend.TrimStatement(query), args...)
	if err != nil {
		return 0, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// SelectRows читает строки вместе с rowid.
func (d *Database) SelectRows(ctx context.Context, table, where string, args ...any) (*backend.RowSet, error) {
	query := fmt.Sprintf("SELECT rowid AS %s, * FROM %s%s ORDER BY rowid",
		backend.Quote(rowIDAlias), backend.Quote(table), backend.WhereSQL(where))
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := rows.Columns()
	set := &backend.RowSet{Columns: cols[1:]}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		id, ok := vals[0].(int64)
		if !ok {
			return nil, fmt.Errorf("неожиданный тип rowid %T", vals[0])
		}
		set.Rows = append(set.Rows, backend.StoredRow{RowID: id, Values: vals[1:]})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return set, nil
}

// HasTable проверяет наличие таблицы в sqlite_master.
func (d *Database) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1", table,
	).Scan(&n)
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

// UserTables возвращает пользовательские таблицы.
func (d *Database) UserTables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err)
		}
		if !model.IsServiceTable(name) {
			tables = append(tables, name)
		}
	}
	return tables, mapError(rows.Err())
}

// TableSchema читает PRAGMA table_info.
func (d *Database) TableSchema(ctx context.Context, table string) (*model.TableSchema, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", backend.Quote(table)))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	ts := &model.TableSchema{TableName: table, DatabaseName: d.name}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, mapError(err)
		}
		base, length := backend.SplitTypeLength(typ)
		ts.Columns = append(ts.Columns, model.ColumnSchema{
			ColumnName:   name,
			ColumnType:   strings.ToUpper(base),
			ColumnLength: length,
			IsNullable:   notNull == 0 && pk == 0,
			Ordinal:      cid + 1,
			IsPrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(ts.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", backend.ErrTableNotFound, table)
	}
	return ts, nil
}

// CreateTable создаёт таблицу; идентификатор строки — встроенный rowid.
func (d *Database) CreateTable(ctx context.Context, schema model.TableSchema) error {
	if err := backend.ValidateName(schema.TableName); err != nil {
		return err
	}
	_, err := d.Exec(ctx, backend.CreateTableSQL(schema, "", columnType))
	return err
}

// InTx выполняет fn в транзакции.
func (d *Database) InTx(ctx context.Context, fn func(tx backend.Executor) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	if err := fn(executor{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("фиксация транзакции: %w", mapError(err))
	}
	return nil
}

func columnType(c model.ColumnSchema) string {
	t := strings.ToUpper(strings.TrimSpace(c.ColumnType))
	if t == "" {
		return "TEXT"
	}
	if c.ColumnLength > 0 && !strings.Contains(t, "(") {
		return fmt.Sprintf("%s(%d)", t, c.ColumnLength)
	}
	return t
}

// mapError приводит ошибки драйвера к ошибкам backend.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return backend.ErrNoRows
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %w", backend.ErrConflict, err)
		}
		if se.Code == sqlite3.ErrError && strings.Contains(se.Error(), "no such table") {
			return fmt.Errorf("%w: %w", backend.ErrTableNotFound, err)
		}
	}
	return err
}

type row struct {
	r *sql.Row
}

func (r row) Scan(dest ...any) error {
	return mapError(r.r.Scan(dest...))
}

type rowsWrapper struct {
	r    *sql.Rows
	cols []string
}

func newRows(r *sql.Rows) (*rowsWrapper, error) {
	cols, err := r.Columns()
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("колонки результата: %w", err)
	}
	return &rowsWrapper{r: r, cols: cols}, nil
}

func (w *rowsWrapper) Columns() []string      { return w.cols }
func (w *rowsWrapper) Next() bool             { return w.r.Next() }
func (w *rowsWrapper) Scan(dest ...any) error { return mapError(w.r.Scan(dest...)) }
func (w *rowsWrapper) Err() error             { return mapError(w.r.Err()) }
func (w *rowsWrapper) Close()                 { _ = w.r.Close() }

// Values читает текущую строку как срез значений.
func (w *rowsWrapper) Values() ([]any, error) {
	vals := make([]any, len(w.cols))
	ptrs := make([]any, len(w.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := w.r.Scan(ptrs...); err != nil {
		return nil, mapError(err)
	}
	return vals, nil
}
