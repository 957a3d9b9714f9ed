// Пакет backend — абстракция физического хранилища пользовательских баз данных.
//
// Логическая база rcd реализуется движком по-своему: схемой PostgreSQL
// или отдельным файлом SQLite. Остальной код работает только через
// интерфейсы Backend и Database.
package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// Ошибки хранилища, к которым приводятся ошибки драйверов.
var (
	// ErrNoRows — запрос не вернул строк.
	ErrNoRows = errors.New("строки не найдены")
	// ErrDatabaseNotFound — логическая база данных не существует.
	ErrDatabaseNotFound = errors.New("база данных не найдена")
	// ErrTableNotFound — таблица не существует.
	ErrTableNotFound = errors.New("таблица не найдена")
	// ErrConflict — нарушение ограничения уникальности.
	ErrConflict = errors.New("конфликт уникальности")
	// ErrInvalidName — недопустимое имя базы или таблицы.
	ErrInvalidName = errors.New("недопустимое имя")
	// ErrUnsupportedStatement — выражение нельзя выполнить этим методом.
	ErrUnsupportedStatement = errors.New("неподдерживаемое выражение")
)

// Backend — движок хранения логических баз данных.
type Backend interface {
	// Engine возвращает имя движка ("postgres", "sqlite").
	Engine() string
	// CreateDatabase создаёт логическую базу. Повторный вызов не является ошибкой.
	CreateDatabase(ctx context.Context, name string) error
	// HasDatabase сообщает, существует ли логическая база.
	HasDatabase(ctx context.Context, name string) (bool, error)
	// Database открывает существующую базу. ErrDatabaseNotFound, если её нет.
	Database(ctx context.Context, name string) (Database, error)
	// ListDatabases возвращает имена логических баз.
	ListDatabases(ctx context.Context) ([]string, error)
	// Close освобождает ресурсы движка.
	Close()
}

// Executor — выполнение параметризованных запросов.
// Плейсхолдеры $1..$n нумеруются в порядке первого появления в тексте запроса.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Database — логическая база данных.
type Database interface {
	Executor

	// Name возвращает имя логической базы.
	Name() string
	// RowIDColumn возвращает выражение идентификатора строки для WHERE.
	RowIDColumn() string
	// Insert выполняет INSERT одной строки и возвращает её идентификатор.
	Insert(ctx context.Context, sql string, args ...any) (int64, error)
	// SelectRows читает строки таблицы с идентификаторами, отфильтрованные
	// условием where (пустое условие — все строки).
	SelectRows(ctx context.Context, table, where string, args ...any) (*RowSet, error)
	// HasTable сообщает, существует ли таблица.
	HasTable(ctx context.Context, table string) (bool, error)
	// UserTables возвращает пользовательские таблицы без служебных.
	UserTables(ctx context.Context) ([]string, error)
	// TableSchema возвращает описание колонок таблицы. ErrTableNotFound, если её нет.
	TableSchema(ctx context.Context, table string) (*model.TableSchema, error)
	// CreateTable создаёт таблицу по описанию схемы, если её ещё нет.
	CreateTable(ctx context.Context, schema model.TableSchema) error
	// InTx выполняет fn в транзакции: commit при nil, rollback при ошибке.
	InTx(ctx context.Context, fn func(tx Executor) error) error
}

// Rows — курсор результата запроса.
type Rows interface {
	Columns() []string
	Next() bool
	Scan(dest ...any) error
	Values() ([]any, error)
	Err() error
	Close()
}

// Row — результат запроса одной строки.
type Row interface {
	Scan(dest ...any) error
}

// StoredRow — строка таблицы с её идентификатором.
type StoredRow struct {
	RowID  int64
	Values []any
}

// RowSet — строки таблицы с именами колонок (без колонки идентификатора).
type RowSet struct {
	Columns []string
	Rows    []StoredRow
}

// Hash возвращает хэш содержимого i-й строки.
func (s *RowSet) Hash(i int) uint64 {
	return HashRow(s.Columns, s.Rows[i].Values)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateName проверяет имя базы, таблицы или колонки.
func ValidateName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CollectResultSet читает все строки курсора в ResultSet и закрывает курсор.
func CollectResultSet(rows Rows) (*model.ResultSet, error) {
	defer rows.Close()

	rs := &model.ResultSet{Columns: rows.Columns(), Rows: [][]any{}}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("чтение строки: %w", err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("итерация строк: %w", err)
	}
	return rs, nil
}
