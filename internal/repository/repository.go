// Пакет repository — слой доступа к данным.
//
// Системные таблицы (идентичность хоста, известные хосты, полученные
// контракты, учётные записи) хранятся в PostgreSQL и читаются через pgx.
// Кооперативные таблицы каждой логической базы (COOP_*, *_METADATA,
// *_QUEUE, *_REMOTES) читаются через backend.Executor, поэтому их SQL
// переносим между PostgreSQL и SQLite: плейсхолдеры $n, время в TEXT
// (RFC 3339), хэши в BIGINT.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrAmbiguous — под условие выборки подходит несколько разных записей.
	ErrAmbiguous = errors.New("неоднозначная выборка")
)

// DBTX — интерфейс для выполнения SQL-запросов к системному хранилищу.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner открывает транзакцию; *pgxpool.Pool его реализует, pgx.Tx нет.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner выполняет группу записей системного хранилища одной транзакцией.
type TxRunner struct {
	db txBeginner
}

// NewTxRunner создаёт TxRunner поверх пула.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{db: pool}
}

// RunInTx выполняет fn внутри транзакции: ошибка fn откатывает её,
// иначе транзакция коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// mapBackendError переводит ошибки backend в ошибки репозитория.
func mapBackendError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, backend.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, backend.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// timeLayout — RFC 3339 с фиксированной точностью, сортируется как строка.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime кодирует время для хранения в TEXT.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime разбирает время, сохранённое formatTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("некорректное время %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// hashToDB и hashFromDB хранят uint64 в BIGINT без потери битов.
func hashToDB(h uint64) int64   { return int64(h) }
func hashFromDB(v int64) uint64 { return uint64(v) }
