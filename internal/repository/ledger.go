package repository

import (
	"context"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// LedgerRepository — журнал хэшей строк (<table>_METADATA) и обратные
// ссылки на строки участников (<table>_REMOTES) в базе хоста.
type LedgerRepository interface {
	// Upsert записывает последний подтверждённый хэш строки у участника.
	Upsert(ctx context.Context, rec model.RowHashRecord) error
	// Get возвращает хэш строки у участника или ErrNotFound.
	Get(ctx context.Context, table string, rowID int64, participantID string) (uint64, error)
	// Remove удаляет запись журнала и обратную ссылку.
	Remove(ctx context.Context, table string, rowID int64, participantID string) error
	// ListByParticipant возвращает записи журнала таблицы для участника.
	ListByParticipant(ctx context.Context, table, participantID string) ([]model.RowHashRecord, error)
	// ListByTable возвращает все записи журнала таблицы.
	ListByTable(ctx context.Context, table string) ([]model.RowHashRecord, error)
}

type ledgerRepo struct {
	db backend.Executor
}

// NewLedgerRepository создаёт репозиторий журнала хэшей.
// Таблицы журнала создаются EnsureLedgerTables.
func NewLedgerRepository(db backend.Executor) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) Upsert(ctx context.Context, rec model.RowHashRecord) error {
	if err := backend.ValidateName(rec.TableName); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (ROW_ID, INTERNAL_PARTICIPANT_ID, HASH) VALUES ($1, $2, $3)
		ON CONFLICT (ROW_ID, INTERNAL_PARTICIPANT_ID) DO UPDATE SET HASH = excluded.HASH`,
		backend.Quote(model.MetadataTableName(rec.TableName)))
	if _, err := r.db.Exec(ctx, query, rec.RowID, rec.ParticipantID, hashToDB(rec.Hash)); err != nil {
		return mapBackendError(err, "ошибка записи хэша %s/%d", rec.TableName, rec.RowID)
	}

	remotes := fmt.Sprintf(`
		INSERT INTO %s (ROW_ID, INTERNAL_PARTICIPANT_ID) VALUES ($1, $2)
		ON CONFLICT (ROW_ID, INTERNAL_PARTICIPANT_ID) DO NOTHING`,
		backend.Quote(model.RemotesTableName(rec.TableName)))
	if _, err := r.db.Exec(ctx, remotes, rec.RowID, rec.ParticipantID); err != nil {
		return mapBackendError(err, "ошибка записи обратной ссылки %s/%d", rec.TableName, rec.RowID)
	}
	return nil
}

func (r *ledgerRepo) Get(ctx context.Context, table string, rowID int64, participantID string) (uint64, error) {
	if err := backend.ValidateName(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT HASH FROM %s WHERE ROW_ID = $1 AND INTERNAL_PARTICIPANT_ID = $2`,
		backend.Quote(model.MetadataTableName(table)))
	var h int64
	if err := r.db.QueryRow(ctx, query, rowID, participantID).Scan(&h); err != nil {
		return 0, mapBackendError(err, "ошибка чтения хэша %s/%d", table, rowID)
	}
	return hashFromDB(h), nil
}

func (r *ledgerRepo) Remove(ctx context.Context, table string, rowID int64, participantID string) error {
	if err := backend.ValidateName(table); err != nil {
		return err
	}
	for _, t := range []string{model.MetadataTableName(table), model.RemotesTableName(table)} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE ROW_ID = $1 AND INTERNAL_PARTICIPANT_ID = $2`, backend.Quote(t))
		if _, err := r.db.Exec(ctx, query, rowID, participantID); err != nil {
			return mapBackendError(err, "ошибка удаления записи %s/%d", t, rowID)
		}
	}
	return nil
}

func (r *ledgerRepo) ListByParticipant(ctx context.Context, table, participantID string) ([]model.RowHashRecord, error) {
	if err := backend.ValidateName(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT ROW_ID, INTERNAL_PARTICIPANT_ID, HASH FROM %s
		WHERE INTERNAL_PARTICIPANT_ID = $1 ORDER BY ROW_ID`, backend.Quote(model.MetadataTableName(table)))
	return r.list(ctx, table, query, participantID)
}

func (r *ledgerRepo) ListByTable(ctx context.Context, table string) ([]model.RowHashRecord, error) {
	if err := backend.ValidateName(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT ROW_ID, INTERNAL_PARTICIPANT_ID, HASH FROM %s ORDER BY ROW_ID`,
		backend.Quote(model.MetadataTableName(table)))
	return r.list(ctx, table, query)
}

func (r *ledgerRepo) list(ctx context.Context, table, query string, args ...any) ([]model.RowHashRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapBackendError(err, "ошибка чтения журнала %s", table)
	}
	defer rows.Close()

	var result []model.RowHashRecord
	for rows.Next() {
		rec := model.RowHashRecord{TableName: table}
		var h int64
		if err := rows.Scan(&rec.RowID, &rec.ParticipantID, &h); err != nil {
			return nil, fmt.Errorf("ошибка сканирования журнала: %w", err)
		}
		rec.Hash = hashFromDB(h)
		result = append(result, rec)
	}
	return result, rows.Err()
}
