package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// CachedContractRepository — контракты, полученные участником (cds_contracts).
// Сетевая идентичность хоста хранится в cds_hosts.
type CachedContractRepository interface {
	// Save сохраняет полученный контракт. ErrConflict, если версия уже сохранена.
	Save(ctx context.Context, c *model.CachedContract) error
	// GetByVersion возвращает контракт по идентификатору версии.
	GetByVersion(ctx context.Context, versionID string) (*model.CachedContract, error)
	// ListByStatus возвращает контракты с заданным статусом.
	ListByStatus(ctx context.Context, status model.ContractStatus) ([]*model.CachedContract, error)
	// GetPendingByHostName возвращает последний ожидающий решения контракт
	// хоста на базу dbName. Пустой dbName допустим, пока хост ждёт решения
	// только по одной базе; иначе ErrAmbiguous.
	GetPendingByHostName(ctx context.Context, hostName, dbName string) (*model.CachedContract, error)
	// UpdateStatus фиксирует решение по контракту.
	UpdateStatus(ctx context.Context, versionID string, status model.ContractStatus, at time.Time) error
}

type cachedContractRepo struct {
	db DBTX
}

// NewCachedContractRepository создаёт репозиторий полученных контрактов.
func NewCachedContractRepository(db DBTX) CachedContractRepository {
	return &cachedContractRepo{db: db}
}

const cachedContractSelect = `
	SELECT c.version_id, c.contract_id, c.database_name, c.database_id, c.description,
		c.generated_at, c.remote_delete_behavior, c.participant_alias, c.status, c.schema,
		c.received_at, c.decided_at,
		h.host_id, h.host_name, h.token, h.ip4_address, h.port, h.http_addr, h.http_port
	FROM cds_contracts c
	JOIN cds_hosts h ON h.host_id = c.host_id`

func scanCachedContract(row pgx.Row) (*model.CachedContract, error) {
	c := &model.CachedContract{}
	var (
		behavior, status int
		schema           []byte
	)
	err := row.Scan(
		&c.VersionID, &c.ContractID, &c.DatabaseName, &c.DatabaseID, &c.Description,
		&c.GeneratedAt, &behavior, &c.ParticipantAlias, &status, &schema,
		&c.ReceivedAt, &c.DecidedAt,
		&c.Host.HostID, &c.Host.HostName, &c.Host.Token, &c.Host.IP4, &c.Host.Port,
		&c.Host.HTTPAddr, &c.Host.HTTPPort,
	)
	if err != nil {
		return nil, err
	}
	c.RemoteDeleteBehavior = model.RemoteDeleteBehavior(behavior)
	c.Status = model.ContractStatus(status)
	c.Schema = &model.DatabaseSchema{}
	if err := json.Unmarshal(schema, c.Schema); err != nil {
		return nil, fmt.Errorf("некорректная схема контракта %s: %w", c.VersionID, err)
	}
	return c, nil
}

func (r *cachedContractRepo) Save(ctx context.Context, c *model.CachedContract) error {
	schema, err := json.Marshal(c.Schema)
	if err != nil {
		return fmt.Errorf("ошибка сериализации схемы: %w", err)
	}

	query := `
		INSERT INTO cds_contracts (version_id, contract_id, host_id, database_name, database_id,
			description, generated_at, remote_delete_behavior, participant_alias, status, schema)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING received_at`
	err = r.db.QueryRow(ctx, query,
		c.VersionID, c.ContractID, c.Host.HostID, c.DatabaseName, c.DatabaseID,
		c.Description, c.GeneratedAt, int(c.RemoteDeleteBehavior), c.ParticipantAlias,
		int(c.Status), schema,
	).Scan(&c.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: контракт %s уже получен", ErrConflict, c.VersionID)
		}
		return fmt.Errorf("ошибка сохранения контракта: %w", err)
	}
	return nil
}

func (r *cachedContractRepo) GetByVersion(ctx context.Context, versionID string) (*model.CachedContract, error) {
	c, err := scanCachedContract(r.db.QueryRow(ctx, cachedContractSelect+` WHERE c.version_id = $1`, versionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения контракта: %w", err)
	}
	return c, nil
}

func (r *cachedContractRepo) ListByStatus(ctx context.Context, status model.ContractStatus) ([]*model.CachedContract, error) {
	rows, err := r.db.Query(ctx, cachedContractSelect+` WHERE c.status = $1 ORDER BY c.received_at`, int(status))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения контрактов: %w", err)
	}
	defer rows.Close()

	var result []*model.CachedContract
	for rows.Next() {
		c, err := scanCachedContract(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования контракта: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *cachedContractRepo) GetPendingByHostName(ctx context.Context, hostName, dbName string) (*model.CachedContract, error) {
	if dbName == "" {
		var dbs int
		err := r.db.QueryRow(ctx, `
			SELECT COUNT(DISTINCT c.database_name)
			FROM cds_contracts c
			JOIN cds_hosts h ON h.host_id = c.host_id
			WHERE h.host_name = $1 AND c.status = $2`,
			hostName, int(model.ContractStatusPending)).Scan(&dbs)
		if err != nil {
			return nil, fmt.Errorf("ошибка подсчёта ожидающих контрактов: %w", err)
		}
		if dbs > 1 {
			return nil, fmt.Errorf("%w: хост %s ждёт решения по %d базам", ErrAmbiguous, hostName, dbs)
		}
	}

	query := cachedContractSelect + `
		WHERE h.host_name = $1 AND c.status = $2 AND ($3::text = '' OR c.database_name = $3::text)
		ORDER BY c.received_at DESC
		LIMIT 1`
	c, err := scanCachedContract(r.db.QueryRow(ctx, query, hostName, int(model.ContractStatusPending), dbName))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ожидающего контракта: %w", err)
	}
	return c, nil
}

func (r *cachedContractRepo) UpdateStatus(ctx context.Context, versionID string, status model.ContractStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE cds_contracts SET status = $2, decided_at = $3 WHERE version_id = $1`,
		versionID, int(status), at)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса контракта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
