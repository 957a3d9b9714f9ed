package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// HostInfoRepository — идентичность этого процесса (rcd_host_info).
type HostInfoRepository interface {
	// Get возвращает идентичность хоста или ErrNotFound, если она не сгенерирована.
	Get(ctx context.Context) (*model.HostInfo, error)
	// Save сохраняет идентичность, заменяя существующую.
	Save(ctx context.Context, h *model.HostInfo) error
}

type hostInfoRepo struct {
	db DBTX
}

// NewHostInfoRepository создаёт репозиторий идентичности хоста.
func NewHostInfoRepository(db DBTX) HostInfoRepository {
	return &hostInfoRepo{db: db}
}

func (r *hostInfoRepo) Get(ctx context.Context) (*model.HostInfo, error) {
	h := &model.HostInfo{}
	err := r.db.QueryRow(ctx, `SELECT host_id, host_name, token, created_at FROM rcd_host_info`).
		Scan(&h.ID, &h.Name, &h.Token, &h.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения идентичности хоста: %w", err)
	}
	return h, nil
}

func (r *hostInfoRepo) Save(ctx context.Context, h *model.HostInfo) error {
	query := `
		INSERT INTO rcd_host_info (singleton, host_id, host_name, token, created_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (singleton) DO UPDATE SET
			host_id = EXCLUDED.host_id,
			host_name = EXCLUDED.host_name,
			token = EXCLUDED.token,
			created_at = EXCLUDED.created_at`
	if _, err := r.db.Exec(ctx, query, h.ID, h.Name, h.Token, h.CreatedAt); err != nil {
		return fmt.Errorf("ошибка сохранения идентичности хоста: %w", err)
	}
	return nil
}

// KnownHostRepository — хосты, от которых получены контракты (cds_hosts).
type KnownHostRepository interface {
	// Upsert сохраняет сетевую идентичность хоста.
	Upsert(ctx context.Context, h *model.HostIdentity) error
	// GetByID возвращает хост по идентификатору.
	GetByID(ctx context.Context, id string) (*model.HostIdentity, error)
	// GetByName возвращает хост по имени (последний обновлённый при совпадении имён).
	GetByName(ctx context.Context, name string) (*model.HostIdentity, error)
}

type knownHostRepo struct {
	db DBTX
}

// NewKnownHostRepository создаёт репозиторий известных хостов.
func NewKnownHostRepository(db DBTX) KnownHostRepository {
	return &knownHostRepo{db: db}
}

const knownHostColumns = `host_id, host_name, token, ip4_address, port, http_addr, http_port`

func scanKnownHost(row pgx.Row) (*model.HostIdentity, error) {
	h := &model.HostIdentity{}
	err := row.Scan(&h.HostID, &h.HostName, &h.Token, &h.IP4, &h.Port, &h.HTTPAddr, &h.HTTPPort)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r *knownHostRepo) Upsert(ctx context.Context, h *model.HostIdentity) error {
	query := `
		INSERT INTO cds_hosts (` + knownHostColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (host_id) DO UPDATE SET
			host_name = EXCLUDED.host_name,
			token = EXCLUDED.token,
			ip4_address = EXCLUDED.ip4_address,
			port = EXCLUDED.port,
			http_addr = EXCLUDED.http_addr,
			http_port = EXCLUDED.http_port,
			updated_at = now()`
	_, err := r.db.Exec(ctx, query, h.HostID, h.HostName, h.Token, h.IP4, h.Port, h.HTTPAddr, h.HTTPPort)
	if err != nil {
		return fmt.Errorf("ошибка сохранения хоста %s: %w", h.HostName, err)
	}
	return nil
}

func (r *knownHostRepo) GetByID(ctx context.Context, id string) (*model.HostIdentity, error) {
	h, err := scanKnownHost(r.db.QueryRow(ctx,
		`SELECT `+knownHostColumns+` FROM cds_hosts WHERE host_id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения хоста: %w", err)
	}
	return h, nil
}

func (r *knownHostRepo) GetByName(ctx context.Context, name string) (*model.HostIdentity, error) {
	h, err := scanKnownHost(r.db.QueryRow(ctx,
		`SELECT `+knownHostColumns+` FROM cds_hosts WHERE host_name = $1 ORDER BY updated_at DESC LIMIT 1`, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения хоста: %w", err)
	}
	return h, nil
}
