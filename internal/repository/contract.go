package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// ContractRepository — контракты базы хоста (COOP_DATABASE_CONTRACT).
// Контракты физически не удаляются.
type ContractRepository interface {
	// Create сохраняет новый контракт.
	Create(ctx context.Context, c *model.Contract) error
	// RetireActive выводит из действия все активные контракты.
	RetireActive(ctx context.Context, at time.Time) (int64, error)
	// GetActive возвращает активный контракт или ErrNotFound.
	GetActive(ctx context.Context) (*model.Contract, error)
	// List возвращает все контракты в порядке генерации.
	List(ctx context.Context) ([]*model.Contract, error)
	// CountActive возвращает количество активных контрактов.
	CountActive(ctx context.Context) (int, error)
}

type contractRepo struct {
	db backend.Executor
}

// NewContractRepository создаёт репозиторий контрактов.
func NewContractRepository(db backend.Executor) ContractRepository {
	return &contractRepo{db: db}
}

const contractColumns = `CONTRACT_ID, VERSION_ID, GENERATED_DATE_UTC, DESCRIPTION,
	RETIRED_DATE_UTC, REMOTE_DELETE_BEHAVIOR, SCHEMA_SNAPSHOT`

func scanContract(row backend.Row) (*model.Contract, error) {
	c := &model.Contract{}
	var (
		generated string
		retired   *string
		behavior  int
		snapshot  string
	)
	if err := row.Scan(&c.ContractID, &c.VersionID, &generated, &c.Description,
		&retired, &behavior, &snapshot); err != nil {
		return nil, err
	}

	var err error
	if c.GeneratedAt, err = parseTime(generated); err != nil {
		return nil, err
	}
	if c.RetiredAt, err = parseOptionalTime(retired); err != nil {
		return nil, err
	}
	c.RemoteDeleteBehavior = model.RemoteDeleteBehavior(behavior)
	c.Schema = &model.DatabaseSchema{}
	if err := json.Unmarshal([]byte(snapshot), c.Schema); err != nil {
		return nil, fmt.Errorf("некорректный снимок схемы контракта %s: %w", c.VersionID, err)
	}
	return c, nil
}

func (r *contractRepo) Create(ctx context.Context, c *model.Contract) error {
	snapshot, err := json.Marshal(c.Schema)
	if err != nil {
		return fmt.Errorf("ошибка сериализации схемы: %w", err)
	}

	var retired *string
	if c.RetiredAt != nil {
		s := formatTime(*c.RetiredAt)
		retired = &s
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (`+contractColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, backend.Quote(model.TableDatabaseContract))
	_, err = r.db.Exec(ctx, query,
		c.ContractID, c.VersionID, formatTime(c.GeneratedAt), c.Description,
		retired, int(c.RemoteDeleteBehavior), string(snapshot),
	)
	if err != nil {
		return mapBackendError(err, "ошибка сохранения контракта %s", c.VersionID)
	}
	return nil
}

func (r *contractRepo) RetireActive(ctx context.Context, at time.Time) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET RETIRED_DATE_UTC = $1 WHERE RETIRED_DATE_UTC IS NULL`,
		backend.Quote(model.TableDatabaseContract))
	n, err := r.db.Exec(ctx, query, formatTime(at))
	if err != nil {
		return 0, mapBackendError(err, "ошибка вывода контрактов из действия")
	}
	return n, nil
}

func (r *contractRepo) GetActive(ctx context.Context) (*model.Contract, error) {
	query := fmt.Sprintf(`SELECT `+contractColumns+` FROM %s WHERE RETIRED_DATE_UTC IS NULL`,
		backend.Quote(model.TableDatabaseContract))
	c, err := scanContract(r.db.QueryRow(ctx, query))
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения активного контракта")
	}
	return c, nil
}

func (r *contractRepo) List(ctx context.Context) ([]*model.Contract, error) {
	query := fmt.Sprintf(`SELECT `+contractColumns+` FROM %s ORDER BY GENERATED_DATE_UTC`,
		backend.Quote(model.TableDatabaseContract))
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения контрактов")
	}
	defer rows.Close()

	var result []*model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования контракта: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *contractRepo) CountActive(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE RETIRED_DATE_UTC IS NULL`,
		backend.Quote(model.TableDatabaseContract))
	var n int
	if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, mapBackendError(err, "ошибка подсчёта активных контрактов")
	}
	return n, nil
}
