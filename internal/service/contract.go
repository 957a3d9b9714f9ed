// contract.go — менеджер контрактов базы хоста.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// ContractService — генерация и вывод из действия контрактов.
type ContractService struct {
	dbs      *DatabaseService
	policies *PolicyService
	hostInfo *HostInfoService
	logger   *slog.Logger
}

// NewContractService создаёт менеджер контрактов.
func NewContractService(dbs *DatabaseService, policies *PolicyService, hostInfo *HostInfoService, logger *slog.Logger) *ContractService {
	return &ContractService{
		dbs:      dbs,
		policies: policies,
		hostInfo: hostInfo,
		logger:   logger.With(slog.String("component", "contract_service")),
	}
}

// Generate создаёт новый контракт базы.
//
// Если хотя бы у одной пользовательской таблицы нет политики хранения,
// возвращает *NotAllTablesSetError и ничего не меняет. Иначе выводит из
// действия текущий контракт и создаёт новый с новыми contract_id и
// version_id в одной транзакции. Идентичность хоста генерируется при
// первом обращении.
func (s *ContractService) Generate(ctx context.Context, dbName, hostName, description string,
	behavior model.RemoteDeleteBehavior) (*model.Contract, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}

	unset, err := s.policies.UnsetTables(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(unset) > 0 {
		return nil, &NotAllTablesSetError{Tables: unset}
	}

	if _, err := s.hostInfo.Ensure(ctx, hostName); err != nil {
		return nil, err
	}
	if err := repository.EnsureHostTables(ctx, db); err != nil {
		return nil, err
	}

	schema, err := s.snapshot(ctx, db)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &model.Contract{
		ContractID:           uuid.NewString(),
		VersionID:            uuid.NewString(),
		GeneratedAt:          now,
		Description:          description,
		RemoteDeleteBehavior: behavior,
		Schema:               schema,
	}

	var retired int64
	err = db.InTx(ctx, func(tx backend.Executor) error {
		repo := repository.NewContractRepository(tx)
		n, err := repo.RetireActive(ctx, now)
		if err != nil {
			return err
		}
		retired = n
		return repo.Create(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("генерация контракта %s: %w", dbName, mapStorageError(err))
	}

	s.logger.Info("Контракт сгенерирован",
		slog.String("database", dbName),
		slog.String("contract_id", c.ContractID),
		slog.String("version_id", c.VersionID),
		slog.Int64("retired", retired),
	)
	return c, nil
}

// GetActive возвращает действующий контракт базы. ErrNoActiveContract, если его нет.
func (s *ContractService) GetActive(ctx context.Context, dbName string) (*model.Contract, error) {
	db, err := s.dbs.Open(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return s.active(ctx, db)
}

func (s *ContractService) active(ctx context.Context, db backend.Database) (*model.Contract, error) {
	ok, err := db.HasTable(ctx, model.TableDatabaseContract)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: база %s", ErrNoActiveContract, db.Name())
	}
	c, err := repository.NewContractRepository(db).GetActive(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: база %s", ErrNoActiveContract, db.Name())
		}
		return nil, err
	}
	return c, nil
}

// ToWire собирает контракт для отправки участнику: свежая схема базы
// и сетевая идентичность хоста.
func (s *ContractService) ToWire(ctx context.Context, db backend.Database, c *model.Contract,
	status model.ContractStatus, alias string) (wire.Contract, error) {
	schema, err := s.snapshot(ctx, db)
	if err != nil {
		return wire.Contract{}, err
	}
	return wire.NewContract(c, schema, s.hostInfo.Identity(), status, alias), nil
}

// snapshot читает схему пользовательских таблиц с политиками и
// опубликованными идентификаторами.
func (s *ContractService) snapshot(ctx context.Context, db backend.Database) (*model.DatabaseSchema, error) {
	published := repository.NewPublishedSchemaRepository(db)
	dbID, err := published.DatabaseID(ctx, db.Name())
	if err != nil {
		return nil, err
	}

	tables, err := db.UserTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение таблиц базы %s: %w", db.Name(), mapStorageError(err))
	}

	schema := &model.DatabaseSchema{DatabaseName: db.Name(), DatabaseID: dbID, Tables: make([]model.TableSchema, 0, len(tables))}
	for _, t := range tables {
		ts, err := db.TableSchema(ctx, t)
		if err != nil {
			return nil, mapStorageError(err)
		}
		if err := published.Annotate(ctx, ts); err != nil {
			return nil, err
		}
		if ts.LogicalStoragePolicy, err = s.policies.policyOf(ctx, db, t); err != nil {
			return nil, err
		}
		ts.DatabaseName = db.Name()
		ts.DatabaseID = dbID
		schema.Tables = append(schema.Tables, *ts)
	}
	return schema, nil
}
