package repository

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// ParticipantRepository — реестр участников базы хоста (COOP_PARTICIPANT).
type ParticipantRepository interface {
	// Create добавляет участника. ErrConflict, если псевдоним занят.
	Create(ctx context.Context, p *model.Participant) error
	// GetByAlias возвращает участника по псевдониму.
	GetByAlias(ctx context.Context, alias string) (*model.Participant, error)
	// GetByInternalID возвращает участника по внутреннему идентификатору.
	GetByInternalID(ctx context.Context, id string) (*model.Participant, error)
	// List возвращает всех участников.
	List(ctx context.Context) ([]*model.Participant, error)
	// UpdateStatus меняет статус контракта участника.
	UpdateStatus(ctx context.Context, alias string, status model.ContractStatus) error
	// RecordAcceptance фиксирует принятие контракта участником.
	RecordAcceptance(ctx context.Context, alias, versionID, participantID string, token []byte) error
}

type participantRepo struct {
	db backend.Executor
}

// NewParticipantRepository создаёт репозиторий участников.
func NewParticipantRepository(db backend.Executor) ParticipantRepository {
	return &participantRepo{db: db}
}

const participantColumns = `INTERNAL_PARTICIPANT_ID, ALIAS, IP4ADDRESS, PORT, HTTP_ADDR, HTTP_PORT,
	CONTRACT_STATUS, ACCEPTED_CONTRACT_VERSION_ID, TOKEN, PARTICIPANT_ID`

func scanParticipant(row backend.Row) (*model.Participant, error) {
	p := &model.Participant{}
	var status int
	var token string
	err := row.Scan(
		&p.InternalID, &p.Alias, &p.IP4Address, &p.Port, &p.HTTPAddr, &p.HTTPPort,
		&status, &p.AcceptedContractVersion, &token, &p.ParticipantID,
	)
	if err != nil {
		return nil, err
	}
	p.ContractStatus = model.ContractStatus(status)
	if p.Token, err = hex.DecodeString(token); err != nil {
		return nil, fmt.Errorf("некорректный токен участника %s: %w", p.Alias, err)
	}
	return p, nil
}

func (r *participantRepo) Create(ctx context.Context, p *model.Participant) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (`+participantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, backend.Quote(model.TableParticipant))

	_, err := r.db.Exec(ctx, query,
		p.InternalID, p.Alias, p.IP4Address, p.Port, p.HTTPAddr, p.HTTPPort,
		int(p.ContractStatus), p.AcceptedContractVersion, hex.EncodeToString(p.Token), p.ParticipantID,
	)
	if err != nil {
		return mapBackendError(err, "ошибка добавления участника %s", p.Alias)
	}
	return nil
}

func (r *participantRepo) GetByAlias(ctx context.Context, alias string) (*model.Participant, error) {
	query := fmt.Sprintf(`SELECT `+participantColumns+` FROM %s WHERE ALIAS = $1`,
		backend.Quote(model.TableParticipant))
	p, err := scanParticipant(r.db.QueryRow(ctx, query, alias))
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения участника %s", alias)
	}
	return p, nil
}

func (r *participantRepo) GetByInternalID(ctx context.Context, id string) (*model.Participant, error) {
	query := fmt.Sprintf(`SELECT `+participantColumns+` FROM %s WHERE INTERNAL_PARTICIPANT_ID = $1`,
		backend.Quote(model.TableParticipant))
	p, err := scanParticipant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения участника %s", id)
	}
	return p, nil
}

func (r *participantRepo) List(ctx context.Context) ([]*model.Participant, error) {
	query := fmt.Sprintf(`SELECT `+participantColumns+` FROM %s ORDER BY ALIAS`,
		backend.Quote(model.TableParticipant))
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapBackendError(err, "ошибка получения списка участников")
	}
	defer rows.Close()

	var result []*model.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования участника: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *participantRepo) UpdateStatus(ctx context.Context, alias string, status model.ContractStatus) error {
	query := fmt.Sprintf(`UPDATE %s SET CONTRACT_STATUS = $1 WHERE ALIAS = $2`,
		backend.Quote(model.TableParticipant))
	n, err := r.db.Exec(ctx, query, int(status), alias)
	if err != nil {
		return mapBackendError(err, "ошибка обновления статуса участника %s", alias)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *participantRepo) RecordAcceptance(ctx context.Context, alias, versionID, participantID string, token []byte) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET CONTRACT_STATUS = $1, ACCEPTED_CONTRACT_VERSION_ID = $2, PARTICIPANT_ID = $3, TOKEN = $4
		WHERE ALIAS = $5`, backend.Quote(model.TableParticipant))
	n, err := r.db.Exec(ctx, query, int(model.ContractStatusAccepted), versionID, participantID, hex.EncodeToString(token), alias)
	if err != nil {
		return mapBackendError(err, "ошибка фиксации принятия контракта участником %s", alias)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
