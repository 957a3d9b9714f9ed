package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// LoginRepository — учётные записи клиентов (rcd_logins, rcd_roles).
type LoginRepository interface {
	// Create создаёт учётную запись. ErrConflict, если имя занято.
	Create(ctx context.Context, l *model.Login) error
	// Get возвращает учётную запись по имени.
	Get(ctx context.Context, userName string) (*model.Login, error)
	// CreateWithRole атомарно создаёт учётную запись и назначает ей роль.
	CreateWithRole(ctx context.Context, l *model.Login, role string) error
	// AddRole назначает роль. Повторное назначение не является ошибкой.
	AddRole(ctx context.Context, userName, role string) error
	// Roles возвращает роли пользователя.
	Roles(ctx context.Context, userName string) ([]string, error)
}

type loginRepo struct {
	db DBTX
}

// NewLoginRepository создаёт репозиторий учётных записей.
func NewLoginRepository(db DBTX) LoginRepository {
	return &loginRepo{db: db}
}

func (r *loginRepo) Create(ctx context.Context, l *model.Login) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO rcd_logins (user_name, password_hash) VALUES ($1, $2) RETURNING created_at`,
		l.UserName, l.PasswordHash,
	).Scan(&l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, l.UserName)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *loginRepo) CreateWithRole(ctx context.Context, l *model.Login, role string) error {
	create := func(db DBTX) error {
		repo := &loginRepo{db: db}
		if err := repo.Create(ctx, l); err != nil {
			return err
		}
		return repo.AddRole(ctx, l.UserName, role)
	}
	b, ok := r.db.(txBeginner)
	if !ok {
		// уже внутри транзакции
		return create(r.db)
	}
	return (&TxRunner{db: b}).RunInTx(ctx, func(tx pgx.Tx) error { return create(tx) })
}

func (r *loginRepo) Get(ctx context.Context, userName string) (*model.Login, error) {
	l := &model.Login{}
	err := r.db.QueryRow(ctx,
		`SELECT user_name, password_hash, created_at FROM rcd_logins WHERE user_name = $1`, userName,
	).Scan(&l.UserName, &l.PasswordHash, &l.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return l, nil
}

func (r *loginRepo) AddRole(ctx context.Context, userName, role string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rcd_roles (user_name, role_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userName, role)
	if err != nil {
		return fmt.Errorf("ошибка назначения роли: %w", err)
	}
	return nil
}

func (r *loginRepo) Roles(ctx context.Context, userName string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT role_name FROM rcd_roles WHERE user_name = $1 ORDER BY role_name`, userName)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ролей: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// TokenRepository — выданные клиентам токены (rcd_tokens).
type TokenRepository interface {
	// Save сохраняет выданный токен.
	Save(ctx context.Context, t *model.IssuedToken) error
	// Get возвращает токен по идентификатору.
	Get(ctx context.Context, tokenID string) (*model.IssuedToken, error)
	// Delete отзывает токен.
	Delete(ctx context.Context, tokenID string) error
	// DeleteExpired удаляет истёкшие токены и возвращает их количество.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type tokenRepo struct {
	db DBTX
}

// NewTokenRepository создаёт репозиторий токенов.
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Save(ctx context.Context, t *model.IssuedToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rcd_tokens (token_id, user_name, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		t.TokenID, t.UserName, t.IssuedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: токен %s", ErrConflict, t.TokenID)
		}
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}
	return nil
}

func (r *tokenRepo) Get(ctx context.Context, tokenID string) (*model.IssuedToken, error) {
	t := &model.IssuedToken{}
	err := r.db.QueryRow(ctx,
		`SELECT token_id, user_name, issued_at, expires_at FROM rcd_tokens WHERE token_id = $1`, tokenID,
	).Scan(&t.TokenID, &t.UserName, &t.IssuedAt, &t.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения токена: %w", err)
	}
	return t, nil
}

func (r *tokenRepo) Delete(ctx context.Context, tokenID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rcd_tokens WHERE token_id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM rcd_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления истёкших токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}
