// auth.go — аутентификация клиентов и удалённых узлов.
//
// Клиенты предъявляют пароль (bcrypt) или выданный JWT (HS256), jti
// которого записан в rcd_tokens. Узлы предъявляют пару имя/токен:
//   - хост при обращении к участнику — свой id и токен, известные участнику
//     из контракта (cds_hosts);
//   - участник при ответе на контракт — id и токен хоста из контракта;
//   - участник при уведомлениях об изменении строк — свой псевдоним и токен,
//     сообщённый хосту при принятии контракта.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// RoleSysAdmin — роль начального администратора.
const RoleSysAdmin = "SysAdmin"

// AuthService — проверка учётных данных клиентов и узлов.
type AuthService struct {
	logins     repository.LoginRepository
	tokens     repository.TokenRepository
	knownHosts repository.KnownHostRepository
	hostInfo   *HostInfoService
	jwtSecret  []byte
	jwtTTL     time.Duration
	logger     *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	logins repository.LoginRepository,
	tokens repository.TokenRepository,
	knownHosts repository.KnownHostRepository,
	hostInfo *HostInfoService,
	jwtSecret string,
	jwtTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		logins:     logins,
		tokens:     tokens,
		knownHosts: knownHosts,
		hostInfo:   hostInfo,
		jwtSecret:  []byte(jwtSecret),
		jwtTTL:     jwtTTL,
		logger:     logger.With(slog.String("component", "auth_service")),
	}
}

// EnsureAdmin создаёт начального администратора, если его ещё нет.
func (s *AuthService) EnsureAdmin(ctx context.Context, userName, password string) error {
	if userName == "" {
		return nil
	}
	_, err := s.logins.Get(ctx, userName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("хэширование пароля: %w", err)
	}
	err = s.logins.CreateWithRole(ctx, &model.Login{UserName: userName, PasswordHash: hash}, RoleSysAdmin)
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("Начальный администратор создан", slog.String("user_name", userName))
	return nil
}

// AuthenticateClient проверяет пароль или JWT клиента.
func (s *AuthService) AuthenticateClient(ctx context.Context, a wire.AuthRequest) (string, bool) {
	switch {
	case a.Pw != "":
		return a.UserName, s.checkPassword(ctx, a.UserName, a.Pw)
	case a.Token != "":
		userName, err := s.verifyJWT(ctx, a.Token)
		if err != nil {
			s.logger.Debug("JWT отклонён", slog.String("error", err.Error()))
			return "", false
		}
		if a.UserName != "" && a.UserName != userName {
			return "", false
		}
		return userName, true
	}
	return "", false
}

func (s *AuthService) checkPassword(ctx context.Context, userName, password string) bool {
	login, err := s.logins.Get(ctx, userName)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Ошибка чтения учётной записи",
				slog.String("user_name", userName),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return bcrypt.CompareHashAndPassword(login.PasswordHash, []byte(password)) == nil
}

func (s *AuthService) parseJWT(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.jwtSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) verifyJWT(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.parseJWT(tokenString)
	if err != nil {
		return "", err
	}
	issued, err := s.tokens.Get(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("токен %s не выдавался или отозван: %w", claims.ID, err)
	}
	if issued.UserName != claims.Subject {
		return "", fmt.Errorf("токен %s выдан другому пользователю", claims.ID)
	}
	return claims.Subject, nil
}

// AuthForToken проверяет пароль и выдаёт JWT.
func (s *AuthService) AuthForToken(ctx context.Context, userName, password string) (string, time.Time, error) {
	if !s.checkPassword(ctx, userName, password) {
		return "", time.Time{}, ErrAuthenticationFailure
	}

	now := time.Now().UTC()
	issued := &model.IssuedToken{
		TokenID:   uuid.NewString(),
		UserName:  userName,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.jwtTTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        issued.TokenID,
		Subject:   userName,
		IssuedAt:  jwt.NewNumericDate(issued.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(issued.ExpiresAt),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	if err := s.tokens.Save(ctx, issued); err != nil {
		return "", time.Time{}, err
	}
	if n, err := s.tokens.DeleteExpired(ctx, now); err == nil && n > 0 {
		s.logger.Debug("Удалены истёкшие токены", slog.Int64("count", n))
	}
	return signed, issued.ExpiresAt, nil
}

// RevokeToken отзывает выданный JWT.
func (s *AuthService) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := s.parseJWT(tokenString)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}
	if err := s.tokens.Delete(ctx, claims.ID); err != nil {
		return mapStorageError(err)
	}
	s.logger.Info("Токен отозван",
		slog.String("user_name", claims.Subject),
		slog.String("token_id", claims.ID),
	)
	return nil
}

// tokensEqual сравнивает предъявленный токен с сохранённым.
// Пустой токен не совпадает ни с чем.
func tokensEqual(presented string, stored []byte) bool {
	token := wire.DecodeToken(presented)
	if len(token) == 0 || len(stored) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(token, stored) == 1
}

// AuthenticateHost проверяет идентичность этого хоста (по id или имени)
// и его токен. Так участник подтверждает, что отвечает на контракт этого хоста.
func (s *AuthService) AuthenticateHost(_ context.Context, a wire.AuthRequest) bool {
	info := s.hostInfo.Current()
	if info.IsZero() {
		return false
	}
	if a.UserName != info.ID && a.UserName != info.Name {
		return false
	}
	return tokensEqual(a.Token, info.Token)
}

// AuthenticateKnownHost проверяет хост, от которого ранее получен контракт.
func (s *AuthService) AuthenticateKnownHost(ctx context.Context, a wire.AuthRequest) (*model.HostIdentity, bool) {
	h, err := s.knownHosts.GetByID(ctx, a.UserName)
	if errors.Is(err, repository.ErrNotFound) {
		h, err = s.knownHosts.GetByName(ctx, a.UserName)
	}
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Ошибка чтения известного хоста",
				slog.String("user_name", a.UserName),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	if !tokensEqual(a.Token, h.Token) {
		return nil, false
	}
	return h, true
}

// AuthenticateContractSender проверяет отправителя контракта. Токен должен
// совпадать с токеном хоста в контракте; если хост уже известен, его
// сохранённый токен должен совпадать с предъявленным.
func (s *AuthService) AuthenticateContractSender(ctx context.Context, a wire.AuthRequest, host model.HostIdentity) bool {
	if a.UserName != host.HostID || !tokensEqual(a.Token, host.Token) {
		return false
	}
	known, err := s.knownHosts.GetByID(ctx, host.HostID)
	if errors.Is(err, repository.ErrNotFound) {
		return true
	}
	if err != nil {
		s.logger.Warn("Ошибка чтения известного хоста",
			slog.String("host_id", host.HostID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return tokensEqual(a.Token, known.Token)
}

// AuthenticateParticipant проверяет участника базы хоста по псевдониму и токену.
func (s *AuthService) AuthenticateParticipant(ctx context.Context, db backend.Database, a wire.AuthRequest) (*model.Participant, bool) {
	ok, err := db.HasTable(ctx, model.TableParticipant)
	if err != nil || !ok {
		return nil, false
	}
	p, err := repository.NewParticipantRepository(db).GetByAlias(ctx, a.UserName)
	if err != nil {
		return nil, false
	}
	if !tokensEqual(a.Token, p.Token) {
		return nil, false
	}
	return p, true
}
