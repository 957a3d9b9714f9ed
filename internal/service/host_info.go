// host_info.go — идентичность процесса rcd.
// Загружается из системного хранилища один раз при старте и далее
// отдаётся из памяти; перечитывается только при явной перегенерации.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// hostTokenSize — длина токена хоста в байтах.
const hostTokenSize = 32

// Advertise — сетевой адрес, который хост сообщает удалённым сторонам.
type Advertise struct {
	Addr string
	Port int
}

// HostInfoService — идентичность хоста.
type HostInfoService struct {
	repo        repository.HostInfoRepository
	defaultName string
	advertise   Advertise
	logger      *slog.Logger

	mu      sync.RWMutex
	current model.HostInfo
}

// NewHostInfoService создаёт сервис идентичности хоста.
// defaultName — имя хоста, если при генерации имя не указано.
func NewHostInfoService(repo repository.HostInfoRepository, defaultName string, advertise Advertise, logger *slog.Logger) *HostInfoService {
	return &HostInfoService{
		repo:        repo,
		defaultName: defaultName,
		advertise:   advertise,
		logger:      logger.With(slog.String("component", "host_info_service")),
	}
}

// Load читает идентичность из хранилища. Отсутствие записи не является ошибкой.
func (s *HostInfoService) Load(ctx context.Context) error {
	info, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("Идентичность хоста ещё не сгенерирована")
			return nil
		}
		return fmt.Errorf("загрузка идентичности хоста: %w", err)
	}

	s.mu.Lock()
	s.current = *info
	s.mu.Unlock()

	s.logger.Info("Идентичность хоста загружена",
		slog.String("host_id", info.ID),
		slog.String("host_name", info.Name),
	)
	return nil
}

// Current возвращает копию текущей идентичности (нулевую, если её нет).
func (s *HostInfoService) Current() model.HostInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.current
	info.Token = append([]byte(nil), s.current.Token...)
	return info
}

// Ensure возвращает идентичность, генерируя её при первом обращении.
func (s *HostInfoService) Ensure(ctx context.Context, name string) (model.HostInfo, error) {
	if info := s.Current(); !info.IsZero() {
		return info, nil
	}
	return s.generate(ctx, name, false)
}

// Generate явно (пере)генерирует идентичность хоста.
// Участники, принявшие контракты, после этого перестанут проходить
// аутентификацию хоста до повторной отправки контракта.
func (s *HostInfoService) Generate(ctx context.Context, name string) (model.HostInfo, error) {
	return s.generate(ctx, name, true)
}

func (s *HostInfoService) generate(ctx context.Context, name string, force bool) (model.HostInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && !s.current.IsZero() {
		return s.current, nil
	}
	if name == "" {
		name = s.defaultName
	}

	token := make([]byte, hostTokenSize)
	if _, err := rand.Read(token); err != nil {
		return model.HostInfo{}, fmt.Errorf("генерация токена хоста: %w", err)
	}
	info := model.HostInfo{
		ID:        uuid.NewString(),
		Name:      name,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, &info); err != nil {
		return model.HostInfo{}, fmt.Errorf("сохранение идентичности хоста: %w", err)
	}
	s.current = info

	s.logger.Info("Идентичность хоста сгенерирована",
		slog.String("host_id", info.ID),
		slog.String("host_name", info.Name),
		slog.Bool("regenerated", force),
	)
	return info, nil
}

// Identity — сетевая идентичность для передачи участникам.
func (s *HostInfoService) Identity() model.HostIdentity {
	info := s.Current()
	return model.HostIdentity{
		HostID:   info.ID,
		HostName: info.Name,
		Token:    info.Token,
		IP4:      s.advertise.Addr,
		Port:     s.advertise.Port,
		HTTPAddr: s.advertise.Addr,
		HTTPPort: s.advertise.Port,
	}
}

// Credentials — учётные данные хоста для исходящих вызовов к участникам.
func (s *HostInfoService) Credentials() wire.AuthRequest {
	info := s.Current()
	return wire.AuthRequest{UserName: info.ID, Token: wire.EncodeToken(info.Token)}
}

// Advertise возвращает адрес, сообщаемый удалённым сторонам.
func (s *HostInfoService) Advertise() Advertise {
	return s.advertise
}
