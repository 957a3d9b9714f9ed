// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrAuthenticationFailure — учётные данные не подошли.
	// Сообщение не раскрывает, какая часть неверна.
	ErrAuthenticationFailure = errors.New("ошибка аутентификации")
	// ErrTableNotFound — таблица не существует.
	ErrTableNotFound = errors.New("таблица не найдена")
	// ErrRemoteUnavailable — хост или участник недоступен.
	ErrRemoteUnavailable = errors.New("удалённый узел недоступен")
	// ErrInvalidOperation — операция неприменима к выражению или состоянию.
	ErrInvalidOperation = errors.New("недопустимая операция")
	// ErrNoActiveContract — у базы нет действующего контракта.
	ErrNoActiveContract = errors.New("нет действующего контракта")
	// ErrNotAllTablesSet — не у всех таблиц задана политика хранения.
	ErrNotAllTablesSet = errors.New("не у всех таблиц задана политика хранения")
	// ErrPartialFailure — многошаговая операция выполнена частично.
	ErrPartialFailure = errors.New("операция выполнена частично")
)

// NotAllTablesSetError перечисляет таблицы без политики хранения.
type NotAllTablesSetError struct {
	Tables []string
}

func (e *NotAllTablesSetError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotAllTablesSet, strings.Join(e.Tables, ", "))
}

func (e *NotAllTablesSetError) Unwrap() error {
	return ErrNotAllTablesSet
}

// mapStorageError переводит ошибки репозиториев и хранилища в ошибки сервиса.
func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, backend.ErrDatabaseNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict), errors.Is(err, backend.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, backend.ErrTableNotFound):
		return fmt.Errorf("%w: %w", ErrTableNotFound, err)
	case errors.Is(err, backend.ErrInvalidName), errors.Is(err, repository.ErrAmbiguous):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, backend.ErrUnsupportedStatement):
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	return err
}

// mapRemoteError переводит ошибку транспорта в ErrRemoteUnavailable.
func mapRemoteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rcdclient.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return err
}
