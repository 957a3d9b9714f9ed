// saga.go — результат многошаговой операции без отката.
//
// Принятие контракта и кооперативная запись состоят из нескольких шагов,
// каждый из которых фиксируется отдельно. Выполненные шаги при ошибке
// следующего не откатываются: SagaResult сообщает вызывающему, что уже
// применено и на каком шаге произошёл сбой.
package service

import (
	"fmt"
	"strings"

	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// SagaResult — итог многошаговой операции.
type SagaResult struct {
	// Operation — имя операции
	Operation string
	// CompletedSteps — выполненные шаги в порядке выполнения
	CompletedSteps []string
	// FailedStep — шаг, на котором операция остановилась (пусто при успехе)
	FailedStep string
	// Cause — ошибка шага FailedStep
	Cause error
}

func newSaga(operation string) *SagaResult {
	return &SagaResult{Operation: operation}
}

// complete отмечает шаг выполненным.
func (s *SagaResult) complete(step string) {
	s.CompletedSteps = append(s.CompletedSteps, step)
}

// fail фиксирует сбой шага и возвращает ошибку операции.
func (s *SagaResult) fail(step string, cause error) error {
	s.FailedStep = step
	s.Cause = cause
	return s.Err()
}

// Succeeded сообщает, что все шаги выполнены.
func (s *SagaResult) Succeeded() bool {
	return s.FailedStep == ""
}

// Err возвращает ошибку операции: nil при успехе, причину сбоя, если ни
// один шаг не выполнен, и *PartialFailureError, если часть шагов применена.
func (s *SagaResult) Err() error {
	if s.Succeeded() {
		return nil
	}
	if len(s.CompletedSteps) == 0 {
		return fmt.Errorf("%s: шаг %s: %w", s.Operation, s.FailedStep, s.Cause)
	}
	return &PartialFailureError{Saga: s}
}

// Message — описание итога для поля message ответа.
func (s *SagaResult) Message() string {
	if s.Succeeded() {
		return ""
	}
	msg := fmt.Sprintf("%s: ошибка на шаге %s: %v", s.Operation, s.FailedStep, s.Cause)
	if len(s.CompletedSteps) > 0 {
		msg += fmt.Sprintf(" (уже выполнено без отката: %s)", strings.Join(s.CompletedSteps, ", "))
	}
	return msg
}

// Wire переводит итог в сообщение ответа.
func (s *SagaResult) Wire() *wire.SagaResult {
	if s == nil {
		return nil
	}
	out := &wire.SagaResult{
		Operation:      s.Operation,
		CompletedSteps: append([]string(nil), s.CompletedSteps...),
		FailedStep:     s.FailedStep,
	}
	if s.Cause != nil {
		out.Cause = s.Cause.Error()
	}
	return out
}

// PartialFailureError — операция выполнена частично.
type PartialFailureError struct {
	Saga *SagaResult
}

func (e *PartialFailureError) Error() string {
	return e.Saga.Message()
}

// Unwrap позволяет проверять и ErrPartialFailure, и причину сбоя.
func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Saga.Cause}
}
