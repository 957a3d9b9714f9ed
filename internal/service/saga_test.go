package service

import (
	"errors"
	"strings"
	"testing"
)

func TestSagaResult(t *testing.T) {
	cause := errors.New("сеть недоступна")

	t.Run("успех", func(t *testing.T) {
		s := newSaga("accept_contract")
		s.complete("a")
		s.complete("b")
		if !s.Succeeded() || s.Err() != nil || s.Message() != "" {
			t.Errorf("сага = %+v", s)
		}
	})

	t.Run("сбой первого шага", func(t *testing.T) {
		s := newSaga("accept_contract")
		err := s.fail("a", cause)
		if !errors.Is(err, cause) {
			t.Errorf("ошибка должна оборачивать причину: %v", err)
		}
		if errors.Is(err, ErrPartialFailure) {
			t.Error("без выполненных шагов ошибка не частичная")
		}
	})

	t.Run("частичный сбой", func(t *testing.T) {
		s := newSaga("accept_contract")
		s.complete("a")
		err := s.fail("b", cause)
		if !errors.Is(err, ErrPartialFailure) || !errors.Is(err, cause) {
			t.Errorf("ожидалась частичная ошибка с причиной, получено: %v", err)
		}
		var pf *PartialFailureError
		if !errors.As(err, &pf) || pf.Saga != s {
			t.Fatalf("ожидалась PartialFailureError, получено: %T", err)
		}
		if !strings.Contains(s.Message(), "a") || !strings.Contains(s.Message(), "b") {
			t.Errorf("сообщение = %q", s.Message())
		}

		w := s.Wire()
		if w.FailedStep != "b" || len(w.CompletedSteps) != 1 || w.Cause != cause.Error() {
			t.Errorf("Wire = %+v", w)
		}
	})

	t.Run("nil", func(t *testing.T) {
		var s *SagaResult
		if s.Wire() != nil {
			t.Error("Wire от nil должен быть nil")
		}
	})
}
