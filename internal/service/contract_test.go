package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
)

func TestGenerate_NotAllTablesSet(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "host", 8050)
	n.newOrdersDB(t)
	n.mustExec(t, "shop", "CREATE TABLE notes (id INTEGER)")
	if err := n.policies.SetPolicy(ctx, "shop", "orders", model.PolicyMirror); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}

	_, err := n.contracts.Generate(ctx, "shop", "host", "", model.RemoteDeleteIgnore)
	var unset *NotAllTablesSetError
	if !errors.As(err, &unset) {
		t.Fatalf("ожидалась NotAllTablesSetError, получено: %v", err)
	}
	if len(unset.Tables) != 1 || unset.Tables[0] != "notes" {
		t.Errorf("таблицы без политики = %v", unset.Tables)
	}
	if !errors.Is(err, ErrNotAllTablesSet) {
		t.Error("ошибка должна оборачивать ErrNotAllTablesSet")
	}

	if _, err := n.contracts.GetActive(ctx, "shop"); !errors.Is(err, ErrNoActiveContract) {
		t.Errorf("ожидалась ErrNoActiveContract, получено: %v", err)
	}
}

func TestGenerate_RetiresPrevious(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "host", 8050)
	n.newOrdersDB(t)
	if err := n.policies.SetPolicy(ctx, "shop", "orders", model.PolicyParticipantOwned); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}

	first, err := n.contracts.Generate(ctx, "shop", "host", "v1", model.RemoteDeleteIgnore)
	if err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	second, err := n.contracts.Generate(ctx, "shop", "host", "v2", model.RemoteDeleteAutoDelete)
	if err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	if first.VersionID == second.VersionID || first.ContractID == second.ContractID {
		t.Error("повторная генерация должна выдавать новые идентификаторы")
	}

	active, err := n.contracts.GetActive(ctx, "shop")
	if err != nil {
		t.Fatalf("GetActive ошибка: %v", err)
	}
	if active.VersionID != second.VersionID || active.Description != "v2" {
		t.Errorf("действующий контракт = %+v", active)
	}
	count, err := repository.NewContractRepository(mustOpen(t, n, "shop")).CountActive(ctx)
	if err != nil || count != 1 {
		t.Errorf("CountActive = %d, %v, ожидается 1", count, err)
	}

	if len(active.Schema.Tables) != 1 || active.Schema.Tables[0].LogicalStoragePolicy != model.PolicyParticipantOwned {
		t.Errorf("схема контракта = %+v", active.Schema)
	}
	if n.hostInfo.Current().IsZero() {
		t.Error("идентичность хоста должна быть сгенерирована")
	}
}
