package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// newHostWithContract создаёт хост с действующим контрактом на orders.
func newHostWithContract(t *testing.T, net *loopback) *testNode {
	t.Helper()
	ctx := context.Background()
	host := newTestNode(t, net, "host", 8050)
	host.newOrdersDB(t)
	if err := host.policies.SetPolicy(ctx, "shop", "orders", model.PolicyMirror); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}
	if _, err := host.contracts.Generate(ctx, "shop", "host", "", model.RemoteDeleteIgnore); err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	return host
}

func TestAddParticipant_Duplicate(t *testing.T) {
	ctx := context.Background()
	host := newHostWithContract(t, newLoopback())

	ok, err := host.participants.Add(ctx, "shop", model.Participant{Alias: "p1", HTTPAddr: "a.test", HTTPPort: 1})
	if err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	ok, err = host.participants.Add(ctx, "shop", model.Participant{Alias: "p1", HTTPAddr: "b.test", HTTPPort: 2})
	if err != nil || ok {
		t.Fatalf("повторный Add = %v, %v, ожидается false", ok, err)
	}

	list, err := host.participants.List(ctx, "shop")
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("участников = %d, ожидается 1", len(list))
	}
	p := list[0]
	if p.HTTPAddr != "a.test" || p.HTTPPort != 1 || p.ContractStatus != model.ContractStatusNotSent {
		t.Errorf("участник изменён повторным Add: %+v", p)
	}

	if _, err := host.participants.Add(ctx, "shop", model.Participant{}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой псевдоним: ожидалась ErrValidation, получено: %v", err)
	}
}

func TestSendContract_Unreachable(t *testing.T) {
	ctx := context.Background()
	net := newLoopback()
	host := newHostWithContract(t, net)

	ok, err := host.participants.Add(ctx, "shop", model.Participant{Alias: "p1", HTTPAddr: "nowhere.test", HTTPPort: 9})
	if err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}

	ok, err = host.participants.SendContract(ctx, "shop", "p1")
	if ok {
		t.Error("отправка недоступному участнику не должна быть успешной")
	}
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Errorf("ожидалась ErrRemoteUnavailable, получено: %v", err)
	}
	if net.callCount(wire.OpSaveContract) != 1 {
		t.Errorf("вызовов SaveContract = %d", net.callCount(wire.OpSaveContract))
	}

	p, err := repository.NewParticipantRepository(mustOpen(t, host, "shop")).GetByAlias(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByAlias ошибка: %v", err)
	}
	if p.ContractStatus != model.ContractStatusNotSent {
		t.Errorf("статус = %s, ожидается NotSent", p.ContractStatus)
	}
}

func TestSendContract_NoActiveContract(t *testing.T) {
	ctx := context.Background()
	host := newTestNode(t, newLoopback(), "host", 8050)
	host.newOrdersDB(t)
	if ok, err := host.participants.Add(ctx, "shop", model.Participant{Alias: "p1"}); err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	if _, err := host.participants.SendContract(ctx, "shop", "p1"); !errors.Is(err, ErrNoActiveContract) {
		t.Errorf("ожидалась ErrNoActiveContract, получено: %v", err)
	}
}

func TestRejectContract(t *testing.T) {
	ctx := context.Background()
	net := newLoopback()
	host := newHostWithContract(t, net)
	part := newTestNode(t, net, "part", 8051)

	if ok, err := host.participants.Add(ctx, "shop", model.Participant{Alias: "p1", HTTPAddr: part.addr, HTTPPort: part.port}); err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	if ok, err := host.participants.SendContract(ctx, "shop", "p1"); err != nil || !ok {
		t.Fatalf("SendContract = %v, %v", ok, err)
	}

	pending, err := part.pendingContracts.ViewPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ViewPending = %v, %v", pending, err)
	}
	if pending[0].DatabaseName != "shop" || pending[0].Host.HostName != "host" {
		t.Errorf("контракт = %+v", pending[0])
	}

	saga, err := part.pendingContracts.Reject(ctx, "host", "")
	if err != nil {
		t.Fatalf("Reject ошибка: %v", err)
	}
	if !saga.Succeeded() {
		t.Fatalf("Reject не завершён: %s", saga.Message())
	}

	p, err := repository.NewParticipantRepository(mustOpen(t, host, "shop")).GetByAlias(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByAlias ошибка: %v", err)
	}
	if p.ContractStatus != model.ContractStatusRejected {
		t.Errorf("статус участника у хоста = %s, ожидается Rejected", p.ContractStatus)
	}
	if left, _ := part.pendingContracts.ViewPending(ctx); len(left) != 0 {
		t.Errorf("ожидающих контрактов = %d, ожидается 0", len(left))
	}
	if _, err := part.dbs.OpenPartial(ctx, "shop"); !errors.Is(err, ErrNotFound) {
		t.Errorf("частичная база не должна создаваться, получено: %v", err)
	}
}

// TestAcceptContract_HostUnavailable — хост недоступен при уведомлении:
// выполненные шаги не откатываются, сбой описан в SagaResult.
func TestAcceptContract_HostUnavailable(t *testing.T) {
	ctx := context.Background()
	net := newLoopback()
	host := newHostWithContract(t, net)
	part := newTestNode(t, net, "part", 8051)

	if ok, err := host.participants.Add(ctx, "shop", model.Participant{Alias: "p1", HTTPAddr: part.addr, HTTPPort: part.port}); err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	if ok, err := host.participants.SendContract(ctx, "shop", "p1"); err != nil || !ok {
		t.Fatalf("SendContract = %v, %v", ok, err)
	}

	net.mu.Lock()
	delete(net.peers, host.url)
	net.mu.Unlock()

	saga, err := part.pendingContracts.Accept(ctx, "host", "")
	if !errors.Is(err, ErrPartialFailure) || !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("ожидалась частичная ошибка с ErrRemoteUnavailable, получено: %v", err)
	}
	if saga.FailedStep != stepNotifyHost || len(saga.CompletedSteps) != 2 {
		t.Errorf("сага = %+v", saga)
	}
	if _, err := part.dbs.OpenPartial(ctx, "shop"); err != nil {
		t.Errorf("частичная база должна остаться: %v", err)
	}
}

// TestAcceptContract_SeveralDatabases — хост прислал контракты на две базы:
// без имени базы решение не принимается, с именем затрагивает только её.
func TestAcceptContract_SeveralDatabases(t *testing.T) {
	ctx := context.Background()
	net := newLoopback()
	host := newHostWithContract(t, net)
	part := newTestNode(t, net, "part", 8051)

	if err := host.dbs.Create(ctx, "crm"); err != nil {
		t.Fatalf("Create ошибка: %v", err)
	}
	host.mustExec(t, "crm", "CREATE TABLE clients (id INTEGER, name TEXT)")
	if err := host.policies.SetPolicy(ctx, "crm", "clients", model.PolicyMirror); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}
	if _, err := host.contracts.Generate(ctx, "crm", "host", "", model.RemoteDeleteIgnore); err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	for _, db := range []string{"shop", "crm"} {
		if ok, err := host.participants.Add(ctx, db, model.Participant{Alias: "p1", HTTPAddr: part.addr, HTTPPort: part.port}); err != nil || !ok {
			t.Fatalf("Add(%s) = %v, %v", db, ok, err)
		}
		if ok, err := host.participants.SendContract(ctx, db, "p1"); err != nil || !ok {
			t.Fatalf("SendContract(%s) = %v, %v", db, ok, err)
		}
	}

	if _, err := part.pendingContracts.Accept(ctx, "host", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("без имени базы: ожидалась ErrValidation, получено: %v", err)
	}
	if left, _ := part.pendingContracts.ViewPending(ctx); len(left) != 2 {
		t.Fatalf("ожидающих контрактов = %d, ожидается 2", len(left))
	}

	saga, err := part.pendingContracts.Accept(ctx, "host", "crm")
	if err != nil || !saga.Succeeded() {
		t.Fatalf("Accept(crm) = %+v, %v", saga, err)
	}
	if _, err := part.dbs.OpenPartial(ctx, "crm"); err != nil {
		t.Errorf("частичная база crm не создана: %v", err)
	}
	if _, err := part.dbs.OpenPartial(ctx, "shop"); !errors.Is(err, ErrNotFound) {
		t.Errorf("база shop не должна создаваться, получено: %v", err)
	}
	left, err := part.pendingContracts.ViewPending(ctx)
	if err != nil || len(left) != 1 || left[0].DatabaseName != "shop" {
		t.Fatalf("ViewPending = %v, %v, ожидается только shop", left, err)
	}

	// Осталась одна база: имя можно не указывать
	if saga, err := part.pendingContracts.Reject(ctx, "host", ""); err != nil || !saga.Succeeded() {
		t.Fatalf("Reject = %+v, %v", saga, err)
	}
	p, err := repository.NewParticipantRepository(mustOpen(t, host, "shop")).GetByAlias(ctx, "p1")
	if err != nil || p.ContractStatus != model.ContractStatusRejected {
		t.Errorf("участник shop у хоста = %+v, %v, ожидается Rejected", p, err)
	}
}

func TestAcceptContract_NoPending(t *testing.T) {
	part := newTestNode(t, newLoopback(), "part", 8051)
	if _, err := part.pendingContracts.Accept(context.Background(), "nobody", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}
