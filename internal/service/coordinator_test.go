package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// TestMirrorOrders — полный сценарий: участник принимает контракт,
// хост пишет в таблицу Mirror и читает строки, подтверждённые журналом.
func TestMirrorOrders(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)

	p, err := repository.NewParticipantRepository(mustOpen(t, c.host, "shop")).GetByAlias(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByAlias ошибка: %v", err)
	}
	if p.ContractStatus != model.ContractStatusAccepted {
		t.Fatalf("статус участника = %s, ожидается Accepted", p.ContractStatus)
	}
	if p.ParticipantID == nil || *p.ParticipantID != c.part.hostInfo.Current().ID {
		t.Errorf("participant_id = %v, ожидается идентификатор участника", p.ParticipantID)
	}

	res := c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")
	if res.RowsAffected != 1 || res.IsPending {
		t.Errorf("результат вставки = %+v", res)
	}
	if got := res.Saga.CompletedSteps; len(got) != 2 || got[0] != stepRemoteInsert || got[1] != stepLedgerUpsert {
		t.Errorf("шаги = %v", got)
	}

	// Хэш в журнале хоста совпадает с хэшем у участника
	atHost, err := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1)
	if err != nil {
		t.Fatalf("GetDataHashAtHost ошибка: %v", err)
	}
	atPart, err := c.part.partial.GetDataHash(ctx, "shop", "orders", 1)
	if err != nil {
		t.Fatalf("GetDataHash ошибка: %v", err)
	}
	if atHost != atPart || atHost == 0 {
		t.Errorf("хэш у хоста %d, у участника %d", atHost, atPart)
	}

	rs := c.read(t, "SELECT * FROM orders")
	if rs.Len() != 1 {
		t.Fatalf("строк = %d, ожидается 1", rs.Len())
	}
	if rs.Rows[0][1] != "book" {
		t.Errorf("строка = %v", rs.Rows[0])
	}

	// Данные хранятся только у участника
	local, err := c.host.coordinator.readLocal(ctx, mustOpen(t, c.host, "shop"), "SELECT * FROM orders")
	if err != nil {
		t.Fatalf("readLocal ошибка: %v", err)
	}
	if local.Len() != 0 {
		t.Errorf("у хоста %d строк, ожидается 0", local.Len())
	}
}

func TestCooperativeRead_Projection(t *testing.T) {
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")
	c.write(t, "INSERT INTO orders (id, item) VALUES (2, 'pen')")

	rs := c.read(t, "SELECT item FROM orders WHERE id = 2")
	if len(rs.Columns) != 1 || rs.Columns[0] != "item" {
		t.Fatalf("колонки = %v", rs.Columns)
	}
	if rs.Len() != 1 || rs.Rows[0][0] != "pen" {
		t.Errorf("строки = %v", rs.Rows)
	}

	if _, err := c.host.coordinator.ExecuteRead(context.Background(), "shop", "SELECT price FROM orders"); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation для неизвестной колонки, получено: %v", err)
	}
}

// TestCooperativeRead_StaleRowFiltered — строка, изменённая у участника
// в обход хоста, не попадает в результат.
func TestCooperativeRead_StaleRowFiltered(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")
	c.write(t, "INSERT INTO orders (id, item) VALUES (2, 'pen')")

	partial, err := c.part.dbs.OpenPartial(ctx, "shop")
	if err != nil {
		t.Fatalf("OpenPartial ошибка: %v", err)
	}
	if _, err := partial.Exec(ctx, "UPDATE orders SET item = 'forged' WHERE id = 1"); err != nil {
		t.Fatalf("Exec ошибка: %v", err)
	}

	rs := c.read(t, "SELECT * FROM orders")
	if rs.Len() != 1 {
		t.Fatalf("строк = %d, ожидается 1", rs.Len())
	}
	if rs.Rows[0][1] != "pen" {
		t.Errorf("строка = %v, ожидается нетронутая", rs.Rows[0])
	}
}

// TestPendingUpdate — UPDATE хоста ставится в очередь участника, не меняет
// данных до принятия и применяется ровно один раз.
func TestPendingUpdate(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")

	res := c.write(t, "UPDATE orders SET item = 'novel' WHERE id = 1")
	if !res.IsPending {
		t.Fatalf("ожидалась постановка в очередь, результат = %+v", res)
	}
	if rs := c.read(t, "SELECT * FROM orders"); rs.Len() != 1 || rs.Rows[0][1] != "book" {
		t.Fatalf("до принятия строки = %v", rs.Rows)
	}

	actions, err := c.part.pendingActions.List(ctx, "shop", "orders", model.ActionUpdate)
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("действий = %d, ожидается 1", len(actions))
	}
	a := actions[0]
	if a.WhereClause != "id = 1" || a.RequestingHostID != c.host.hostInfo.Current().ID {
		t.Errorf("действие = %+v", a)
	}

	result, saga, err := c.part.pendingActions.Accept(ctx, "shop", "orders", a.ID)
	if err != nil {
		t.Fatalf("Accept ошибка: %v", err)
	}
	if !result.IsSuccessful || len(result.Rows) != 1 || result.Rows[0].RowID != 1 {
		t.Errorf("результат = %+v", result)
	}
	if !saga.Succeeded() || len(saga.CompletedSteps) != 2 {
		t.Errorf("сага = %+v", saga)
	}

	// Хост получил новый хэш: строка снова проходит проверку журнала
	rs := c.read(t, "SELECT * FROM orders")
	if rs.Len() != 1 || rs.Rows[0][1] != "novel" {
		t.Fatalf("после принятия строки = %v", rs.Rows)
	}

	if _, _, err := c.part.pendingActions.Accept(ctx, "shop", "orders", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное принятие: ожидалась ErrNotFound, получено: %v", err)
	}
	left, err := c.part.pendingActions.List(ctx, "shop", "orders", model.ActionUnknown)
	if err != nil || len(left) != 0 {
		t.Errorf("очередь после принятия = %v, %v", left, err)
	}
}

func TestPendingDelete_NotifiesHost(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")

	res := c.write(t, "DELETE FROM orders WHERE id = 1")
	if !res.IsPending {
		t.Fatalf("ожидалась постановка в очередь, результат = %+v", res)
	}
	actions, err := c.part.pendingActions.List(ctx, "shop", "orders", model.ActionDelete)
	if err != nil || len(actions) != 1 {
		t.Fatalf("List = %v, %v", actions, err)
	}
	if _, _, err := c.part.pendingActions.Accept(ctx, "shop", "orders", actions[0].ID); err != nil {
		t.Fatalf("Accept ошибка: %v", err)
	}

	if _, err := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись журнала должна быть удалена, получено: %v", err)
	}
	if rs := c.read(t, "SELECT * FROM orders"); rs.Len() != 0 {
		t.Errorf("строки = %v, ожидается пусто", rs.Rows)
	}
}

func TestCooperativeDelete_AllowRemoval(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")
	c.write(t, "INSERT INTO orders (id, item) VALUES (2, 'pen')")

	if err := c.part.partial.ChangeDeletesBehavior(ctx, "shop", "orders", model.DeletesFromHostAllowRemoval); err != nil {
		t.Fatalf("ChangeDeletesBehavior ошибка: %v", err)
	}

	res := c.write(t, "DELETE FROM orders WHERE id = 1")
	if res.IsPending || res.RowsAffected != 1 {
		t.Fatalf("результат удаления = %+v", res)
	}
	if _, err := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись журнала должна быть удалена, получено: %v", err)
	}

	rs := c.read(t, "SELECT * FROM orders")
	if rs.Len() != 1 || rs.Rows[0][1] != "pen" {
		t.Errorf("строки = %v", rs.Rows)
	}
}

func TestCooperativeUpdate_AllowOverwrite(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")

	if err := c.part.partial.ChangeUpdatesBehavior(ctx, "shop", "orders", model.UpdatesFromHostAllowOverwrite); err != nil {
		t.Fatalf("ChangeUpdatesBehavior ошибка: %v", err)
	}

	res := c.write(t, "UPDATE orders SET item = 'novel' WHERE id = 1")
	if res.IsPending || res.RowsAffected != 1 {
		t.Fatalf("результат обновления = %+v", res)
	}
	if rs := c.read(t, "SELECT * FROM orders"); rs.Len() != 1 || rs.Rows[0][1] != "novel" {
		t.Errorf("строки = %v", rs.Rows)
	}
}

func TestCooperativeWrite_UnknownAlias(t *testing.T) {
	c := newCooperation(t)
	before := c.net.callCount(wire.OpInsertCommandIntoTable)

	res, err := c.host.coordinator.ExecuteCooperativeWrite(context.Background(), "shop",
		"INSERT INTO orders (id, item) VALUES (1, 'book')", "nobody", "")
	if err != nil {
		t.Fatalf("ExecuteCooperativeWrite ошибка: %v", err)
	}
	if res.IsSuccessful {
		t.Error("запись для неизвестного участника не должна быть успешной")
	}
	if got := c.net.callCount(wire.OpInsertCommandIntoTable); got != before {
		t.Errorf("удалённых вызовов: %d, ожидается %d", got, before)
	}
}

func TestCooperativeWrite_InvalidStatements(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.host.mustExec(t, "shop", "CREATE TABLE notes (body TEXT)")
	if err := c.host.policies.SetPolicy(ctx, "shop", "notes", model.PolicyHostOnly); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}

	tests := []struct {
		name string
		sql  string
		want error
	}{
		{"select", "SELECT * FROM orders", ErrInvalidOperation},
		{"таблица не кооперативная", "INSERT INTO notes (body) VALUES ('x')", ErrInvalidOperation},
		{"неразбираемое выражение", "INSERT INTO", ErrValidation},
		{"несколько строк", "INSERT INTO orders (id, item) VALUES (1, 'a'), (2, 'b')", ErrInvalidOperation},
		{"insert select", "INSERT INTO orders (id, item) SELECT id, item FROM orders", ErrInvalidOperation},
	}
	inserts := c.net.callCount(wire.OpInsertCommandIntoTable)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.host.coordinator.ExecuteCooperativeWrite(ctx, "shop", tt.sql, "p1", "")
			if !errors.Is(err, tt.want) {
				t.Errorf("ожидалась %v, получено: %v", tt.want, err)
			}
		})
	}
	if n := c.net.callCount(wire.OpInsertCommandIntoTable); n != inserts {
		t.Errorf("отклонённые выражения дошли до участника: %d вызовов", n-inserts)
	}
	if recs, err := repository.NewLedgerRepository(mustOpen(t, c.host, "shop")).ListByTable(ctx, "orders"); err != nil || len(recs) != 0 {
		t.Errorf("журнал = %v, %v, ожидается пусто", recs, err)
	}
}

func TestExecuteWrite_RejectsCooperativeTable(t *testing.T) {
	c := newCooperation(t)
	_, err := c.host.coordinator.ExecuteWrite(context.Background(), "shop", "INSERT INTO orders (id, item) VALUES (1, 'x')")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("ожидалась ErrInvalidOperation, получено: %v", err)
	}
}

func TestExecuteRead_Local(t *testing.T) {
	ctx := context.Background()
	net := newLoopback()
	n := newTestNode(t, net, "solo", 8060)
	n.newOrdersDB(t)
	n.mustExec(t, "shop", "INSERT INTO orders (id, item) VALUES (1, 'book')")

	affected, err := n.coordinator.ExecuteWrite(ctx, "shop", "UPDATE orders SET item = 'pen' WHERE id = 1")
	if err != nil || affected != 1 {
		t.Fatalf("ExecuteWrite = %d, %v", affected, err)
	}
	rs, err := n.coordinator.ExecuteRead(ctx, "shop", "SELECT id, item FROM orders")
	if err != nil {
		t.Fatalf("ExecuteRead ошибка: %v", err)
	}
	if rs.Len() != 1 || rs.Rows[0][1] != "pen" {
		t.Errorf("строки = %v", rs.Rows)
	}
	if net.callCount(wire.OpGetRowFromPartialDatabase) != 0 {
		t.Error("локальное чтение не должно обращаться к участникам")
	}
}

func TestCooperativeRead_ParticipantUnavailable(t *testing.T) {
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")

	c.net.mu.Lock()
	delete(c.net.peers, c.part.url)
	c.net.mu.Unlock()

	_, err := c.host.coordinator.ExecuteRead(context.Background(), "shop", "SELECT * FROM orders")
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Errorf("ожидалась ErrRemoteUnavailable, получено: %v", err)
	}
}

func TestProject(t *testing.T) {
	rows := [][]any{{int64(1), "book"}, {int64(2), "pen"}}

	rs, err := project([]string{"id", "item"}, rows, []string{"ITEM"})
	if err != nil {
		t.Fatalf("project ошибка: %v", err)
	}
	if len(rs.Columns) != 1 || rs.Columns[0] != "item" {
		t.Errorf("колонки = %v", rs.Columns)
	}
	if rs.Len() != 2 || rs.Rows[1][0] != "pen" {
		t.Errorf("строки = %v", rs.Rows)
	}

	all, err := project([]string{"id", "item"}, rows, nil)
	if err != nil || all.Len() != 2 || len(all.Columns) != 2 {
		t.Errorf("project без выборки = %+v, %v", all, err)
	}
}
