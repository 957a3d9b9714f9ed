package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

// newPartialOrders создаёт на узле частичную таблицу shop.orders.
func newPartialOrders(t *testing.T, n *testNode) {
	t.Helper()
	ctx := context.Background()
	err := n.partial.CreateFromSchema(ctx, &model.DatabaseSchema{
		DatabaseName: "shop",
		Tables: []model.TableSchema{
			{
				TableName: "orders",
				Columns: []model.ColumnSchema{
					{ColumnName: "id", ColumnType: "INTEGER", Ordinal: 1},
					{ColumnName: "item", ColumnType: "TEXT", Ordinal: 2, IsNullable: true},
				},
				LogicalStoragePolicy: model.PolicyMirror,
			},
			{
				TableName:            "local_only",
				Columns:              []model.ColumnSchema{{ColumnName: "id", ColumnType: "INTEGER", Ordinal: 1}},
				LogicalStoragePolicy: model.PolicyHostOnly,
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateFromSchema ошибка: %v", err)
	}
}

func TestCreateFromSchema_OnlyCooperativeTables(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)

	db, err := n.dbs.OpenPartial(ctx, "shop")
	if err != nil {
		t.Fatalf("OpenPartial ошибка: %v", err)
	}
	if db.Name() != model.PartialDatabaseName("shop") {
		t.Errorf("имя частичной базы = %s", db.Name())
	}
	for table, want := range map[string]bool{"orders": true, "local_only": false, model.QueueTableName("orders"): true} {
		ok, err := db.HasTable(ctx, table)
		if err != nil || ok != want {
			t.Errorf("HasTable(%s) = %v, %v, ожидается %v", table, ok, err, want)
		}
	}
}

func TestPartialInsert_Hash(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)

	row, err := n.partial.Insert(ctx, "shop", "orders", "INSERT INTO orders (id, item) VALUES (7, 'lamp')")
	if err != nil {
		t.Fatalf("Insert ошибка: %v", err)
	}
	h, err := n.partial.GetDataHash(ctx, "shop", "orders", row.RowID)
	if err != nil {
		t.Fatalf("GetDataHash ошибка: %v", err)
	}
	if h != row.Hash {
		t.Errorf("хэш строки %d, при вставке %d", h, row.Hash)
	}

	if _, err := n.partial.GetDataHash(ctx, "shop", "orders", row.RowID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

func TestPartialStatements_Rejected(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)

	if _, err := n.partial.Insert(ctx, "shop", "orders", "DELETE FROM orders"); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("DELETE вместо INSERT: ожидалась ErrInvalidOperation, получено: %v", err)
	}
	if _, err := n.partial.Insert(ctx, "shop", "orders", "INSERT INTO local_only (id) VALUES (1)"); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("чужая таблица: ожидалась ErrInvalidOperation, получено: %v", err)
	}
	if _, err := n.partial.Insert(ctx, "shop", "orders", "INSERT INTO orders (id, item) VALUES (1, 'a'), (2, 'b')"); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("несколько строк: ожидалась ErrInvalidOperation, получено: %v", err)
	}
	if set, err := n.partial.GetRows(ctx, "shop", "orders", nil, ""); err != nil || len(set.Rows) != 0 {
		t.Errorf("после отклонённых вставок строки = %v, %v", set, err)
	}
	if _, err := n.partial.Update(ctx, "h", "shop", "orders", "UPDATE orders SET", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("нераспознанное выражение: ожидалась ErrValidation, получено: %v", err)
	}
}

func TestPartialBehavior_Ignore(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)
	if _, err := n.partial.Insert(ctx, "shop", "orders", "INSERT INTO orders (id, item) VALUES (1, 'book')"); err != nil {
		t.Fatalf("Insert ошибка: %v", err)
	}

	if err := n.partial.ChangeUpdatesBehavior(ctx, "shop", "orders", model.UpdatesFromHostIgnore); err != nil {
		t.Fatalf("ChangeUpdatesBehavior ошибка: %v", err)
	}
	if err := n.partial.ChangeDeletesBehavior(ctx, "shop", "orders", model.DeletesFromHostIgnore); err != nil {
		t.Fatalf("ChangeDeletesBehavior ошибка: %v", err)
	}

	upd, err := n.partial.Update(ctx, "h", "shop", "orders", "UPDATE orders SET item = 'x' WHERE id = 1", "")
	if err != nil {
		t.Fatalf("Update ошибка: %v", err)
	}
	if upd.IsSuccessful || upd.IsPending {
		t.Errorf("игнорируемое обновление = %+v", upd)
	}
	del, err := n.partial.Delete(ctx, "h", "shop", "orders", "DELETE FROM orders WHERE id = 1", "")
	if err != nil {
		t.Fatalf("Delete ошибка: %v", err)
	}
	if del.IsSuccessful || del.IsPending {
		t.Errorf("игнорируемое удаление = %+v", del)
	}

	set, err := n.partial.GetRows(ctx, "shop", "orders", nil, "")
	if err != nil {
		t.Fatalf("GetRows ошибка: %v", err)
	}
	if len(set.Rows) != 1 || set.Rows[0].Values[1] != "book" {
		t.Errorf("строки = %+v", set.Rows)
	}
}

func TestPartialBehavior_OverwriteWithLog(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)
	row, err := n.partial.Insert(ctx, "shop", "orders", "INSERT INTO orders (id, item) VALUES (1, 'book')")
	if err != nil {
		t.Fatalf("Insert ошибка: %v", err)
	}
	if err := n.partial.ChangeUpdatesBehavior(ctx, "shop", "orders", model.UpdatesFromHostOverwriteWithLog); err != nil {
		t.Fatalf("ChangeUpdatesBehavior ошибка: %v", err)
	}

	res, err := n.partial.Update(ctx, "h", "shop", "orders", "UPDATE orders SET item = 'atlas' WHERE id = 1", "")
	if err != nil {
		t.Fatalf("Update ошибка: %v", err)
	}
	if !res.IsSuccessful || res.IsPending || len(res.Rows) != 1 {
		t.Fatalf("результат = %+v", res)
	}
	if res.Rows[0].RowID != row.RowID || res.Rows[0].Hash == row.Hash {
		t.Errorf("строка после обновления = %+v, до = %+v", res.Rows[0], row)
	}
}

func TestChangeBehavior_Validation(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)

	if err := n.partial.ChangeUpdatesBehavior(ctx, "shop", "orders", model.UpdatesFromHostBehavior(0)); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получено: %v", err)
	}
	if err := n.partial.ChangeDeletesBehavior(ctx, "shop", "orders", model.DeletesFromHostBehavior(9)); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получено: %v", err)
	}
	if err := n.partial.ChangeUpdatesBehavior(ctx, "shop", "missing", model.UpdatesFromHostIgnore); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("ожидалась ErrTableNotFound, получено: %v", err)
	}
	if err := n.partial.ChangeDeletesBehavior(ctx, "nodb", "orders", model.DeletesFromHostIgnore); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

func TestGetRows_Filters(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, newLoopback(), "part", 8051)
	newPartialOrders(t, n)
	var ids []int64
	for _, sql := range []string{
		"INSERT INTO orders (id, item) VALUES (1, 'book')",
		"INSERT INTO orders (id, item) VALUES (2, 'pen')",
		"INSERT INTO orders (id, item) VALUES (3, 'ink')",
	} {
		row, err := n.partial.Insert(ctx, "shop", "orders", sql)
		if err != nil {
			t.Fatalf("Insert ошибка: %v", err)
		}
		ids = append(ids, row.RowID)
	}

	set, err := n.partial.GetRows(ctx, "shop", "orders", ids[:2], "id > 1")
	if err != nil {
		t.Fatalf("GetRows ошибка: %v", err)
	}
	if len(set.Rows) != 1 || set.Rows[0].RowID != ids[1] {
		t.Errorf("строки = %+v", set.Rows)
	}

	empty, err := n.partial.GetRows(ctx, "shop", "orders", []int64{}, "")
	if err != nil || len(empty.Rows) != 0 {
		t.Errorf("пустой список идентификаторов = %+v, %v", empty, err)
	}

	if _, err := n.partial.GetRows(ctx, "shop", "missing", nil, ""); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("ожидалась ErrTableNotFound, получено: %v", err)
	}
}
