package service

import (
	"context"
	"testing"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// remotesCount возвращает число обратных ссылок таблицы orders у хоста.
func remotesCount(t *testing.T, c *cooperation) int {
	t.Helper()
	var n int
	q := "SELECT COUNT(*) FROM " + backend.Quote(model.RemotesTableName("orders"))
	if err := mustOpen(t, c.host, "shop").QueryRow(context.Background(), q).Scan(&n); err != nil {
		t.Fatalf("подсчёт обратных ссылок: %v", err)
	}
	return n
}

// TestLedgerRPC_RejectsWrongParticipant — чужие учётные данные не меняют
// журнал хоста и обратные ссылки.
func TestLedgerRPC_RejectsWrongParticipant(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	c.write(t, "INSERT INTO orders (id, item) VALUES (1, 'book')")

	before, err := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1)
	if err != nil {
		t.Fatalf("GetDataHashAtHost ошибка: %v", err)
	}
	validToken := wire.EncodeToken(c.part.hostInfo.Current().Token)

	tests := []struct {
		name string
		auth wire.AuthRequest
		db   string
	}{
		{"неверный токен", wire.AuthRequest{UserName: "p1", Token: wire.EncodeToken([]byte("forged"))}, "shop"},
		{"неизвестный алиас", wire.AuthRequest{UserName: "p2", Token: validToken}, "shop"},
		{"пустые учётные данные", wire.AuthRequest{}, "shop"},
		{"неизвестная база", wire.AuthRequest{UserName: "p1", Token: validToken}, "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd := &wire.UpdateRowHashRequest{
				DatabaseName: tt.db, TableName: "orders", RowID: 1, UpdatedHash: before + 1,
			}
			upd.Authentication = tt.auth
			reply := c.host.peer.UpdateRowHash(ctx, upd)
			if reply.AuthenticationResult.IsAuthenticated || reply.IsSuccessful {
				t.Errorf("UpdateRowHash: ожидался отказ, ответ = %+v", reply.ReplyBase)
			}

			rm := &wire.NotifyRowRemovedRequest{DatabaseName: tt.db, TableName: "orders", RowID: 1}
			rm.Authentication = tt.auth
			rmReply := c.host.peer.NotifyRowRemoved(ctx, rm)
			if rmReply.AuthenticationResult.IsAuthenticated || rmReply.IsSuccessful {
				t.Errorf("NotifyRowRemoved: ожидался отказ, ответ = %+v", rmReply.ReplyBase)
			}

			got, err := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1)
			if err != nil || got != before {
				t.Errorf("хэш в журнале = %d, %v, ожидается %d", got, err, before)
			}
			if n := remotesCount(t, c); n != 1 {
				t.Errorf("обратных ссылок = %d, ожидается 1", n)
			}
		})
	}

	// Настоящий участник проходит проверку
	upd := &wire.UpdateRowHashRequest{DatabaseName: "shop", TableName: "orders", RowID: 1, UpdatedHash: before + 1}
	upd.Authentication = wire.AuthRequest{UserName: "p1", Token: validToken}
	if reply := c.host.peer.UpdateRowHash(ctx, upd); !reply.IsSuccessful {
		t.Fatalf("UpdateRowHash участника: %+v", reply.ReplyBase)
	}
	if got, _ := c.host.ledger.GetDataHashAtHost(ctx, "shop", "orders", "p1", 1); got != before+1 {
		t.Errorf("хэш в журнале = %d, ожидается %d", got, before+1)
	}
}

// TestInsertData_RequiresAcceptedContract — INSERT принимается только от
// хоста, контракт которого на эту базу принят.
func TestInsertData_RequiresAcceptedContract(t *testing.T) {
	ctx := context.Background()
	c := newCooperation(t)
	host := c.host.hostInfo.Identity()

	tests := []struct {
		name string
		auth wire.AuthRequest
		db   string
	}{
		{"неизвестный хост", wire.AuthRequest{UserName: "stranger", Token: wire.EncodeToken([]byte("x"))}, "shop"},
		{"неверный токен хоста", wire.AuthRequest{UserName: host.HostID, Token: wire.EncodeToken([]byte("x"))}, "shop"},
		{"нет принятого контракта", hostCredentials(host), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &wire.InsertDataRequest{
				DatabaseName: tt.db, TableName: "orders", CmdText: "INSERT INTO orders (id, item) VALUES (9, 'x')",
			}
			req.Authentication = tt.auth
			reply := c.part.peer.InsertData(ctx, req)
			if reply.AuthenticationResult.IsAuthenticated || reply.IsSuccessful {
				t.Errorf("ожидался отказ, ответ = %+v", reply.ReplyBase)
			}
		})
	}

	set, err := c.part.partial.GetRows(ctx, "shop", "orders", nil, "")
	if err != nil {
		t.Fatalf("GetRows ошибка: %v", err)
	}
	if len(set.Rows) != 0 {
		t.Errorf("строк у участника = %d, ожидается 0", len(set.Rows))
	}
}
