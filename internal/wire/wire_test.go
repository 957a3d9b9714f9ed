package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
)

func TestContract_JSONPreservesIdentityAndSchema(t *testing.T) {
	c := &model.Contract{
		ContractID:           "c-1",
		VersionID:            "v-1",
		GeneratedAt:          time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		Description:          "заказы",
		RemoteDeleteBehavior: model.RemoteDeleteIgnore,
	}
	schema := &model.DatabaseSchema{
		DatabaseName: "shop",
		DatabaseID:   "db-1",
		Tables: []model.TableSchema{
			{TableName: "orders", Columns: []model.ColumnSchema{{ColumnName: "id"}, {ColumnName: "item"}}},
			{TableName: "customers", Columns: []model.ColumnSchema{{ColumnName: "name"}}},
		},
	}
	host := model.HostIdentity{HostID: "h-1", HostName: "alpha", Token: []byte{1, 2, 3}}

	data, err := json.Marshal(NewContract(c, schema, host, model.ContractStatusPending, "p1"))
	if err != nil {
		t.Fatalf("Marshal ошибка: %v", err)
	}
	var decoded Contract
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal ошибка: %v", err)
	}

	cached := decoded.ToCached(time.Now())
	if cached.ContractID != "c-1" || cached.VersionID != "v-1" {
		t.Errorf("идентификаторы = %q/%q", cached.ContractID, cached.VersionID)
	}
	if cached.DatabaseName != "shop" || cached.Status != model.ContractStatusPending || cached.ParticipantAlias != "p1" {
		t.Errorf("контракт = %+v", cached)
	}
	if string(cached.Host.Token) != string(host.Token) {
		t.Error("токен хоста не сохранён")
	}

	want := map[string][]string{"orders": {"id", "item"}, "customers": {"name"}}
	if len(cached.Schema.Tables) != len(want) {
		t.Fatalf("таблиц = %d, ожидалось %d", len(cached.Schema.Tables), len(want))
	}
	for _, ts := range cached.Schema.Tables {
		cols := want[ts.TableName]
		if len(cols) != len(ts.Columns) {
			t.Fatalf("таблица %s: колонок = %d", ts.TableName, len(ts.Columns))
		}
		for i, col := range ts.Columns {
			if col.ColumnName != cols[i] {
				t.Errorf("таблица %s: колонка %d = %q, ожидалось %q", ts.TableName, i, col.ColumnName, cols[i])
			}
		}
	}

	back := FromCached(cached)
	if back.ContractGUID != "c-1" || back.ContractVersion != "v-1" || !back.GeneratedAt.Equal(c.GeneratedAt) {
		t.Errorf("FromCached = %+v", back)
	}
}

func TestReplyBase_PromotedThroughEmbedding(t *testing.T) {
	var reply Reply = &InsertDataReply{}
	reply.SetAuth(AuthResult{IsAuthenticated: true, UserName: "host"})
	reply.SetStatus(false, "ошибка")

	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("Marshal ошибка: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal ошибка: %v", err)
	}
	if m["is_successful"] != false || m["message"] != "ошибка" {
		t.Errorf("ответ = %s", data)
	}
	auth, ok := m["authentication_result"].(map[string]any)
	if !ok || auth["is_authenticated"] != true {
		t.Errorf("authentication_result = %v", m["authentication_result"])
	}
}

func TestTokenEncoding(t *testing.T) {
	token := []byte{0x00, 0xab, 0xff}
	if got := DecodeToken(EncodeToken(token)); string(got) != string(token) {
		t.Errorf("DecodeToken = %x", got)
	}
	if DecodeToken("zz") != nil {
		t.Error("некорректный токен должен давать nil")
	}
}
