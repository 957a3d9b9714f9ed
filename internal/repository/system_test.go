package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dynamoRando/rcd-sub000/internal/database"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/testpg"
)

// setupSystemDB запускает PostgreSQL и применяет миграции системного хранилища.
func setupSystemDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := testpg.Start(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграции: %v", err)
	}
	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestSystemRepositories_Integration(t *testing.T) {
	pool := setupSystemDB(t)
	ctx := context.Background()

	t.Run("HostInfo", func(t *testing.T) {
		repo := NewHostInfoRepository(pool)
		if _, err := repo.Get(ctx); !errors.Is(err, ErrNotFound) {
			t.Fatalf("ожидалась ErrNotFound, получено: %v", err)
		}
		h := &model.HostInfo{ID: "h-1", Name: "alpha", Token: []byte("t1"), CreatedAt: time.Now().UTC()}
		if err := repo.Save(ctx, h); err != nil {
			t.Fatalf("Save ошибка: %v", err)
		}
		h.ID, h.Token = "h-2", []byte("t2")
		if err := repo.Save(ctx, h); err != nil {
			t.Fatalf("повторный Save ошибка: %v", err)
		}
		got, err := repo.Get(ctx)
		if err != nil || got.ID != "h-2" || string(got.Token) != "t2" {
			t.Errorf("Get = %+v, %v", got, err)
		}
	})

	t.Run("CachedContracts", func(t *testing.T) {
		hosts := NewKnownHostRepository(pool)
		contracts := NewCachedContractRepository(pool)
		txRunner := NewTxRunner(pool)

		c := &model.CachedContract{
			ContractID:   "c-1",
			VersionID:    "v-1",
			DatabaseName: "shop",
			GeneratedAt:  time.Now().UTC(),
			Status:       model.ContractStatusPending,
			Schema:       &model.DatabaseSchema{DatabaseName: "shop"},
			Host:         model.HostIdentity{HostID: "host-a", HostName: "alpha", Token: []byte("x"), HTTPAddr: "10.0.0.5", HTTPPort: 8050},
		}
		err := txRunner.RunInTx(ctx, func(tx pgx.Tx) error {
			if err := NewKnownHostRepository(tx).Upsert(ctx, &c.Host); err != nil {
				return err
			}
			return NewCachedContractRepository(tx).Save(ctx, c)
		})
		if err != nil {
			t.Fatalf("RunInTx ошибка: %v", err)
		}
		if err := contracts.Save(ctx, c); !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено: %v", err)
		}

		h, err := hosts.GetByName(ctx, "alpha")
		if err != nil || h.HostID != "host-a" || h.HTTPPort != 8050 {
			t.Errorf("GetByName = %+v, %v", h, err)
		}

		pending, err := contracts.GetPendingByHostName(ctx, "alpha", "")
		if err != nil || pending.VersionID != "v-1" || pending.Host.HTTPAddr != "10.0.0.5" {
			t.Fatalf("GetPendingByHostName = %+v, %v", pending, err)
		}

		if err := contracts.UpdateStatus(ctx, "v-1", model.ContractStatusAccepted, time.Now()); err != nil {
			t.Fatalf("UpdateStatus ошибка: %v", err)
		}
		if _, err := contracts.GetPendingByHostName(ctx, "alpha", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound после принятия, получено: %v", err)
		}
		accepted, err := contracts.ListByStatus(ctx, model.ContractStatusAccepted)
		if err != nil || len(accepted) != 1 || accepted[0].DecidedAt == nil {
			t.Errorf("ListByStatus = %v, %v", accepted, err)
		}

		// Два ожидающих контракта одного хоста на разные базы
		for _, next := range []struct{ version, db string }{{"v-2", "crm"}, {"v-3", "shop"}} {
			cc := *c
			cc.VersionID, cc.DatabaseName = next.version, next.db
			if err := contracts.Save(ctx, &cc); err != nil {
				t.Fatalf("Save(%s) ошибка: %v", next.version, err)
			}
		}
		if _, err := contracts.GetPendingByHostName(ctx, "alpha", ""); !errors.Is(err, ErrAmbiguous) {
			t.Errorf("ожидалась ErrAmbiguous, получено: %v", err)
		}
		crm, err := contracts.GetPendingByHostName(ctx, "alpha", "crm")
		if err != nil || crm.VersionID != "v-2" {
			t.Errorf("GetPendingByHostName(crm) = %+v, %v", crm, err)
		}
		if _, err := contracts.GetPendingByHostName(ctx, "alpha", "billing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено: %v", err)
		}
	})

	t.Run("LoginsAndTokens", func(t *testing.T) {
		logins := NewLoginRepository(pool)
		tokens := NewTokenRepository(pool)

		if err := logins.Create(ctx, &model.Login{UserName: "admin", PasswordHash: []byte("hash")}); err != nil {
			t.Fatalf("Create ошибка: %v", err)
		}
		if err := logins.Create(ctx, &model.Login{UserName: "admin", PasswordHash: []byte("hash")}); !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено: %v", err)
		}
		if err := logins.AddRole(ctx, "admin", "SysAdmin"); err != nil {
			t.Fatalf("AddRole ошибка: %v", err)
		}
		if err := logins.AddRole(ctx, "admin", "SysAdmin"); err != nil {
			t.Fatalf("повторный AddRole ошибка: %v", err)
		}
		roles, err := logins.Roles(ctx, "admin")
		if err != nil || len(roles) != 1 {
			t.Errorf("Roles = %v, %v", roles, err)
		}

		if err := logins.CreateWithRole(ctx, &model.Login{UserName: "ops", PasswordHash: []byte("h")}, "SysAdmin"); err != nil {
			t.Fatalf("CreateWithRole ошибка: %v", err)
		}
		if err := logins.CreateWithRole(ctx, &model.Login{UserName: "ops", PasswordHash: []byte("h")}, "Reader"); !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено: %v", err)
		}
		// роль второй попытки откатилась вместе с транзакцией
		roles, err = logins.Roles(ctx, "ops")
		if err != nil || len(roles) != 1 || roles[0] != "SysAdmin" {
			t.Errorf("Roles(ops) = %v, %v", roles, err)
		}

		now := time.Now().UTC()
		if err := tokens.Save(ctx, &model.IssuedToken{TokenID: "old", UserName: "admin", IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}); err != nil {
			t.Fatalf("Save ошибка: %v", err)
		}
		if err := tokens.Save(ctx, &model.IssuedToken{TokenID: "new", UserName: "admin", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
			t.Fatalf("Save ошибка: %v", err)
		}
		n, err := tokens.DeleteExpired(ctx, now)
		if err != nil || n != 1 {
			t.Errorf("DeleteExpired = %d, %v", n, err)
		}
		if _, err := tokens.Get(ctx, "new"); err != nil {
			t.Errorf("Get ошибка: %v", err)
		}
		if err := tokens.Delete(ctx, "new"); err != nil {
			t.Errorf("Delete ошибка: %v", err)
		}
		if err := tokens.Delete(ctx, "new"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ожидалась ErrNotFound, получено: %v", err)
		}
	})
}
