package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dynamoRando/rcd-sub000/internal/backend"
	"github.com/dynamoRando/rcd-sub000/internal/backend/sqlite"
	"github.com/dynamoRando/rcd-sub000/internal/domain/model"
	"github.com/dynamoRando/rcd-sub000/internal/rcdclient"
	"github.com/dynamoRando/rcd-sub000/internal/repository"
	"github.com/dynamoRando/rcd-sub000/internal/sqlinspect"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Fake системного хранилища ---

type fakeHostInfoRepo struct {
	mu   sync.Mutex
	info *model.HostInfo
}

func (r *fakeHostInfoRepo) Get(_ context.Context) (*model.HostInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info == nil {
		return nil, repository.ErrNotFound
	}
	cp := *r.info
	return &cp, nil
}

func (r *fakeHostInfoRepo) Save(_ context.Context, h *model.HostInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	r.info = &cp
	return nil
}

type fakeKnownHostRepo struct {
	mu    sync.Mutex
	hosts map[string]model.HostIdentity
}

func newFakeKnownHostRepo() *fakeKnownHostRepo {
	return &fakeKnownHostRepo{hosts: make(map[string]model.HostIdentity)}
}

func (r *fakeKnownHostRepo) Upsert(_ context.Context, h *model.HostIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[h.HostID] = *h
	return nil
}

func (r *fakeKnownHostRepo) GetByID(_ context.Context, id string) (*model.HostIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (r *fakeKnownHostRepo) GetByName(_ context.Context, name string) (*model.HostIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hosts {
		if h.HostName == name {
			return &h, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeCachedContractRepo struct {
	mu        sync.Mutex
	contracts []*model.CachedContract
}

func (r *fakeCachedContractRepo) Save(_ context.Context, c *model.CachedContract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cc := range r.contracts {
		if cc.VersionID == c.VersionID {
			return repository.ErrConflict
		}
	}
	cp := *c
	r.contracts = append(r.contracts, &cp)
	return nil
}

func (r *fakeCachedContractRepo) GetByVersion(_ context.Context, versionID string) (*model.CachedContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cc := range r.contracts {
		if cc.VersionID == versionID {
			cp := *cc
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeCachedContractRepo) ListByStatus(_ context.Context, status model.ContractStatus) ([]*model.CachedContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CachedContract
	for _, cc := range r.contracts {
		if cc.Status == status {
			cp := *cc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCachedContractRepo) GetPendingByHostName(_ context.Context, hostName, dbName string) (*model.CachedContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *model.CachedContract
	dbs := map[string]bool{}
	for i := len(r.contracts) - 1; i >= 0; i-- {
		cc := r.contracts[i]
		if cc.Status != model.ContractStatusPending || cc.Host.HostName != hostName {
			continue
		}
		if dbName != "" && cc.DatabaseName != dbName {
			continue
		}
		dbs[cc.DatabaseName] = true
		if found == nil {
			found = cc
		}
	}
	switch {
	case found == nil:
		return nil, repository.ErrNotFound
	case len(dbs) > 1:
		return nil, repository.ErrAmbiguous
	}
	cp := *found
	return &cp, nil
}

func (r *fakeCachedContractRepo) UpdateStatus(_ context.Context, versionID string, status model.ContractStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cc := range r.contracts {
		if cc.VersionID == versionID {
			cc.Status = status
			cc.DecidedAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeLoginRepo struct {
	mu     sync.Mutex
	logins map[string]*model.Login
	roles  map[string][]string
}

func newFakeLoginRepo() *fakeLoginRepo {
	return &fakeLoginRepo{logins: make(map[string]*model.Login), roles: make(map[string][]string)}
}

func (r *fakeLoginRepo) Create(_ context.Context, l *model.Login) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logins[l.UserName]; ok {
		return repository.ErrConflict
	}
	cp := *l
	r.logins[l.UserName] = &cp
	return nil
}

func (r *fakeLoginRepo) Get(_ context.Context, userName string) (*model.Login, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logins[userName]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeLoginRepo) CreateWithRole(ctx context.Context, l *model.Login, role string) error {
	if err := r.Create(ctx, l); err != nil {
		return err
	}
	return r.AddRole(ctx, l.UserName, role)
}

func (r *fakeLoginRepo) AddRole(_ context.Context, userName, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[userName] = append(r.roles[userName], role)
	return nil
}

func (r *fakeLoginRepo) Roles(_ context.Context, userName string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles[userName]...), nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.IssuedToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.IssuedToken)}
}

func (r *fakeTokenRepo) Save(_ context.Context, t *model.IssuedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.TokenID] = &cp
	return nil
}

func (r *fakeTokenRepo) Get(_ context.Context, tokenID string) (*model.IssuedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTokenRepo) Delete(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tokenID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tokens, tokenID)
	return nil
}

func (r *fakeTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// --- Межузловая сеть в памяти ---

// loopback доставляет межузловые вызовы напрямую в PeerService узлов.
// Вызов узла, которого нет в сети, завершается rcdclient.ErrUnavailable.
type loopback struct {
	mu    sync.Mutex
	peers map[string]*PeerService
	calls map[string]int
}

func newLoopback() *loopback {
	return &loopback{peers: make(map[string]*PeerService), calls: make(map[string]int)}
}

func (l *loopback) peer(baseURL, op string) (*PeerService, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[op]++
	p, ok := l.peers[baseURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", rcdclient.ErrUnavailable, op, baseURL)
	}
	return p, nil
}

func (l *loopback) callCount(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *loopback) SaveContract(ctx context.Context, baseURL string, req *wire.SaveContractRequest) (*wire.SaveContractReply, error) {
	p, err := l.peer(baseURL, wire.OpSaveContract)
	if err != nil {
		return nil, err
	}
	return p.SaveContract(ctx, req), nil
}

func (l *loopback) AcceptContract(ctx context.Context, baseURL string, req *wire.AcceptContractRequest) (*wire.AcceptContractReply, error) {
	p, err := l.peer(baseURL, wire.OpAcceptContract)
	if err != nil {
		return nil, err
	}
	return p.AcceptContract(ctx, req), nil
}

func (l *loopback) RejectContract(ctx context.Context, baseURL string, req *wire.RejectContractRequest) (*wire.RejectContractReply, error) {
	p, err := l.peer(baseURL, wire.OpRejectContract)
	if err != nil {
		return nil, err
	}
	return p.RejectContract(ctx, req), nil
}

func (l *loopback) InsertData(ctx context.Context, baseURL string, req *wire.InsertDataRequest) (*wire.InsertDataReply, error) {
	p, err := l.peer(baseURL, wire.OpInsertCommandIntoTable)
	if err != nil {
		return nil, err
	}
	return p.InsertData(ctx, req), nil
}

func (l *loopback) UpdateData(ctx context.Context, baseURL string, req *wire.UpdateDataRequest) (*wire.UpdateDataReply, error) {
	p, err := l.peer(baseURL, wire.OpUpdateCommandIntoTable)
	if err != nil {
		return nil, err
	}
	return p.UpdateData(ctx, req), nil
}

func (l *loopback) DeleteData(ctx context.Context, baseURL string, req *wire.DeleteDataRequest) (*wire.DeleteDataReply, error) {
	p, err := l.peer(baseURL, wire.OpDeleteCommandIntoTable)
	if err != nil {
		return nil, err
	}
	return p.DeleteData(ctx, req), nil
}

func (l *loopback) GetRows(ctx context.Context, baseURL string, req *wire.GetRowRequest) (*wire.GetRowReply, error) {
	p, err := l.peer(baseURL, wire.OpGetRowFromPartialDatabase)
	if err != nil {
		return nil, err
	}
	return p.GetRows(ctx, req), nil
}

func (l *loopback) UpdateRowHash(ctx context.Context, baseURL string, req *wire.UpdateRowHashRequest) (*wire.UpdateRowHashReply, error) {
	p, err := l.peer(baseURL, wire.OpUpdateRowDataHashForHost)
	if err != nil {
		return nil, err
	}
	return p.UpdateRowHash(ctx, req), nil
}

func (l *loopback) NotifyRowRemoved(ctx context.Context, baseURL string, req *wire.NotifyRowRemovedRequest) (*wire.NotifyRowRemovedReply, error) {
	p, err := l.peer(baseURL, wire.OpNotifyHostOfRemovedRow)
	if err != nil {
		return nil, err
	}
	return p.NotifyRowRemoved(ctx, req), nil
}

// --- Узел rcd ---

// testNode — полный набор сервисов одного процесса rcd поверх SQLite.
type testNode struct {
	addr string
	port int
	url  string

	hostInfo         *HostInfoService
	dbs              *DatabaseService
	policies         *PolicyService
	contracts        *ContractService
	participants     *ParticipantService
	auth             *AuthService
	partial          *PartialService
	pendingContracts *PendingContractService
	pendingActions   *PendingActionService
	ledger           *LedgerService
	coordinator      *Coordinator
	peer             *PeerService
}

// newTestNode создаёт узел с именем хоста name и регистрирует его в сети.
func newTestNode(t *testing.T, net *loopback, name string, port int) *testNode {
	t.Helper()

	logger := testLogger()
	b, err := sqlite.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("sqlite.New ошибка: %v", err)
	}
	t.Cleanup(b.Close)

	n := &testNode{addr: name + ".test", port: port}
	n.url = rcdclient.BaseURL(n.addr, n.port)

	inspector := sqlinspect.New()
	n.hostInfo = NewHostInfoService(&fakeHostInfoRepo{}, name, Advertise{Addr: n.addr, Port: n.port}, logger)
	n.dbs = NewDatabaseService(b, logger)
	n.policies = NewPolicyService(n.dbs, 128, time.Minute, logger)
	n.contracts = NewContractService(n.dbs, n.policies, n.hostInfo, logger)
	n.participants = NewParticipantService(n.dbs, n.contracts, n.hostInfo, net, logger)
	n.auth = NewAuthService(newFakeLoginRepo(), newFakeTokenRepo(), newFakeKnownHostRepo(), n.hostInfo,
		"test-secret", time.Hour, logger)
	n.partial = NewPartialService(n.dbs, inspector, logger)
	n.pendingContracts = NewPendingContractService(&fakeCachedContractRepo{}, n.auth.knownHosts, n.partial,
		n.hostInfo, net, logger)
	n.pendingActions = NewPendingActionService(n.dbs, n.pendingContracts, n.hostInfo, net, logger)
	n.ledger = NewLedgerService(n.dbs, n.auth, logger)
	n.coordinator = NewCoordinator(n.dbs, n.policies, inspector, n.hostInfo, net, logger)
	n.peer = NewPeerService(n.auth, n.participants, n.pendingContracts, n.partial, n.ledger, logger)

	net.mu.Lock()
	net.peers[n.url] = n.peer
	net.mu.Unlock()
	return n
}

// mustOpen открывает базу узла и падает при ошибке.
func mustOpen(t *testing.T, n *testNode, name string) backend.Database {
	t.Helper()
	db, err := n.dbs.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open(%s) ошибка: %v", name, err)
	}
	return db
}

// mustExec выполняет локальную запись и падает при ошибке.
func (n *testNode) mustExec(t *testing.T, db, sql string) {
	t.Helper()
	if _, err := n.coordinator.ExecuteWrite(context.Background(), db, sql); err != nil {
		t.Fatalf("ExecuteWrite(%q) ошибка: %v", sql, err)
	}
}

// newOrdersDB создаёт на узле базу shop с таблицей orders.
func (n *testNode) newOrdersDB(t *testing.T) {
	t.Helper()
	if err := n.dbs.Create(context.Background(), "shop"); err != nil {
		t.Fatalf("Create ошибка: %v", err)
	}
	n.mustExec(t, "shop", "CREATE TABLE orders (id INTEGER, item TEXT)")
}

// cooperation — хост и участник, принявший контракт на таблицу orders (Mirror).
type cooperation struct {
	net  *loopback
	host *testNode
	part *testNode
}

// newCooperation проводит полный цикл: политика → контракт → участник →
// отправка контракта → принятие участником.
func newCooperation(t *testing.T) *cooperation {
	t.Helper()
	ctx := context.Background()

	net := newLoopback()
	host := newTestNode(t, net, "host", 8050)
	part := newTestNode(t, net, "part", 8051)

	host.newOrdersDB(t)
	if err := host.policies.SetPolicy(ctx, "shop", "orders", model.PolicyMirror); err != nil {
		t.Fatalf("SetPolicy ошибка: %v", err)
	}
	if _, err := host.contracts.Generate(ctx, "shop", "host", "заказы", model.RemoteDeleteIgnore); err != nil {
		t.Fatalf("Generate ошибка: %v", err)
	}
	ok, err := host.participants.Add(ctx, "shop", model.Participant{
		Alias:      "p1",
		IP4Address: part.addr,
		Port:       part.port,
		HTTPAddr:   part.addr,
		HTTPPort:   part.port,
	})
	if err != nil || !ok {
		t.Fatalf("Add = %v, %v", ok, err)
	}
	if ok, err := host.participants.SendContract(ctx, "shop", "p1"); err != nil || !ok {
		t.Fatalf("SendContract = %v, %v", ok, err)
	}
	saga, err := part.pendingContracts.Accept(ctx, "host", "shop")
	if err != nil {
		t.Fatalf("Accept ошибка: %v", err)
	}
	if !saga.Succeeded() {
		t.Fatalf("Accept не завершён: %s", saga.Message())
	}
	return &cooperation{net: net, host: host, part: part}
}

// read выполняет чтение у хоста и возвращает строки.
func (c *cooperation) read(t *testing.T, sql string) *model.ResultSet {
	t.Helper()
	rs, err := c.host.coordinator.ExecuteRead(context.Background(), "shop", sql)
	if err != nil {
		t.Fatalf("ExecuteRead(%q) ошибка: %v", sql, err)
	}
	return rs
}

// write выполняет кооперативную запись для участника p1.
func (c *cooperation) write(t *testing.T, sql string) *WriteResult {
	t.Helper()
	res, err := c.host.coordinator.ExecuteCooperativeWrite(context.Background(), "shop", sql, "p1", "")
	if err != nil {
		t.Fatalf("ExecuteCooperativeWrite(%q) ошибка: %v", sql, err)
	}
	if !res.IsSuccessful {
		t.Fatalf("ExecuteCooperativeWrite(%q) неуспешна: %s", sql, res.Message)
	}
	return res
}
