package service

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pesio-ai/be-exp-expenses/internal/repository"
	"github.com/pesio-ai/be-exp-expenses/pkg/auth"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
	"github.com/pesio-ai/be-exp-expenses/pkg/logger"
)

// memStore is an in-memory stand-in for Postgres. Transactions run one at a
// time, which models the expense row lock, and roll back on error.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	expenses  map[int64]repository.Expense
	approvals map[int64]repository.Approval
	users     map[int64]repository.User
	projects  map[int64]repository.Project
	nextID    int64

	failApprovalCreate error
}

func newMemStore() *memStore {
	return &memStore{
		expenses:  map[int64]repository.Expense{},
		approvals: map[int64]repository.Approval{},
		users:     map[int64]repository.User{},
		projects:  map[int64]repository.Project{},
		nextID:    100,
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type txMarker struct{}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	expenses := cloneMap(s.expenses)
	approvals := cloneMap(s.approvals)
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.mu.Lock()
		s.expenses, s.approvals = expenses, approvals
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) addUser(u repository.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *memStore) addProject(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = repository.Project{ID: id, Name: name, Status: "진행중"}
}

func (s *memStore) expense(id int64) (repository.Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	return e, ok
}

func (s *memStore) approvalsOf(expenseID int64) []repository.Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.Approval
	for _, a := range s.approvals {
		if a.ExpenseID == expenseID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) counts() (expenses, approvals int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expenses), len(s.approvals)
}

// ── ExpenseRepository ────────────────────────────────────────────────────────

type memExpenses struct{ *memStore }

func (r memExpenses) Create(_ context.Context, e *repository.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.id()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	r.expenses[e.ID] = *e
	return nil
}

func (r memExpenses) GetByID(_ context.Context, id int64) (*repository.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	if p, ok := r.projects[e.ProjectID]; ok {
		e.ProjectName = &p.Name
	}
	if u, ok := r.users[e.RequesterID]; ok {
		e.RequesterName = &u.Name
	}
	return &e, nil
}

func (r memExpenses) GetForUpdate(ctx context.Context, id int64) (*repository.Expense, error) {
	if ctx.Value(txMarker{}) == nil {
		panic("GetForUpdate outside transaction")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	return &e, nil
}

func (r memExpenses) UpdateStatus(_ context.Context, id int64, status repository.ExpenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return errors.NotFound("expense", id)
	}
	e.Status = status
	r.expenses[id] = e
	return nil
}

func (r memExpenses) List(ctx context.Context, f repository.ExpenseFilter) ([]*repository.Expense, error) {
	r.mu.Lock()
	var ids []int64
	for id, e := range r.expenses {
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.ProjectID != nil && e.ProjectID != *f.ProjectID {
			continue
		}
		if f.RequesterID != nil && e.RequesterID != *f.RequesterID {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.Unlock()
	return r.byIDsDesc(ctx, ids)
}

func (r memExpenses) ListPendingForApprover(ctx context.Context, approverID int64) ([]*repository.Expense, error) {
	r.mu.Lock()
	var ids []int64
	for id, e := range r.expenses {
		if e.Status != repository.ExpenseStatusInReview {
			continue
		}
		for _, a := range r.approvals {
			if a.ExpenseID == id && a.ApproverID == approverID && a.Status == repository.ApprovalStatusPending {
				ids = append(ids, id)
				break
			}
		}
	}
	r.mu.Unlock()
	return r.byIDsDesc(ctx, ids)
}

func (r memExpenses) byIDsDesc(ctx context.Context, ids []int64) ([]*repository.Expense, error) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := make([]*repository.Expense, 0, len(ids))
	for _, id := range ids {
		e, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r memExpenses) Update(_ context.Context, id int64, upd repository.ExpenseUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.expenses[id]
	if !ok {
		return errors.NotFound("expense", id)
	}
	if upd.Category != nil {
		e.Category = *upd.Category
	}
	if upd.Amount != nil {
		e.Amount = *upd.Amount
	}
	if upd.Description != nil {
		e.Description = *upd.Description
	}
	apply := func(dst **string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			*dst = nil
			return
		}
		c := *v
		*dst = &c
	}
	apply(&e.ReceiptFilename, upd.ReceiptFilename)
	apply(&e.ReceiptPath, upd.ReceiptPath)
	apply(&e.ReceiptMimetype, upd.ReceiptMimetype)
	apply(&e.BankName, upd.BankName)
	apply(&e.AccountNumber, upd.AccountNumber)
	apply(&e.AccountHolder, upd.AccountHolder)
	r.expenses[id] = e
	return nil
}

func (r memExpenses) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.expenses[id]; !ok {
		return errors.NotFound("expense", id)
	}
	delete(r.expenses, id)
	for aid, a := range r.approvals {
		if a.ExpenseID == id {
			delete(r.approvals, aid)
		}
	}
	return nil
}

// ── ApprovalRepository ───────────────────────────────────────────────────────

type memApprovals struct{ *memStore }

func (r memApprovals) Create(_ context.Context, a *repository.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failApprovalCreate != nil {
		return r.failApprovalCreate
	}
	for _, existing := range r.approvals {
		if existing.ExpenseID == a.ExpenseID && existing.ApproverID == a.ApproverID {
			return errors.New(errors.ErrCodeInternal, "duplicate approval")
		}
	}
	a.ID = r.id()
	a.CreatedAt = time.Now()
	r.approvals[a.ID] = *a
	return nil
}

func (r memApprovals) GetByID(_ context.Context, id int64) (*repository.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok {
		return nil, errors.NotFound("approval", id)
	}
	if u, ok := r.users[a.ApproverID]; ok {
		a.ApproverName = &u.Name
	}
	return &a, nil
}

func (r memApprovals) GetForUpdate(ctx context.Context, id int64) (*repository.Approval, error) {
	if ctx.Value(txMarker{}) == nil {
		panic("GetForUpdate outside transaction")
	}
	return r.GetByID(ctx, id)
}

func (r memApprovals) ListByExpenseID(ctx context.Context, expenseID int64) ([]*repository.Approval, error) {
	out := make([]*repository.Approval, 0)
	for _, a := range r.approvalsOf(expenseID) {
		named, err := r.GetByID(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, named)
	}
	return out, nil
}

func (r memApprovals) ListByExpenseIDs(ctx context.Context, ids []int64) (map[int64][]*repository.Approval, error) {
	out := make(map[int64][]*repository.Approval, len(ids))
	for _, id := range ids {
		list, _ := r.ListByExpenseID(ctx, id)
		if len(list) > 0 {
			out[id] = list
		}
	}
	return out, nil
}

func (r memApprovals) Resolve(_ context.Context, id int64, status repository.ApprovalStatus, comment *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.approvals[id]
	if !ok || a.Status != repository.ApprovalStatusPending {
		return errors.Conflict("approval already processed")
	}
	a.Status = status
	if comment != nil {
		c := *comment
		a.Comment = &c
	}
	a.ApprovedAt = &at
	r.approvals[id] = a
	return nil
}

// ── UserDirectory / ProjectRepository ────────────────────────────────────────

type memUsers struct{ *memStore }

func (r memUsers) GetByID(_ context.Context, id int64) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return &u, nil
}

func (r memUsers) FindActiveApprover(_ context.Context, role, title string) (*repository.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *repository.User
	bestRank := 2
	for _, u := range r.users {
		if !u.IsActive {
			continue
		}
		rank := 2
		if u.ApproverRole != nil && *u.ApproverRole == role {
			rank = 0
		} else if title != "" && u.Position != nil && strings.TrimSpace(*u.Position) == strings.TrimSpace(title) {
			rank = 1
		}
		if rank == 2 {
			continue
		}
		if best == nil || rank < bestRank || (rank == bestRank && u.ID < best.ID) {
			best, bestRank = &u, rank
		}
	}
	return best, nil
}

type memProjects struct{ *memStore }

func (r memProjects) GetByID(_ context.Context, id int64) (*repository.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, errors.NotFound("project", id)
	}
	return &p, nil
}

// ── fixtures ─────────────────────────────────────────────────────────────────

const (
	testProjectID = 1

	chairTitle = "동문회장"
	opsTitle   = "운영위원장"
)

type fixture struct {
	store    *memStore
	routing  *ApprovalRoutingService
	expenses *ExpenseService
}

func newFixture() *fixture {
	store := newMemStore()
	store.addProject(testProjectID, "정기총회")
	store.addUser(repository.User{ID: 10, Name: "요청자", Role: auth.RoleUser, IsActive: true})
	store.addUser(repository.User{ID: 99, Name: "관리자", Role: auth.RoleAdmin, IsActive: true})

	directory := NewApproverDirectory(memUsers{store}, map[RoutingRole]string{
		RoutingRolePrimary:   chairTitle,
		RoutingRoleSecondary: opsTitle,
	})
	log := logger.Nop()
	return &fixture{
		store: store,
		routing: NewApprovalRoutingService(
			store, memExpenses{store}, memApprovals{store}, memProjects{store},
			directory, NewTieredPolicy(DefaultThreshold), log,
		),
		expenses: NewExpenseService(store, memExpenses{store}, memApprovals{store}, log),
	}
}

func (f *fixture) addApprover(id int64, name, position string) {
	p := position
	f.store.addUser(repository.User{ID: id, Name: name, Role: auth.RoleApprover, Position: &p, IsActive: true})
}

var (
	requester = &auth.UserContext{UserID: 10, Name: "요청자", Role: auth.RoleUser}
	admin     = &auth.UserContext{UserID: 99, Name: "관리자", Role: auth.RoleAdmin}
)

func approverCtx(id int64) *auth.UserContext {
	return &auth.UserContext{UserID: id, Role: auth.RoleApprover}
}

func codeOf(err error) errors.Code {
	if err == nil {
		return ""
	}
	return errors.CodeOf(err)
}

var errBoom = stderrors.New("boom")
