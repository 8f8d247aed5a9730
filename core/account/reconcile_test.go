package account

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
)

// fakeRepo implements Repository in memory with the same uniqueness
// semantics the database repository provides.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]Account
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: make(map[string]Account)}
}

var _ Repository = (*fakeRepo)(nil)

func (r *fakeRepo) CheckUniqueness(_ context.Context, username, email string, excluded ...Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	skip := make(map[string]bool, len(excluded))
	for _, a := range excluded {
		skip[a.ID] = true
	}
	for _, a := range r.accounts {
		if skip[a.ID] {
			continue
		}
		if username != "" && a.Username == username {
			return ErrUsernameExists
		}
		if email != "" && a.Email.Valid && a.Email.String == email {
			return ErrEmailExists
		}
	}
	return nil
}

func (r *fakeRepo) CreateAccount(_ context.Context, acct Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if acct.Username != "" && a.Username == acct.Username {
			return Account{}, ErrUsernameExists
		}
		if acct.Email.Valid && a.Email.Valid && a.Email.String == acct.Email.String {
			return Account{}, ErrEmailExists
		}
		if acct.ExternalSubject.Valid && a.ExternalSubject.Valid && a.ExternalSubject.String == acct.ExternalSubject.String {
			return Account{}, ErrSubjectExists
		}
	}
	r.seq++
	acct.ID = "acct" + strconv.Itoa(r.seq)
	r.accounts[acct.ID] = acct
	return acct, nil
}

func (r *fakeRepo) QueryAccounts(_ context.Context, _ *QueryFilter, _ []core.DBOrdering) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	accts := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		accts = append(accts, a)
	}
	return accts, nil
}

func (r *fakeRepo) GetAccountByID(_ context.Context, id string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		return a, nil
	}
	return Account{}, ErrNotFound
}

func (r *fakeRepo) GetAccountByUsername(_ context.Context, username string) (Account, error) {
	return r.find(func(a Account) bool { return a.Username == username })
}

func (r *fakeRepo) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	return r.find(func(a Account) bool { return a.Email.Valid && a.Email.String == email })
}

func (r *fakeRepo) GetAccountByUsernameOrEmail(_ context.Context, username string) (Account, error) {
	return r.find(func(a Account) bool {
		return a.Username == username || (a.Email.Valid && a.Email.String == username)
	})
}

func (r *fakeRepo) GetAccountBySubject(_ context.Context, subject string) (Account, error) {
	return r.find(func(a Account) bool { return a.ExternalSubject.Valid && a.ExternalSubject.String == subject })
}

func (r *fakeRepo) find(match func(Account) bool) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if match(a) {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *fakeRepo) UpdateAccount(_ context.Context, acct Account, isActive *bool) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[acct.ID]
	if !ok {
		return Account{}, ErrNotFound
	}
	if acct.Name != "" {
		cur.Name = acct.Name
	}
	if acct.Username != "" {
		cur.Username = acct.Username
	}
	if acct.Email.Valid {
		cur.Email = acct.Email
	}
	if acct.Roles != nil {
		cur.Roles = acct.Roles
	}
	if acct.PasswordHash != nil {
		cur.PasswordHash = acct.PasswordHash
	}
	if isActive != nil {
		cur.IsActive = *isActive
	}
	cur.UpdatedAt = acct.UpdatedAt
	r.accounts[cur.ID] = cur
	return cur, nil
}

func (r *fakeRepo) BindExternalSubject(_ context.Context, id, subject, username string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if cur.ExternalSubject.Valid {
		if cur.ExternalSubject.String == subject {
			return cur, nil
		}
		return Account{}, ErrConflictingSubject
	}
	for _, a := range r.accounts {
		if a.ID != id && a.ExternalSubject.Valid && a.ExternalSubject.String == subject {
			return Account{}, ErrSubjectExists
		}
	}
	cur.ExternalSubject = null.StringFrom(subject)
	cur.Username = username
	r.accounts[id] = cur
	return cur, nil
}

func (r *fakeRepo) SetVerified(_ context.Context, id string, at time.Time) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	cur.Verified = true
	cur.UpdatedAt = at
	r.accounts[id] = cur
	return cur, nil
}

func (r *fakeRepo) SetLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	cur.LastLogin = at
	r.accounts[id] = cur
	return nil
}

// fakeMailSvc records sent messages.
type fakeMailSvc struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
}

var _ core.EmailService = (*fakeMailSvc)(nil)

func (svc *fakeMailSvc) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.sent = append(svc.sent, messages...)
}

func newTestService() (ServiceInterface, *fakeRepo) {
	if core.Conf == nil {
		core.Conf = &core.Config{AppName: "Shikkha Test", SecretKey: []byte("secret"), TestMode: true}
	}
	repo := newFakeRepo()
	return NewServiceMock(repo, &fakeMailSvc{}), repo
}

func registered(t *testing.T, repo *fakeRepo, name, username, email string, verified bool) Account {
	t.Helper()
	acct := Account{
		Name:     name,
		Username: username,
		Email:    null.NewString(email, email != ""),
		IsActive: true,
		Verified: verified,
		Roles:    StudentRoles,
	}
	_ = acct.SetPassword("S3cure!pwd")
	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	return acct
}

func TestServiceReconcile_matchBySubject(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	acct := registered(t, repo, "Rahim Uddin", "rahim1", "rahim@test.test", true)
	if _, err := repo.BindExternalSubject(ctx, acct.ID, "google|123", acct.Username); err != nil {
		t.Fatalf("BindExternalSubject() failed: %v", err)
	}

	out, err := svc.Reconcile(ctx, Claim{Email: "rahim@test.test", ExternalSubject: "google|123"})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if out.Kind != OutcomeLoggedIn {
		t.Errorf("Kind = %s; want %s", out.Kind, OutcomeLoggedIn)
	}
	if out.Account.ID != acct.ID {
		t.Errorf("Account.ID = %s; want %s", out.Account.ID, acct.ID)
	}
}

func TestServiceReconcile_mergeByEmail(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// directly-registered, not yet admin-approved
	acct := registered(t, repo, "Karima Begum", "karima1", "karima@test.test", false)

	claim := Claim{Email: "karima@test.test", ExternalSubject: "google|456", DisplayName: "Karima B"}
	out, err := svc.Reconcile(ctx, claim)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if out.Kind != OutcomePendingVerification {
		t.Errorf("Kind = %s; want %s (merged but unverified)", out.Kind, OutcomePendingVerification)
	}
	if out.Account.ID != acct.ID {
		t.Errorf("Account.ID = %s; want %s (merged, not created)", out.Account.ID, acct.ID)
	}
	if !out.Account.ExternalSubject.Valid || out.Account.ExternalSubject.String != "google|456" {
		t.Errorf("ExternalSubject = %+v; want google|456", out.Account.ExternalSubject)
	}
	if want := DerivedUsername("google|456"); out.Account.Username != want {
		t.Errorf("Username = %s; want %s (rewritten on merge)", out.Account.Username, want)
	}

	// the merge is idempotent
	again, err := svc.Reconcile(ctx, claim)
	if err != nil {
		t.Fatalf("second Reconcile() failed: %v", err)
	}
	if again.Account.ID != acct.ID || again.Kind != OutcomePendingVerification {
		t.Errorf("second Reconcile() = (%s, %s); want (%s, %s)",
			again.Account.ID, again.Kind, acct.ID, OutcomePendingVerification)
	}
}

func TestServiceReconcile_conflictingSubject(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	acct := registered(t, repo, "Joy Das", "joydas1", "joy@test.test", true)
	if _, err := repo.BindExternalSubject(ctx, acct.ID, "google|111", acct.Username); err != nil {
		t.Fatalf("BindExternalSubject() failed: %v", err)
	}

	// same email, different provider subject
	_, err := svc.Reconcile(ctx, Claim{Email: "joy@test.test", ExternalSubject: "facebook|999"})
	if err != ErrConflictingSubject {
		t.Errorf("Reconcile() err = %v; want ErrConflictingSubject", err)
	}
}

func TestServiceReconcile_createNew(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	claim := Claim{Email: "new@test.test", ExternalSubject: "google|777", DisplayName: "New Student"}
	out, err := svc.Reconcile(ctx, claim)
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if out.Kind != OutcomeNeedsProfile {
		t.Errorf("Kind = %s; want %s", out.Kind, OutcomeNeedsProfile)
	}
	acct := out.Account
	if acct.Verified {
		t.Error("Verified = true; want false (awaits admin approval)")
	}
	if !acct.IsStudent() {
		t.Errorf("Roles = %v; want student", acct.Roles)
	}
	if acct.Username != DerivedUsername("google|777") {
		t.Errorf("Username = %s; want derived from subject", acct.Username)
	}

	// reconciling the same claim again logs into the created account
	again, err := svc.Reconcile(ctx, claim)
	if err != nil {
		t.Fatalf("second Reconcile() failed: %v", err)
	}
	if again.Kind != OutcomePendingVerification || again.Account.ID != acct.ID {
		t.Errorf("second Reconcile() = (%s, %s); want (%s, %s)",
			again.Kind, again.Account.ID, OutcomePendingVerification, acct.ID)
	}

	got, err := repo.GetAccountBySubject(ctx, "google|777")
	if err != nil {
		t.Fatalf("GetAccountBySubject() failed: %v", err)
	}
	if got.ID != acct.ID {
		t.Errorf("a duplicate account was created: %s != %s", got.ID, acct.ID)
	}
}

func TestDecide(t *testing.T) {
	claim := Claim{Email: "a@test.test", ExternalSubject: "google|1"}
	bound := Account{ID: "x", ExternalSubject: null.StringFrom("google|1")}
	other := Account{ID: "y", ExternalSubject: null.StringFrom("google|2")}
	plain := Account{ID: "z"}

	tests := []struct {
		name       string
		bySubject  *Account
		byEmail    *Account
		wantAction int
		wantErr    error
	}{
		{name: "subject match wins", bySubject: &bound, byEmail: &plain, wantAction: actionLogin},
		{name: "email match merges", byEmail: &plain, wantAction: actionMerge},
		{name: "email bound elsewhere conflicts", byEmail: &other, wantErr: ErrConflictingSubject},
		{name: "email bound to same subject merges", byEmail: &bound, wantAction: actionMerge},
		{name: "no match creates", wantAction: actionCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := decide(claim, tt.bySubject, tt.byEmail)
			if err != tt.wantErr {
				t.Fatalf("decide() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && action != tt.wantAction {
				t.Errorf("decide() = %d; want %d", action, tt.wantAction)
			}
		})
	}
}
