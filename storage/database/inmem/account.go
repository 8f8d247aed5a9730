package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
)

type accountRepository struct {
	mu    sync.RWMutex
	table map[string]*account.Account
}

var _ account.Repository = (*accountRepository)(nil)

func NewAccountRepository() *accountRepository {
	return &accountRepository{table: make(map[string]*account.Account)}
}

func (repo *accountRepository) query() []account.Account {
	accts := make([]account.Account, 0, len(repo.table))
	for _, a := range repo.table {
		accts = append(accts, *a)
	}
	sort.Slice(accts, func(i, j int) bool { return accts[i].CreatedAt.Before(accts[j].CreatedAt) })
	return accts
}

func (repo *accountRepository) CheckUniqueness(_ context.Context, username, email string, exclAccts ...account.Account) error {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	excluded := make(map[string]bool, len(exclAccts))
	for _, a := range exclAccts {
		excluded[a.ID] = true
	}
	for _, acct := range repo.query() {
		if excluded[acct.ID] {
			continue
		}
		if username != "" && acct.Username == username {
			return account.ErrUsernameExists
		}
		if email != "" && acct.Email.Valid && acct.Email.String == email {
			return account.ErrEmailExists
		}
	}
	return nil
}

func (repo *accountRepository) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, a := range repo.table {
		if acct.Username != "" && a.Username == acct.Username {
			return account.Account{}, account.ErrUsernameExists
		}
		if acct.Email.Valid && a.Email.Valid && a.Email.String == acct.Email.String {
			return account.Account{}, account.ErrEmailExists
		}
		if acct.ExternalSubject.Valid && a.ExternalSubject.Valid && a.ExternalSubject.String == acct.ExternalSubject.String {
			return account.Account{}, account.ErrSubjectExists
		}
	}
	acct.ID = uuid.New().String()
	repo.table[acct.ID] = &acct
	return acct, nil
}

func (repo *accountRepository) QueryAccounts(_ context.Context, filter *account.QueryFilter, _ []core.DBOrdering) ([]account.Account, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	accts := repo.query()
	if filter == nil || filter.IsEmpty() {
		return accts, nil
	}

	matched := make([]account.Account, 0, len(accts))
	for _, acct := range accts {
		if filter.Search != "" {
			s := strings.ToLower(filter.Search)
			if !(strings.Contains(strings.ToLower(acct.Name), s) ||
				strings.Contains(strings.ToLower(acct.Username), s) ||
				strings.Contains(strings.ToLower(acct.Email.String), s)) {
				continue
			}
		}
		if len(filter.Roles) > 0 && !anyRoleStartsWith(acct, filter.Roles) {
			continue
		}
		if filter.IsActive != nil && acct.IsActive != *filter.IsActive {
			continue
		}
		if filter.Verified != nil && acct.Verified != *filter.Verified {
			continue
		}
		if !filter.CreatedFrom.IsZero() && acct.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && acct.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		matched = append(matched, acct)
	}
	return matched, nil
}

func anyRoleStartsWith(acct account.Account, prefixes []string) bool {
	for _, prefix := range prefixes {
		if acct.RoleStartsWith(prefix) {
			return true
		}
	}
	return false
}

func (repo *accountRepository) GetAccountByID(_ context.Context, id string) (account.Account, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if acct, ok := repo.table[id]; ok {
		return *acct, nil
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *accountRepository) find(match func(account.Account) bool) (account.Account, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, acct := range repo.query() {
		if match(acct) {
			return acct, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *accountRepository) GetAccountByUsername(_ context.Context, username string) (account.Account, error) {
	return repo.find(func(a account.Account) bool { return a.Username == username })
}

func (repo *accountRepository) GetAccountByEmail(_ context.Context, email string) (account.Account, error) {
	return repo.find(func(a account.Account) bool { return a.Email.Valid && a.Email.String == email })
}

func (repo *accountRepository) GetAccountByUsernameOrEmail(_ context.Context, username string) (account.Account, error) {
	return repo.find(func(a account.Account) bool {
		return a.Username == username || (a.Email.Valid && a.Email.String == username)
	})
}

func (repo *accountRepository) GetAccountBySubject(_ context.Context, subject string) (account.Account, error) {
	return repo.find(func(a account.Account) bool {
		return a.ExternalSubject.Valid && a.ExternalSubject.String == subject
	})
}

func (repo *accountRepository) UpdateAccount(_ context.Context, acct account.Account, isActive *bool) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cur, ok := repo.table[acct.ID]
	if !ok {
		return account.Account{}, account.ErrNotFound
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
	return *cur, nil
}

func (repo *accountRepository) BindExternalSubject(_ context.Context, id, subject, username string) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cur, ok := repo.table[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	if cur.ExternalSubject.Valid {
		if cur.ExternalSubject.String == subject {
			return *cur, nil
		}
		return account.Account{}, account.ErrConflictingSubject
	}
	for _, a := range repo.table {
		if a.ID != id && a.ExternalSubject.Valid && a.ExternalSubject.String == subject {
			return account.Account{}, account.ErrSubjectExists
		}
	}
	cur.ExternalSubject = null.StringFrom(subject)
	cur.Username = username
	return *cur, nil
}

func (repo *accountRepository) SetVerified(_ context.Context, id string, at time.Time) (account.Account, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cur, ok := repo.table[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	cur.Verified = true
	cur.UpdatedAt = at
	return *cur, nil
}

func (repo *accountRepository) SetLastLogin(_ context.Context, id string, at time.Time) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cur, ok := repo.table[id]
	if !ok {
		return account.ErrNotFound
	}
	cur.LastLogin = at
	return nil
}
