package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core/account"
)

func CreateAccount(
	t *testing.T,
	repo account.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive, verified bool,
	createdAt ...time.Time,
) account.Account {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acct := account.Account{
		Name:      name,
		Username:  uname,
		Email:     null.NewString(email, email != ""),
		Roles:     roles,
		IsActive:  isActive,
		Verified:  verified,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := acct.SetPassword(pwd); err != nil {
			t.Fatalf("CreateAccount() failed: %v", err)
		}
	}
	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	return acct
}
