package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
)

// addAccount updates or creates an account. Accounts created here are
// verified right away; this is the bootstrap path for the first admin.
func (cli *commandLine) addAccount(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	now := time.Now().UTC()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	acct, err := cli.acctRepo.GetAccountByUsernameOrEmail(ctx, lookup)
	if err != nil {
		if errors.Cause(err) != account.ErrNotFound {
			return err
		}
		acct = account.Account{
			Username:  uname,
			Email:     null.NewString(email, email != ""),
			IsActive:  true,
			Verified:  true,
			Roles:     account.StudentRoles,
			CreatedAt: now,
		}
		if isAdmin {
			acct.Roles = account.AllRoles
		}
		if err = acct.SetPassword(pwd); err != nil {
			return err
		}
		acct.UpdatedAt = now
		_, err = cli.acctRepo.CreateAccount(ctx, acct)
		return err
	}

	if isAdmin {
		acct.Roles = account.AllRoles
	}
	if err = acct.SetPassword(pwd); err != nil {
		return err
	}
	acct.UpdatedAt = now
	isActive := true
	if _, err = cli.acctRepo.UpdateAccount(ctx, acct, &isActive); err != nil {
		return err
	}
	if !acct.Verified {
		_, err = cli.acctRepo.SetVerified(ctx, acct.ID, now)
	}
	return err
}
