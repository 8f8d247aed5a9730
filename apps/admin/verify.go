package main

import (
	"context"
	"time"

	"github.com/premiermti/shikkha/core"
)

func (cli *commandLine) verify(uname string) error {
	ctx := context.Background()
	acct, err := cli.acctRepo.GetAccountByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		return err
	}
	_, err = cli.acctRepo.SetVerified(ctx, acct.ID, time.Now().UTC())
	return err
}
