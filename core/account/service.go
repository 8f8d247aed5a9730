package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNotFound           = errors.New("account not found")
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrUsernameExists     = errors.New("an account with this username already exists")
	ErrSubjectExists      = errors.New("an account with this external subject already exists")
	ErrConflictingSubject = errors.New("account is already bound to a different external identity")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when the
		// given values are taken by an account other than excludedAccounts.
		CheckUniqueness(ctx context.Context, username, email string, excludedAccounts ...Account) error
		// CreateAccount is an atomic insert-or-fail: unique constraints on
		// username, email and external_subject map to the matching sentinel error.
		CreateAccount(ctx context.Context, acct Account) (Account, error)
		QueryAccounts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		GetAccountByID(ctx context.Context, id string) (Account, error)
		GetAccountByUsername(ctx context.Context, username string) (Account, error)
		GetAccountByEmail(ctx context.Context, email string) (Account, error)
		GetAccountByUsernameOrEmail(ctx context.Context, username string) (Account, error)
		GetAccountBySubject(ctx context.Context, subject string) (Account, error)
		UpdateAccount(ctx context.Context, acct Account, isActive *bool) (Account, error)
		// BindExternalSubject is a one-time merge: it sets (subject, username)
		// on the account only while no subject is bound yet. A different subject
		// already bound returns ErrConflictingSubject; the subject being taken
		// by another account returns ErrSubjectExists.
		BindExternalSubject(ctx context.Context, id, subject, username string) (Account, error)
		SetVerified(ctx context.Context, id string, at time.Time) (Account, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) error
	}

	ServiceInterface interface {
		CheckUniqueness(username, email string, excludedAccounts ...Account) error
		Register(ctx context.Context, na NewAccount) (Account, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error)
		GetByID(ctx context.Context, id string) (Account, error)
		GetByUsername(ctx context.Context, username string) (Account, error)
		GetByEmail(ctx context.Context, email string) (Account, error)
		GetByUsernameOrEmail(ctx context.Context, username string) (Account, error)
		Update(ctx context.Context, id string, ua UpdateAccount) (Account, error)
		Verify(ctx context.Context, id string) (Account, error)
		Reconcile(ctx context.Context, claim Claim) (Outcome, error)
		SetLastLogin(ctx context.Context, acct Account) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetAccountPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

var _ ServiceInterface = (*service)(nil) // interface compliance check

func NewService(repo Repository, mailSvc core.EmailService) ServiceInterface {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
	}
}

func (svc *service) CheckUniqueness(uname, email string, exclAccts ...Account) error {
	if err := svc.repo.CheckUniqueness(context.Background(), uname, email, exclAccts...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Register creates a directly-registered account. It stays unverified until
// an admin approves it; a confirmation email is sent right away.
func (svc *service) Register(ctx context.Context, na NewAccount) (Account, error) {
	now := nowFunc().UTC()
	roles := na.Roles
	if len(roles) == 0 {
		roles = StudentRoles
	}
	acct := Account{
		Name:      na.Name,
		Username:  na.Username,
		Email:     null.NewString(na.Email, na.Email != ""),
		IsActive:  true,
		Verified:  false,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := acct.SetPassword(na.Password); err != nil {
		return Account{}, err
	}

	acct, err := svc.repo.CreateAccount(ctx, acct)
	if err != nil {
		return Account{}, err
	}
	svc.sendMail(svc.registrationMail(acct))
	return acct, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Account, error) {
	return svc.repo.QueryAccounts(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetAccountByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (Account, error) {
	return svc.repo.GetAccountByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByEmail(ctx context.Context, email string) (Account, error) {
	return svc.repo.GetAccountByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (Account, error) {
	return svc.repo.GetAccountByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) Update(ctx context.Context, id string, ua UpdateAccount) (Account, error) {
	acct := Account{
		ID:        id,
		Name:      ua.Name,
		Username:  ua.Username,
		Email:     null.NewString(ua.Email, ua.Email != ""),
		Roles:     ua.Roles,
		UpdatedAt: nowFunc().UTC(),
	}
	if ua.Password != "" {
		if err := acct.SetPassword(ua.Password); err != nil {
			return Account{}, err
		}
	}
	return svc.repo.UpdateAccount(ctx, acct, ua.IsActive)
}

// Verify marks an account approved by an admin, unlocking login.
func (svc *service) Verify(ctx context.Context, id string) (Account, error) {
	acct, err := svc.repo.SetVerified(ctx, id, nowFunc().UTC())
	if err != nil {
		return Account{}, err
	}
	svc.sendMail(svc.verifiedMail(acct))
	return acct, nil
}

func (svc *service) SetLastLogin(ctx context.Context, acct Account) error {
	return svc.repo.SetLastLogin(ctx, acct.ID, nowFunc().UTC())
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(acct)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetAccountPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	acct, err := svc.repo.GetAccountByID(ctx, uid)
	if err != nil {
		if pkgerrors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err = verifyToken(acct, rp.Token); err != nil {
		return core.NewValidationError(err)
	}

	if err = acct.SetPassword(rp.Password); err != nil {
		return err
	}
	acct.UpdatedAt = nowFunc().UTC()
	if _, err = svc.repo.UpdateAccount(ctx, acct, nil); err != nil {
		return err
	}
	go svc.sendPasswordChangedMail(acct)
	return nil
}

// Mails

func (svc *service) sendMail(msg *core.EmailMessage) {
	if msg == nil {
		return
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *service) addr(acct Account) mail.Address {
	return mail.Address{Name: acct.Name, Address: acct.Email.String}
}

func (svc *service) registrationMail(acct Account) *core.EmailMessage {
	if !acct.Email.Valid {
		return nil
	}
	return &core.EmailMessage{
		To:      []mail.Address{svc.addr(acct)},
		Subject: fmt.Sprintf("Welcome to %s", core.Conf.AppName),
		BodyStr: "Your registration has been received. " +
			"You will be able to log in once an administrator approves your account.",
	}
}

func (svc *service) verifiedMail(acct Account) *core.EmailMessage {
	if !acct.Email.Valid {
		return nil
	}
	return &core.EmailMessage{
		To:      []mail.Address{svc.addr(acct)},
		Subject: fmt.Sprintf("Your %s account has been approved", core.Conf.AppName),
		BodyStr: "An administrator has approved your account. You can now log in.",
	}
}

func (svc *service) profileCompletionMail(acct Account) *core.EmailMessage {
	if !acct.Email.Valid {
		return nil
	}
	return &core.EmailMessage{
		To:           []mail.Address{svc.addr(acct)},
		Subject:      fmt.Sprintf("Complete your %s profile", core.Conf.AppName),
		TemplateName: "profile-completion",
		TemplateData: struct{ Account Account }{acct},
	}
}

func (svc *service) sendPasswordResetMail(acct Account) {
	if !acct.Email.Valid {
		return
	}
	svc.sendMail(&core.EmailMessage{
		To:           []mail.Address{svc.addr(acct)},
		Subject:      fmt.Sprintf("Password reset on %s", core.Conf.AppName),
		TemplateName: "password-reset",
		TemplateData: struct {
			Account Account
			UID     string
			Token   string
		}{acct, EncodeUID(acct), MakeToken(acct)},
	})
}

func (svc *service) sendPasswordChangedMail(acct Account) {
	if !acct.Email.Valid {
		return
	}
	svc.sendMail(&core.EmailMessage{
		To:      []mail.Address{svc.addr(acct)},
		Subject: fmt.Sprintf("Your %s password was changed", core.Conf.AppName),
		BodyStr: "Your password has been changed. If this was not you, reset it immediately.",
	})
}
