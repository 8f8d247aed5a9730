package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
)

// Reconciliation outcomes
const (
	OutcomeLoggedIn            = "logged_in"
	OutcomePendingVerification = "pending_verification"
	OutcomeNeedsProfile        = "needs_profile"
)

type (
	// Claim is a federated identity assertion already verified upstream;
	// transport-level token verification never happens here.
	Claim struct {
		Email           string `json:"email" validate:"required,email"`
		ExternalSubject string `json:"external_subject" validate:"required"`
		DisplayName     string `json:"display_name"`
	}

	Outcome struct {
		Kind    string  `json:"kind"`
		Account Account `json:"account"`
	}
)

func (c *Claim) Validate() error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	c.ExternalSubject = core.CleanString(c.ExternalSubject)
	c.DisplayName = core.CleanString(c.DisplayName)
	return core.Validate.Struct(c)
}

// reconciliation actions, decided purely from the claim and lookup results
const (
	actionLogin = iota
	actionMerge
	actionCreate
)

// decide resolves a claim against the subject and email lookup results.
// It is a pure function; all storage effects happen in Service.Reconcile.
func decide(claim Claim, bySubject, byEmail *Account) (int, error) {
	if bySubject != nil {
		return actionLogin, nil
	}
	if byEmail != nil {
		if byEmail.ExternalSubject.Valid && byEmail.ExternalSubject.String != claim.ExternalSubject {
			return 0, ErrConflictingSubject
		}
		return actionMerge, nil
	}
	return actionCreate, nil
}

// DerivedUsername is the stable username assigned to federated accounts,
// derived from the external subject only so repeated merges are idempotent.
func DerivedUsername(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return "fed_" + hex.EncodeToString(sum[:])[:12]
}

// Reconcile resolves a verified federated identity claim to a local account:
// match by external subject, merge into a directly-registered account with
// the same email, or create a new provisional account. Uniqueness of email
// and external subject is guarded by storage constraints, never by locks.
func (svc *service) Reconcile(ctx context.Context, claim Claim) (Outcome, error) {
	// one retry: losing an insert or bind race means the winning row now
	// exists, so a second resolution pass must succeed
	for i := 0; i < 2; i++ {
		outcome, err := svc.reconcile(ctx, claim)
		if errors.Cause(err) == errReconcileRace {
			continue
		}
		return outcome, err
	}
	return Outcome{}, errors.New("reconciliation did not settle")
}

var errReconcileRace = errors.New("lost a reconciliation race")

func (svc *service) reconcile(ctx context.Context, claim Claim) (Outcome, error) {
	var bySubject, byEmail *Account

	if acct, err := svc.repo.GetAccountBySubject(ctx, claim.ExternalSubject); err == nil {
		bySubject = &acct
	} else if errors.Cause(err) != ErrNotFound {
		return Outcome{}, errors.Wrap(err, "finding account by subject")
	}
	if bySubject == nil {
		if acct, err := svc.repo.GetAccountByEmail(ctx, claim.Email); err == nil {
			byEmail = &acct
		} else if errors.Cause(err) != ErrNotFound {
			return Outcome{}, errors.Wrap(err, "finding account by email")
		}
	}

	action, err := decide(claim, bySubject, byEmail)
	if err != nil {
		return Outcome{}, err
	}

	switch action {
	case actionLogin:
		return loginOutcome(*bySubject), nil

	case actionMerge:
		acct, err := svc.repo.BindExternalSubject(ctx, byEmail.ID, claim.ExternalSubject, DerivedUsername(claim.ExternalSubject))
		switch errors.Cause(err) {
		case nil:
			return loginOutcome(acct), nil
		case ErrSubjectExists:
			// the subject got bound elsewhere meanwhile
			return Outcome{}, errReconcileRace
		case ErrConflictingSubject:
			return Outcome{}, ErrConflictingSubject
		default:
			return Outcome{}, errors.Wrap(err, "binding external subject")
		}

	default: // actionCreate
		now := nowFunc().UTC()
		acct := Account{
			Name:            claim.DisplayName,
			Username:        DerivedUsername(claim.ExternalSubject),
			Email:           null.StringFrom(claim.Email),
			ExternalSubject: null.StringFrom(claim.ExternalSubject),
			IsActive:        true,
			Verified:        false,
			Roles:           StudentRoles,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		acct, err := svc.repo.CreateAccount(ctx, acct)
		switch errors.Cause(err) {
		case nil:
			svc.sendMail(svc.profileCompletionMail(acct))
			return Outcome{Kind: OutcomeNeedsProfile, Account: acct}, nil
		case ErrEmailExists, ErrSubjectExists:
			return Outcome{}, errReconcileRace
		default:
			return Outcome{}, errors.Wrap(err, "creating federated account")
		}
	}
}

// loginOutcome downgrades a successful match to PendingVerification while
// the account awaits admin approval; reconciliation success is not login.
func loginOutcome(acct Account) Outcome {
	if !acct.CanLogin() {
		return Outcome{Kind: OutcomePendingVerification, Account: acct}
	}
	return Outcome{Kind: OutcomeLoggedIn, Account: acct}
}
