package certificate

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
)

var nowFunc = time.Now // mockable

// AccountDirectory resolves student accounts for notification emails.
type AccountDirectory interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
}

// Issuer allocates certificate records. Rendering of the printable artifact
// is delegated to an external renderer consuming the persisted record; the
// Issuer only guarantees the record exists and is unique.
type Issuer struct {
	repo     Repository
	elig     *Eligibility
	accounts AccountDirectory
	mailSvc  core.EmailService
}

func NewIssuer(repo Repository, elig *Eligibility, accounts AccountDirectory, mailSvc core.EmailService) *Issuer {
	return &Issuer{
		repo:     repo,
		elig:     elig,
		accounts: accounts,
		mailSvc:  mailSvc,
	}
}

// Issue creates the certificate for a (student, course) pair, or returns the
// existing one: duplicate triggers are tolerated as idempotent successes.
// The uniqueness of the pair and of the number are guarded by storage
// constraints, so concurrent issuers cannot create duplicates.
func (iss *Issuer) Issue(ctx context.Context, studentID, courseID string) (Certificate, error) {
	if cert, err := iss.repo.GetCertificate(ctx, studentID, courseID); err == nil {
		return cert, nil
	} else if errors.Cause(err) != ErrNotFound {
		return Certificate{}, errors.Wrap(err, "finding existing certificate")
	}

	ok, err := iss.elig.IsEligible(ctx, studentID, courseID)
	if err != nil {
		return Certificate{}, errors.Wrap(err, "evaluating eligibility")
	}
	if !ok {
		return Certificate{}, ErrNotEligible
	}

	now := nowFunc().UTC()
	for {
		cert := Certificate{
			Number:    NewNumber(now.Year()),
			StudentID: studentID,
			CourseID:  courseID,
			IssuedAt:  now,
		}
		cert, err = iss.repo.CreateCertificate(ctx, cert)
		switch errors.Cause(err) {
		case nil:
			iss.sendIssuedMail(ctx, cert)
			return cert, nil
		case ErrNumberTaken:
			// number collision: roll a new one
			continue
		case ErrAlreadyIssued:
			// a concurrent issuer won; return its record
			return iss.repo.GetCertificate(ctx, studentID, courseID)
		default:
			return Certificate{}, errors.Wrap(err, "creating certificate")
		}
	}
}

// NewNumber returns a fresh candidate certificate number. Global uniqueness
// is guaranteed by the storage constraint, not by this generator.
func NewNumber(year int) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("NCC-%d-%s", year, token)
}

func (iss *Issuer) sendIssuedMail(ctx context.Context, cert Certificate) {
	acct, err := iss.accounts.GetByID(ctx, cert.StudentID)
	if err != nil || !acct.Email.Valid {
		return
	}
	iss.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: acct.Name, Address: acct.Email.String}},
		Subject: fmt.Sprintf("Your %s certificate %s", core.Conf.AppName, cert.Number),
		BodyStr: fmt.Sprintf("Congratulations! Certificate %s was issued to you on %s.",
			cert.Number, cert.IssuedAt.Format("2 January 2006")),
	})
}
