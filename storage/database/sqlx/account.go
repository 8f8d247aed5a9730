package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
)

const accountColumns = `id, name, username, email, external_subject, is_active, verified, roles,
password_hash, created_at, updated_at, last_login`

type accountRepository struct {
	db *sqlx.DB
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *sqlx.DB) *accountRepository {
	return &accountRepository{db: db}
}

// accountRow maps the account table; Roles needs a pq array wrapper.
type accountRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Username        string         `db:"username"`
	Email           null.String    `db:"email"`
	ExternalSubject null.String    `db:"external_subject"`
	IsActive        bool           `db:"is_active"`
	Verified        bool           `db:"verified"`
	Roles           pq.StringArray `db:"roles"`
	PasswordHash    []byte         `db:"password_hash"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	LastLogin       null.Time      `db:"last_login"`
}

func (repo accountRepository) pack(acct account.Account) accountRow {
	return accountRow{
		ID:              acct.ID,
		Name:            acct.Name,
		Username:        acct.Username,
		Email:           acct.Email,
		ExternalSubject: acct.ExternalSubject,
		IsActive:        acct.IsActive,
		Verified:        acct.Verified,
		Roles:           acct.Roles,
		PasswordHash:    acct.PasswordHash,
		CreatedAt:       acct.CreatedAt.UTC(),
		UpdatedAt:       acct.UpdatedAt.UTC(),
		LastLogin:       null.NewTime(acct.LastLogin.UTC(), !acct.LastLogin.IsZero()),
	}
}

func (repo accountRepository) unpack(row accountRow) account.Account {
	return account.Account{
		ID:              row.ID,
		Name:            row.Name,
		Username:        row.Username,
		Email:           row.Email,
		ExternalSubject: row.ExternalSubject,
		IsActive:        row.IsActive,
		Verified:        row.Verified,
		Roles:           row.Roles,
		PasswordHash:    row.PasswordHash,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		LastLogin:       row.LastLogin.Time,
	}
}

func (repo accountRepository) unpackSlice(rows []accountRow) []account.Account {
	accts := make([]account.Account, 0, len(rows))
	for _, row := range rows {
		accts = append(accts, repo.unpack(row))
	}
	return accts
}

// trapNoRowsErr maps psql "no rows" err to account.ErrNotFound
func (repo accountRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return account.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps psql unique violations to the matching sentinel error
func (repo accountRepository) trapUniqueErr(err error, msg string) error {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "account_username_key":
			return account.ErrUsernameExists
		case "account_email_key":
			return account.ErrEmailExists
		case "account_external_subject_key":
			return account.ErrSubjectExists
		}
	}
	return errors.Wrap(err, msg)
}

func (repo accountRepository) CheckUniqueness(ctx context.Context, username, email string, exclAccts ...account.Account) error {
	args := []interface{}{username}
	q := `SELECT username, email FROM account WHERE (username = $1`
	if email != "" {
		q += ` OR email = $2`
		args = append(args, email)
	}
	q += `)`
	if len(exclAccts) > 0 {
		ids := make([]string, 0, len(exclAccts))
		for _, a := range exclAccts {
			args = append(args, a.ID)
			ids = append(ids, "$"+strconv.Itoa(len(args)))
		}
		q += ` AND id NOT IN (` + strings.Join(ids, ",") + `)`
	}
	q += ` LIMIT 1`

	var row accountRow
	err := repo.db.GetContext(ctx, &row, q, args...)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "checking account uniqueness")
	}
	if row.Username == username {
		return account.ErrUsernameExists
	}
	return account.ErrEmailExists
}

func (repo accountRepository) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.ID = uuid.New().String()
	row := repo.pack(acct)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO account (`+accountColumns+`)
		VALUES (:id, :name, :username, :email, :external_subject, :is_active, :verified, :roles,
		        :password_hash, :created_at, :updated_at, :last_login)`, row)
	if err != nil {
		return account.Account{}, repo.trapUniqueErr(err, "inserting account")
	}
	return repo.unpack(row), nil
}

func (repo accountRepository) QueryAccounts(ctx context.Context, filter *account.QueryFilter, ordering []core.DBOrdering) ([]account.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM account`
	var clauses []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter != nil {
		// accounts with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			clauses = append(clauses, fmt.Sprintf("(name ILIKE %s OR username ILIKE %s OR email ILIKE %s)", p, p, p))
		}
		// accounts with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleClauses := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleClauses = append(roleClauses,
					fmt.Sprintf("EXISTS (SELECT 1 FROM UNNEST(roles) account_role WHERE account_role ILIKE %s)", arg(role+"%")))
			}
			clauses = append(clauses, "("+strings.Join(roleClauses, " OR ")+")")
		}
		if filter.IsActive != nil {
			clauses = append(clauses, "is_active = "+arg(*filter.IsActive))
		}
		if filter.Verified != nil {
			clauses = append(clauses, "verified = "+arg(*filter.Verified))
		}
		if !filter.CreatedFrom.IsZero() {
			clauses = append(clauses, "created_at >= "+arg(filter.CreatedFrom.UTC()))
		}
		if !filter.CreatedTo.IsZero() {
			clauses = append(clauses, "created_at <= "+arg(filter.CreatedTo.UTC()))
		}
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}

	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		q += " ORDER BY " + strings.Join(orderList, ", ")
	}

	var rows []accountRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying accounts")
	}
	return repo.unpackSlice(rows), nil
}

func (repo accountRepository) getWhere(ctx context.Context, clause, msg string, args ...interface{}) (account.Account, error) {
	var row accountRow
	q := `SELECT ` + accountColumns + ` FROM account WHERE ` + clause + ` LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return account.Account{}, repo.trapNoRowsErr(err, msg)
	}
	return repo.unpack(row), nil
}

func (repo accountRepository) GetAccountByID(ctx context.Context, id string) (account.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return account.Account{}, account.ErrNotFound
	}
	return repo.getWhere(ctx, "id = $1", "finding account by ID", id)
}

func (repo accountRepository) GetAccountByUsername(ctx context.Context, username string) (account.Account, error) {
	return repo.getWhere(ctx, "username = $1", "finding account by username", username)
}

func (repo accountRepository) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	return repo.getWhere(ctx, "email = $1", "finding account by email", email)
}

func (repo accountRepository) GetAccountByUsernameOrEmail(ctx context.Context, username string) (account.Account, error) {
	return repo.getWhere(ctx, "username = $1 OR email = $1", "finding account by username or email", username)
}

func (repo accountRepository) GetAccountBySubject(ctx context.Context, subject string) (account.Account, error) {
	return repo.getWhere(ctx, "external_subject = $1", "finding account by subject", subject)
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acct account.Account, isActive *bool) (account.Account, error) {
	var sets []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if acct.Name != "" {
		sets = append(sets, "name = "+arg(acct.Name))
	}
	if acct.Username != "" {
		sets = append(sets, "username = "+arg(acct.Username))
	}
	if acct.Email.Valid {
		sets = append(sets, "email = "+arg(acct.Email))
	}
	if acct.Roles != nil {
		sets = append(sets, "roles = "+arg(pq.StringArray(acct.Roles)))
	}
	if acct.PasswordHash != nil {
		sets = append(sets, "password_hash = "+arg(acct.PasswordHash))
	}
	if isActive != nil {
		sets = append(sets, "is_active = "+arg(*isActive))
	}
	sets = append(sets, "updated_at = "+arg(acct.UpdatedAt.UTC()))

	q := `UPDATE account SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + arg(acct.ID) +
		` RETURNING ` + accountColumns

	var row accountRow
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, repo.trapUniqueErr(err, "updating account")
	}
	return repo.unpack(row), nil
}

func (repo accountRepository) BindExternalSubject(ctx context.Context, id, subject, username string) (account.Account, error) {
	var row accountRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE account
		SET external_subject = $2, username = $3, updated_at = NOW()
		WHERE id = $1 AND (external_subject IS NULL OR external_subject = $2)
		RETURNING `+accountColumns, id, subject, username)
	if err == nil {
		return repo.unpack(row), nil
	}
	if err != sql.ErrNoRows {
		return account.Account{}, repo.trapUniqueErr(err, "binding external subject")
	}

	// no row matched: either the account is gone or a different subject is bound
	acct, getErr := repo.GetAccountByID(ctx, id)
	if getErr != nil {
		return account.Account{}, getErr
	}
	if acct.ExternalSubject.Valid && acct.ExternalSubject.String != subject {
		return account.Account{}, account.ErrConflictingSubject
	}
	return account.Account{}, errors.Wrap(err, "binding external subject")
}

func (repo accountRepository) SetVerified(ctx context.Context, id string, at time.Time) (account.Account, error) {
	var row accountRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE account SET verified = TRUE, updated_at = $2 WHERE id = $1
		RETURNING `+accountColumns, id, at.UTC())
	if err != nil {
		return account.Account{}, repo.trapNoRowsErr(err, "verifying account")
	}
	return repo.unpack(row), nil
}

func (repo accountRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE account SET last_login = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "setting last login")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return account.ErrNotFound
	}
	return nil
}
