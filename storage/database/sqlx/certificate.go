package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core/certificate"
)

const certificateColumns = `id, number, student_id, course_id, issued_at`

type certificateRepository struct {
	db *sqlx.DB
}

var _ certificate.Repository = (*certificateRepository)(nil) // interface compliance check

func NewCertificateRepository(db *sqlx.DB) *certificateRepository {
	return &certificateRepository{db: db}
}

type certificateRow struct {
	ID        string    `db:"id"`
	Number    string    `db:"number"`
	StudentID string    `db:"student_id"`
	CourseID  string    `db:"course_id"`
	IssuedAt  time.Time `db:"issued_at"`
}

func (repo certificateRepository) unpack(row certificateRow) certificate.Certificate {
	return certificate.Certificate(row)
}

// trapNoRowsErr maps psql "no rows" err to certificate.ErrNotFound
func (repo certificateRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return certificate.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo certificateRepository) CreateCertificate(ctx context.Context, cert certificate.Certificate) (certificate.Certificate, error) {
	cert.ID = uuid.New().String()
	cert.IssuedAt = cert.IssuedAt.UTC()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO certificate (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5)`,
		cert.ID, cert.Number, cert.StudentID, cert.CourseID, cert.IssuedAt)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "certificate_student_course_key":
				return certificate.Certificate{}, certificate.ErrAlreadyIssued
			case "certificate_number_key":
				return certificate.Certificate{}, certificate.ErrNumberTaken
			}
		}
		return certificate.Certificate{}, errors.Wrap(err, "inserting certificate")
	}
	return cert, nil
}

func (repo certificateRepository) GetCertificate(ctx context.Context, studentID, courseID string) (certificate.Certificate, error) {
	var row certificateRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT `+certificateColumns+` FROM certificate
		WHERE student_id = $1 AND course_id = $2`, studentID, courseID)
	if err != nil {
		return certificate.Certificate{}, repo.trapNoRowsErr(err, "finding certificate")
	}
	return repo.unpack(row), nil
}

func (repo certificateRepository) GetCertificateByNumber(ctx context.Context, number string) (certificate.Certificate, error) {
	var row certificateRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT `+certificateColumns+` FROM certificate WHERE number = $1`, number)
	if err != nil {
		return certificate.Certificate{}, repo.trapNoRowsErr(err, "finding certificate by number")
	}
	return repo.unpack(row), nil
}

func (repo certificateRepository) QueryStudentCertificates(ctx context.Context, studentID string) ([]certificate.Certificate, error) {
	var rows []certificateRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+certificateColumns+` FROM certificate
		WHERE student_id = $1 ORDER BY issued_at`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying student certificates")
	}
	certs := make([]certificate.Certificate, 0, len(rows))
	for _, row := range rows {
		certs = append(certs, repo.unpack(row))
	}
	return certs, nil
}
