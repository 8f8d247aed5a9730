package certificate

import (
	"context"
	"errors"
	"time"
)

var (
	// errors
	ErrNotFound      = errors.New("certificate not found")
	ErrNotEligible   = errors.New("student is not eligible for a certificate on this course")
	ErrAlreadyIssued = errors.New("a certificate was already issued for this student and course")
	ErrNumberTaken   = errors.New("certificate number is already taken")
)

type (
	Certificate struct {
		ID        string    `json:"id"`
		Number    string    `json:"number"` // globally unique
		StudentID string    `json:"student_id"`
		CourseID  string    `json:"course_id"`
		IssuedAt  time.Time `json:"issued_at"` // UTC
	}

	Repository interface {
		// CreateCertificate is an atomic insert-or-fail: the unique constraint
		// on (student, course) maps to ErrAlreadyIssued and the unique
		// constraint on number maps to ErrNumberTaken.
		CreateCertificate(ctx context.Context, cert Certificate) (Certificate, error)
		GetCertificate(ctx context.Context, studentID, courseID string) (Certificate, error)
		GetCertificateByNumber(ctx context.Context, number string) (Certificate, error)
		QueryStudentCertificates(ctx context.Context, studentID string) ([]Certificate, error)
	}
)
