package inmemdb

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/premiermti/shikkha/core/certificate"
)

type certificateRepository struct {
	mu    sync.RWMutex
	table map[string]*certificate.Certificate
}

var _ certificate.Repository = (*certificateRepository)(nil)

func NewCertificateRepository() *certificateRepository {
	return &certificateRepository{table: make(map[string]*certificate.Certificate)}
}

func (repo *certificateRepository) CreateCertificate(_ context.Context, cert certificate.Certificate) (certificate.Certificate, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, c := range repo.table {
		if c.StudentID == cert.StudentID && c.CourseID == cert.CourseID {
			return certificate.Certificate{}, certificate.ErrAlreadyIssued
		}
		if c.Number == cert.Number {
			return certificate.Certificate{}, certificate.ErrNumberTaken
		}
	}
	cert.ID = uuid.New().String()
	repo.table[cert.ID] = &cert
	return cert, nil
}

func (repo *certificateRepository) GetCertificate(_ context.Context, studentID, courseID string) (certificate.Certificate, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, c := range repo.table {
		if c.StudentID == studentID && c.CourseID == courseID {
			return *c, nil
		}
	}
	return certificate.Certificate{}, certificate.ErrNotFound
}

func (repo *certificateRepository) GetCertificateByNumber(_ context.Context, number string) (certificate.Certificate, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, c := range repo.table {
		if c.Number == number {
			return *c, nil
		}
	}
	return certificate.Certificate{}, certificate.ErrNotFound
}

func (repo *certificateRepository) QueryStudentCertificates(_ context.Context, studentID string) ([]certificate.Certificate, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var certs []certificate.Certificate
	for _, c := range repo.table {
		if c.StudentID == studentID {
			certs = append(certs, *c)
		}
	}
	return certs, nil
}
