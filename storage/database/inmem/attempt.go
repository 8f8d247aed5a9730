package inmemdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/premiermti/shikkha/core/exam"
)

type attemptRepository struct {
	mu    sync.RWMutex
	table map[string]*exam.Attempt
}

var _ exam.Repository = (*attemptRepository)(nil)

func NewAttemptRepository() *attemptRepository {
	return &attemptRepository{table: make(map[string]*exam.Attempt)}
}

func (repo *attemptRepository) CreateAttempt(_ context.Context, att exam.Attempt) (exam.Attempt, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, a := range repo.table {
		if a.StudentID == att.StudentID && a.ExamID == att.ExamID && a.IsInProgress() {
			return exam.Attempt{}, exam.ErrAlreadyInProgress
		}
	}
	att.ID = uuid.New().String()
	repo.table[att.ID] = &att
	return att, nil
}

func (repo *attemptRepository) GetAttemptByID(_ context.Context, id string) (exam.Attempt, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if att, ok := repo.table[id]; ok {
		return *att, nil
	}
	return exam.Attempt{}, exam.ErrNotFound
}

func (repo *attemptRepository) FinishAttempt(_ context.Context, att exam.Attempt) (exam.Attempt, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	cur, ok := repo.table[att.ID]
	if !ok {
		return exam.Attempt{}, exam.ErrNotFound
	}
	if !cur.IsInProgress() {
		return exam.Attempt{}, exam.ErrWrongState
	}
	repo.table[att.ID] = &att
	return att, nil
}

func (repo *attemptRepository) ExpireAttempt(_ context.Context, id string, asOf time.Time) (bool, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	att, ok := repo.table[id]
	if !ok || !att.IsInProgress() || !att.Overdue(asOf) {
		return false, nil
	}
	att.Status = exam.StatusExpired
	return true, nil
}

func (repo *attemptRepository) QueryOverdueAttempts(_ context.Context, asOf time.Time) ([]exam.Attempt, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var atts []exam.Attempt
	for _, att := range repo.table {
		if att.IsInProgress() && att.Overdue(asOf) {
			atts = append(atts, *att)
		}
	}
	sortAttempts(atts)
	return atts, nil
}

func (repo *attemptRepository) QueryStudentAttempts(_ context.Context, studentID, examID string) ([]exam.Attempt, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var atts []exam.Attempt
	for _, att := range repo.table {
		if att.StudentID == studentID && att.ExamID == examID {
			atts = append(atts, *att)
		}
	}
	sortAttempts(atts)
	return atts, nil
}

func sortAttempts(atts []exam.Attempt) {
	sort.Slice(atts, func(i, j int) bool { return atts[i].StartedAt.Before(atts[j].StartedAt) })
}
