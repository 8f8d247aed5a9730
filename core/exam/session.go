package exam

import (
	"context"
	"errors"
	"time"

	"github.com/volatiletech/null/v8"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrNotFound          = errors.New("attempt not found")
	ErrExamNotFound      = errors.New("exam not found")
	ErrAlreadyInProgress = errors.New("an attempt is already in progress for this exam")
	ErrWrongState        = errors.New("attempt is not in progress")
	ErrExpired           = errors.New("attempt deadline has passed")
)

type (
	// QuestionBank supplies immutable exam and answer-key records; read-only.
	QuestionBank interface {
		GetExam(ctx context.Context, id string) (Exam, error)
		GetAnswerKey(ctx context.Context, examID string) (Key, error)
	}

	Repository interface {
		// CreateAttempt durably inserts a new in-progress attempt.
		// The storage layer enforces "at most one in-progress attempt per
		// (student, exam)" with a partial-unique constraint and returns
		// ErrAlreadyInProgress on violation.
		CreateAttempt(ctx context.Context, att Attempt) (Attempt, error)
		GetAttemptByID(ctx context.Context, id string) (Attempt, error)
		// FinishAttempt atomically moves an in-progress attempt to its
		// terminal submitted state, persisting answers, submitted_at and the
		// grade. Returns ErrWrongState if the attempt was no longer in progress.
		FinishAttempt(ctx context.Context, att Attempt) (Attempt, error)
		// ExpireAttempt is a compare-and-set in_progress -> expired, applied
		// only when the deadline has passed at `asOf`. It reports whether this
		// call performed the transition; false with a nil error means another
		// caller got there first or the attempt is not overdue.
		ExpireAttempt(ctx context.Context, id string, asOf time.Time) (bool, error)
		QueryOverdueAttempts(ctx context.Context, asOf time.Time) ([]Attempt, error)
		QueryStudentAttempts(ctx context.Context, studentID, examID string) ([]Attempt, error)
	}

	Service struct {
		repo Repository
		bank QuestionBank
	}
)

func NewService(repo Repository, bank QuestionBank) *Service {
	return &Service{repo: repo, bank: bank}
}

// Start opens a new timed attempt on an exam. The deadline is fixed at
// started_at + duration and stored; no in-memory timer state is kept.
func (svc *Service) Start(ctx context.Context, studentID, examID string) (Attempt, error) {
	ex, err := svc.bank.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}

	now := nowFunc().UTC()
	att := Attempt{
		StudentID: studentID,
		ExamID:    ex.ID,
		Status:    StatusInProgress,
		StartedAt: now,
		Deadline:  now.Add(time.Duration(ex.DurationMins) * time.Minute),
	}
	return svc.repo.CreateAttempt(ctx, att)
}

// Submit closes an in-progress attempt with the student's answers and grades
// it synchronously. A submission past the deadline expires the attempt
// instead: the answers are discarded and no score is recorded.
func (svc *Service) Submit(ctx context.Context, attemptID string, answers Answers) (Attempt, Result, error) {
	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return Attempt{}, Result{}, err
	}
	if !att.IsInProgress() {
		// an attempt reaped before this call still reports the deadline,
		// not a generic state error
		if att.Status == StatusExpired {
			return Attempt{}, Result{}, ErrExpired
		}
		return Attempt{}, Result{}, ErrWrongState
	}

	now := nowFunc().UTC()
	if att.Overdue(now) {
		if _, err = svc.repo.ExpireAttempt(ctx, att.ID, now); err != nil {
			return Attempt{}, Result{}, err
		}
		return Attempt{}, Result{}, ErrExpired
	}

	ex, err := svc.bank.GetExam(ctx, att.ExamID)
	if err != nil {
		return Attempt{}, Result{}, err
	}
	key, err := svc.bank.GetAnswerKey(ctx, att.ExamID)
	if err != nil {
		return Attempt{}, Result{}, err
	}
	res, err := Grade(ex, key, answers)
	if err != nil {
		return Attempt{}, Result{}, err
	}

	att.Status = StatusSubmitted
	att.Answers = answers
	att.SubmittedAt = null.TimeFrom(now)
	att.Score = null.IntFrom(res.Score)
	att.Passed = null.BoolFrom(res.Passed)

	att, err = svc.repo.FinishAttempt(ctx, att)
	if err != nil {
		return Attempt{}, Result{}, err
	}
	return att, res, nil
}

// Get returns an attempt, reaping it first if its deadline has passed. A
// client polling an overdue attempt therefore always observes it as expired.
func (svc *Service) Get(ctx context.Context, attemptID string) (Attempt, error) {
	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}

	now := nowFunc().UTC()
	if att.IsInProgress() && att.Overdue(now) {
		if _, err = svc.repo.ExpireAttempt(ctx, att.ID, now); err != nil {
			return Attempt{}, err
		}
		return svc.repo.GetAttemptByID(ctx, attemptID)
	}
	return att, nil
}

// Reap expires an overdue in-progress attempt. Idempotent and safe to call
// concurrently: the transition is a single compare-and-set on status.
func (svc *Service) Reap(ctx context.Context, attemptID string) (bool, error) {
	return svc.repo.ExpireAttempt(ctx, attemptID, nowFunc().UTC())
}

// SweepExpired reaps every overdue in-progress attempt, returning the number
// of attempts expired by this call. Losing a reap race to another caller is
// not an error.
func (svc *Service) SweepExpired(ctx context.Context) (int, error) {
	now := nowFunc().UTC()
	atts, err := svc.repo.QueryOverdueAttempts(ctx, now)
	if err != nil {
		return 0, err
	}

	var reaped int
	for _, att := range atts {
		done, err := svc.repo.ExpireAttempt(ctx, att.ID, now)
		if err != nil {
			return reaped, err
		}
		if done {
			reaped++
		}
	}
	return reaped, nil
}

// QueryStudentAttempts returns a student's attempt history on an exam.
func (svc *Service) QueryStudentAttempts(ctx context.Context, studentID, examID string) ([]Attempt, error) {
	return svc.repo.QueryStudentAttempts(ctx, studentID, examID)
}
