package exam

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeRepo implements Repository in memory with the same compare-and-set
// semantics the database repository provides.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	attempts map[string]Attempt
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{attempts: make(map[string]Attempt)}
}

var _ Repository = (*fakeRepo)(nil)

func (r *fakeRepo) CreateAttempt(_ context.Context, att Attempt) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.StudentID == att.StudentID && a.ExamID == att.ExamID && a.IsInProgress() {
			return Attempt{}, ErrAlreadyInProgress
		}
	}
	r.seq++
	att.ID = "att" + strconv.Itoa(r.seq)
	r.attempts[att.ID] = att
	return att, nil
}

func (r *fakeRepo) GetAttemptByID(_ context.Context, id string) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.attempts[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return att, nil
}

func (r *fakeRepo) FinishAttempt(_ context.Context, att Attempt) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.attempts[att.ID]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	if !cur.IsInProgress() {
		return Attempt{}, ErrWrongState
	}
	r.attempts[att.ID] = att
	return att, nil
}

func (r *fakeRepo) ExpireAttempt(_ context.Context, id string, asOf time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.attempts[id]
	if !ok || !att.IsInProgress() || !att.Overdue(asOf) {
		return false, nil
	}
	att.Status = StatusExpired
	r.attempts[id] = att
	return true, nil
}

func (r *fakeRepo) QueryOverdueAttempts(_ context.Context, asOf time.Time) ([]Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var atts []Attempt
	for _, att := range r.attempts {
		if att.IsInProgress() && att.Overdue(asOf) {
			atts = append(atts, att)
		}
	}
	return atts, nil
}

func (r *fakeRepo) QueryStudentAttempts(_ context.Context, studentID, examID string) ([]Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var atts []Attempt
	for _, att := range r.attempts {
		if att.StudentID == studentID && att.ExamID == examID {
			atts = append(atts, att)
		}
	}
	return atts, nil
}

type fakeBank struct {
	exams map[string]Exam
}

var _ QuestionBank = (*fakeBank)(nil)

func (b *fakeBank) GetExam(_ context.Context, id string) (Exam, error) {
	ex, ok := b.exams[id]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	return ex, nil
}

func (b *fakeBank) GetAnswerKey(_ context.Context, examID string) (Key, error) {
	ex, ok := b.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	return ex.AnswerKey(), nil
}

func testExam() Exam {
	return Exam{
		ID:           "ex1",
		CourseID:     "c1",
		Title:        "Anatomy Final",
		DurationMins: 30,
		PassPercent:  70,
		Questions: []Question{
			{ID: "q1", Correct: []int{0}, Weight: 1},
			{ID: "q2", Correct: []int{1}, Weight: 1},
			{ID: "q3", Correct: []int{2}, Weight: 1},
			{ID: "q4", Correct: []int{0}, Weight: 1},
		},
	}
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	bank := &fakeBank{exams: map[string]Exam{"ex1": testExam()}}
	return NewService(repo, bank), repo
}

func setNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = orig })
}

func TestServiceStart(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	att, err := svc.Start(ctx, "std1", "ex1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if att.Status != StatusInProgress {
		t.Errorf("Status = %s; want %s", att.Status, StatusInProgress)
	}
	if !att.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v; want %v", att.StartedAt, t0)
	}
	if want := t0.Add(30 * time.Minute); !att.Deadline.Equal(want) {
		t.Errorf("Deadline = %v; want %v", att.Deadline, want)
	}

	// a second start for the same (student, exam) fails
	if _, err = svc.Start(ctx, "std1", "ex1"); err != ErrAlreadyInProgress {
		t.Errorf("second Start() err = %v; want ErrAlreadyInProgress", err)
	}

	// another student is unaffected
	if _, err = svc.Start(ctx, "std2", "ex1"); err != nil {
		t.Errorf("Start() for another student failed: %v", err)
	}

	// unknown exam
	if _, err = svc.Start(ctx, "std1", "nope"); err != ErrExamNotFound {
		t.Errorf("Start() err = %v; want ErrExamNotFound", err)
	}
}

func TestServiceSubmit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	att, err := svc.Start(ctx, "std1", "ex1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// submit 10 min in; 3 of 4 correct
	setNow(t, t0.Add(10*time.Minute))
	answers := Answers{"q1": 0, "q2": 1, "q3": 2, "q4": 1}
	att, res, err := svc.Submit(ctx, att.ID, answers)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if att.Status != StatusSubmitted {
		t.Errorf("Status = %s; want %s", att.Status, StatusSubmitted)
	}
	if res.Score != 75 || !res.Passed {
		t.Errorf("Result = (%d, %v); want (75, true)", res.Score, res.Passed)
	}
	if !att.Score.Valid || att.Score.Int != 75 {
		t.Errorf("persisted Score = %+v; want 75", att.Score)
	}
	if !att.Passed.Valid || !att.Passed.Bool {
		t.Errorf("persisted Passed = %+v; want true", att.Passed)
	}
	if !att.SubmittedAt.Valid || !att.SubmittedAt.Time.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("SubmittedAt = %+v; want %v", att.SubmittedAt, t0.Add(10*time.Minute))
	}

	// a terminal attempt cannot be re-submitted
	if _, _, err = svc.Submit(ctx, att.ID, answers); err != ErrWrongState {
		t.Errorf("re-Submit() err = %v; want ErrWrongState", err)
	}

	// unknown attempt
	if _, _, err = svc.Submit(ctx, "nope", answers); err != ErrNotFound {
		t.Errorf("Submit() err = %v; want ErrNotFound", err)
	}
}

func TestServiceSubmit_pastDeadline(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	att, err := svc.Start(ctx, "std1", "ex1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// 31 min into a 30 min exam: attempt expires, answers are discarded
	setNow(t, t0.Add(31*time.Minute))
	if _, _, err = svc.Submit(ctx, att.ID, Answers{"q1": 0}); err != ErrExpired {
		t.Fatalf("Submit() err = %v; want ErrExpired", err)
	}

	got, err := repo.GetAttemptByID(ctx, att.ID)
	if err != nil {
		t.Fatalf("GetAttemptByID() failed: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Status = %s; want %s", got.Status, StatusExpired)
	}
	if got.Score.Valid {
		t.Errorf("Score = %+v; want absent (expired, not graded zero)", got.Score)
	}
	if got.Answers != nil {
		t.Errorf("Answers = %v; want discarded", got.Answers)
	}

	// submitting again keeps reporting the deadline
	if _, _, err = svc.Submit(ctx, att.ID, Answers{"q1": 0}); err != ErrExpired {
		t.Errorf("Submit() on expired attempt err = %v; want ErrExpired", err)
	}
}

func TestServiceGet_reapsDefensively(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	att, err := svc.Start(ctx, "std1", "ex1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// still in progress right at the deadline
	setNow(t, t0.Add(30*time.Minute))
	got, err := svc.Get(ctx, att.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("Status = %s; want %s (deadline not yet passed)", got.Status, StatusInProgress)
	}

	// observed as expired once overdue, without waiting for the sweeper
	setNow(t, t0.Add(30*time.Minute+time.Second))
	got, err = svc.Get(ctx, att.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Status = %s; want %s", got.Status, StatusExpired)
	}

	// the reap does not mask why a late submission is rejected
	if _, _, err = svc.Submit(ctx, att.ID, Answers{"q1": 0}); err != ErrExpired {
		t.Errorf("Submit() after reaping Get() err = %v; want ErrExpired", err)
	}
}

func TestServiceReap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	att, err := svc.Start(ctx, "std1", "ex1")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// not overdue: no-op
	done, err := svc.Reap(ctx, att.ID)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if done {
		t.Error("Reap() transitioned an attempt before its deadline")
	}

	setNow(t, t0.Add(31*time.Minute))
	if done, err = svc.Reap(ctx, att.ID); err != nil || !done {
		t.Fatalf("Reap() = (%v, %v); want (true, nil)", done, err)
	}

	// idempotent: a second reap is a harmless no-op
	if done, err = svc.Reap(ctx, att.ID); err != nil || done {
		t.Errorf("second Reap() = (%v, %v); want (false, nil)", done, err)
	}
}

func TestServiceSweepExpired(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	t0 := time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)
	setNow(t, t0)

	if _, err := svc.Start(ctx, "std1", "ex1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := svc.Start(ctx, "std2", "ex1"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// one student submits in time
	setNow(t, t0.Add(20*time.Minute))
	atts, err := svc.QueryStudentAttempts(ctx, "std1", "ex1")
	if err != nil || len(atts) != 1 {
		t.Fatalf("QueryStudentAttempts() = (%v, %v)", atts, err)
	}
	if _, _, err = svc.Submit(ctx, atts[0].ID, Answers{"q1": 0, "q2": 1, "q3": 2, "q4": 0}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	setNow(t, t0.Add(31*time.Minute))
	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("SweepExpired() = %d; want 1 (submitted attempts are untouched)", n)
	}

	// stateless: a repeated sweep finds nothing left to do
	if n, err = svc.SweepExpired(ctx); err != nil || n != 0 {
		t.Errorf("second SweepExpired() = (%d, %v); want (0, nil)", n, err)
	}
}
