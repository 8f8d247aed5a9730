package exam

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// Attempt statuses
const (
	StatusInProgress = "in_progress"
	StatusSubmitted  = "submitted"
	StatusExpired    = "expired"
)

type (
	Exam struct {
		ID           string     `json:"id"`
		CourseID     string     `json:"course_id"`
		Title        string     `json:"title"`
		DurationMins int        `json:"duration_mins"`
		PassPercent  int        `json:"pass_percent"`
		Questions    []Question `json:"questions"` // ordered
	}

	Question struct {
		ID          string   `json:"id"`
		Prompt      string   `json:"prompt"`
		Options     []string `json:"options"` // ordered
		Correct     []int    `json:"-"`       // indices into Options
		Explanation string   `json:"explanation,omitempty"`
		Weight      int      `json:"weight"` // default 1
	}

	// KeyEntry is the grading key for one question.
	KeyEntry struct {
		Correct []int
		Weight  int
	}

	// Key maps question IDs to their grading keys.
	Key map[string]KeyEntry

	// Answers maps question IDs to the selected option index.
	Answers map[string]int

	Attempt struct {
		ID          string    `json:"id"`
		StudentID   string    `json:"student_id"`
		ExamID      string    `json:"exam_id"`
		Status      string    `json:"status"`
		StartedAt   time.Time `json:"started_at"` // UTC
		Deadline    time.Time `json:"deadline"`   // UTC; alone governs expiry
		SubmittedAt null.Time `json:"submitted_at"`
		Answers     Answers   `json:"answers,omitempty"`
		Score       null.Int  `json:"score"`  // percent; absent until graded
		Passed      null.Bool `json:"passed"` // absent until graded
	}
)

func (a Attempt) IsInProgress() bool { return a.Status == StatusInProgress }

// Overdue reports whether the attempt deadline has passed at `t`.
func (a Attempt) Overdue(t time.Time) bool { return t.After(a.Deadline) }

// AnswerKey derives the grading Key from the exam's question set.
func (ex Exam) AnswerKey() Key {
	key := make(Key, len(ex.Questions))
	for _, q := range ex.Questions {
		w := q.Weight
		if w == 0 {
			w = 1
		}
		key[q.ID] = KeyEntry{Correct: q.Correct, Weight: w}
	}
	return key
}

// Value implements driver.Valuer; Answers are stored as JSONB.
func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Answers) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return errors.Errorf("exam: cannot scan %T into Answers", src)
	}
	return json.Unmarshal(data, a)
}
