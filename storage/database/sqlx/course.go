package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/premiermti/shikkha/core/course"
	"github.com/premiermti/shikkha/core/exam"
)

// courseStore is the read-only course record store.
type courseStore struct {
	db *sqlx.DB
}

var _ course.Store = (*courseStore)(nil) // interface compliance check

func NewCourseStore(db *sqlx.DB) *courseStore {
	return &courseStore{db: db}
}

type courseRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	FinalExamID null.String `db:"final_exam_id"`
}

func (repo courseStore) GetCourse(ctx context.Context, id string) (course.Course, error) {
	if _, err := uuid.Parse(id); err != nil {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	err := repo.db.GetContext(ctx, &row, `SELECT id, title, final_exam_id FROM course WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return course.Course{ID: row.ID, Title: row.Title, FinalExamID: row.FinalExamID.String}, nil
}

func (repo courseStore) GetModules(ctx context.Context, courseID string) ([]course.Module, error) {
	var rows []struct {
		ID       string `db:"id"`
		CourseID string `db:"course_id"`
		Title    string `db:"title"`
		Position int    `db:"position"`
	}
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT id, course_id, title, position FROM course_module
		WHERE course_id = $1 ORDER BY position`, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "listing course modules")
	}
	modules := make([]course.Module, 0, len(rows))
	for _, row := range rows {
		modules = append(modules, course.Module(row))
	}
	return modules, nil
}

func (repo courseStore) GetCompletions(ctx context.Context, studentID, courseID string) ([]course.ModuleCompletion, error) {
	var rows []struct {
		StudentID   string    `db:"student_id"`
		ModuleID    string    `db:"module_id"`
		CompletedAt time.Time `db:"completed_at"`
	}
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT mc.student_id, mc.module_id, mc.completed_at
		FROM module_completion mc
		JOIN course_module cm ON cm.id = mc.module_id
		WHERE mc.student_id = $1 AND cm.course_id = $2`, studentID, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "listing module completions")
	}
	completions := make([]course.ModuleCompletion, 0, len(rows))
	for _, row := range rows {
		completions = append(completions, course.ModuleCompletion(row))
	}
	return completions, nil
}

// questionBank serves immutable exam and answer-key records.
type questionBank struct {
	db *sqlx.DB
}

var _ exam.QuestionBank = (*questionBank)(nil) // interface compliance check

func NewQuestionBank(db *sqlx.DB) *questionBank {
	return &questionBank{db: db}
}

type questionRow struct {
	ID          string         `db:"id"`
	Prompt      string         `db:"prompt"`
	Options     pq.StringArray `db:"options"`
	Correct     pq.Int64Array  `db:"correct"`
	Explanation string         `db:"explanation"`
	Weight      int            `db:"weight"`
}

func (row questionRow) correctInts() []int {
	correct := make([]int, 0, len(row.Correct))
	for _, c := range row.Correct {
		correct = append(correct, int(c))
	}
	return correct
}

func (repo questionBank) GetExam(ctx context.Context, id string) (exam.Exam, error) {
	if _, err := uuid.Parse(id); err != nil {
		return exam.Exam{}, exam.ErrExamNotFound
	}
	var row struct {
		ID           string `db:"id"`
		CourseID     string `db:"course_id"`
		Title        string `db:"title"`
		DurationMins int    `db:"duration_mins"`
		PassPercent  int    `db:"pass_percent"`
	}
	err := repo.db.GetContext(ctx, &row, `
		SELECT id, course_id, title, duration_mins, pass_percent FROM exam WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return exam.Exam{}, exam.ErrExamNotFound
		}
		return exam.Exam{}, errors.Wrap(err, "finding exam")
	}

	questions, err := repo.getQuestions(ctx, id)
	if err != nil {
		return exam.Exam{}, err
	}
	return exam.Exam{
		ID:           row.ID,
		CourseID:     row.CourseID,
		Title:        row.Title,
		DurationMins: row.DurationMins,
		PassPercent:  row.PassPercent,
		Questions:    questions,
	}, nil
}

func (repo questionBank) getQuestions(ctx context.Context, examID string) ([]exam.Question, error) {
	var rows []questionRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT id, prompt, options, correct, explanation, weight FROM exam_question
		WHERE exam_id = $1 ORDER BY position`, examID)
	if err != nil {
		return nil, errors.Wrap(err, "listing exam questions")
	}
	questions := make([]exam.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, exam.Question{
			ID:          row.ID,
			Prompt:      row.Prompt,
			Options:     row.Options,
			Correct:     row.correctInts(),
			Explanation: row.Explanation,
			Weight:      row.Weight,
		})
	}
	return questions, nil
}

func (repo questionBank) GetAnswerKey(ctx context.Context, examID string) (exam.Key, error) {
	var rows []struct {
		ID      string        `db:"id"`
		Correct pq.Int64Array `db:"correct"`
		Weight  int           `db:"weight"`
	}
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT id, correct, weight FROM exam_question WHERE exam_id = $1`, examID)
	if err != nil {
		return nil, errors.Wrap(err, "listing answer key")
	}
	key := make(exam.Key, len(rows))
	for _, row := range rows {
		correct := make([]int, 0, len(row.Correct))
		for _, c := range row.Correct {
			correct = append(correct, int(c))
		}
		key[row.ID] = exam.KeyEntry{Correct: correct, Weight: row.Weight}
	}
	return key, nil
}
