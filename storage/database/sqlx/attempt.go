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

	"github.com/premiermti/shikkha/core/exam"
)

const attemptColumns = `id, student_id, exam_id, status, started_at, deadline, submitted_at, answers, score, passed`

type attemptRepository struct {
	db *sqlx.DB
}

var _ exam.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *sqlx.DB) *attemptRepository {
	return &attemptRepository{db: db}
}

type attemptRow struct {
	ID          string       `db:"id"`
	StudentID   string       `db:"student_id"`
	ExamID      string       `db:"exam_id"`
	Status      string       `db:"status"`
	StartedAt   time.Time    `db:"started_at"`
	Deadline    time.Time    `db:"deadline"`
	SubmittedAt null.Time    `db:"submitted_at"`
	Answers     exam.Answers `db:"answers"`
	Score       null.Int     `db:"score"`
	Passed      null.Bool    `db:"passed"`
}

func (repo attemptRepository) pack(att exam.Attempt) attemptRow {
	return attemptRow{
		ID:          att.ID,
		StudentID:   att.StudentID,
		ExamID:      att.ExamID,
		Status:      att.Status,
		StartedAt:   att.StartedAt.UTC(),
		Deadline:    att.Deadline.UTC(),
		SubmittedAt: att.SubmittedAt,
		Answers:     att.Answers,
		Score:       att.Score,
		Passed:      att.Passed,
	}
}

func (repo attemptRepository) unpack(row attemptRow) exam.Attempt {
	return exam.Attempt{
		ID:          row.ID,
		StudentID:   row.StudentID,
		ExamID:      row.ExamID,
		Status:      row.Status,
		StartedAt:   row.StartedAt,
		Deadline:    row.Deadline,
		SubmittedAt: row.SubmittedAt,
		Answers:     row.Answers,
		Score:       row.Score,
		Passed:      row.Passed,
	}
}

func (repo attemptRepository) unpackSlice(rows []attemptRow) []exam.Attempt {
	atts := make([]exam.Attempt, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, repo.unpack(row))
	}
	return atts
}

// trapNoRowsErr maps psql "no rows" err to exam.ErrNotFound
func (repo attemptRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return exam.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo attemptRepository) CreateAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	att.ID = uuid.New().String()
	row := repo.pack(att)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attempt (`+attemptColumns+`)
		VALUES (:id, :student_id, :exam_id, :status, :started_at, :deadline, :submitted_at, :answers, :score, :passed)`, row)
	if err != nil {
		// the partial-unique index rejects a second in-progress attempt
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == "23505" && pqErr.Constraint == "attempt_in_progress_key" {
			return exam.Attempt{}, exam.ErrAlreadyInProgress
		}
		return exam.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return repo.unpack(row), nil
}

func (repo attemptRepository) GetAttemptByID(ctx context.Context, id string) (exam.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return exam.Attempt{}, exam.ErrNotFound
	}
	var row attemptRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+attemptColumns+` FROM attempt WHERE id = $1`, id)
	if err != nil {
		return exam.Attempt{}, repo.trapNoRowsErr(err, "finding attempt by ID")
	}
	return repo.unpack(row), nil
}

func (repo attemptRepository) FinishAttempt(ctx context.Context, att exam.Attempt) (exam.Attempt, error) {
	row := repo.pack(att)
	var updated attemptRow
	err := repo.db.GetContext(ctx, &updated, `
		UPDATE attempt
		SET status = $2, submitted_at = $3, answers = $4, score = $5, passed = $6
		WHERE id = $1 AND status = '`+exam.StatusInProgress+`'
		RETURNING `+attemptColumns,
		row.ID, row.Status, row.SubmittedAt, row.Answers, row.Score, row.Passed)
	if err == nil {
		return repo.unpack(updated), nil
	}
	if err != sql.ErrNoRows {
		return exam.Attempt{}, errors.Wrap(err, "finishing attempt")
	}

	// no row matched: the attempt is gone or already terminal
	if _, getErr := repo.GetAttemptByID(ctx, att.ID); getErr != nil {
		return exam.Attempt{}, getErr
	}
	return exam.Attempt{}, exam.ErrWrongState
}

func (repo attemptRepository) ExpireAttempt(ctx context.Context, id string, asOf time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := repo.db.ExecContext(ctx, `
		UPDATE attempt
		SET status = '`+exam.StatusExpired+`'
		WHERE id = $1 AND status = '`+exam.StatusInProgress+`' AND deadline < $2`, id, asOf.UTC())
	if err != nil {
		return false, errors.Wrap(err, "expiring attempt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "expiring attempt")
	}
	return n > 0, nil
}

func (repo attemptRepository) QueryOverdueAttempts(ctx context.Context, asOf time.Time) ([]exam.Attempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+` FROM attempt
		WHERE status = '`+exam.StatusInProgress+`' AND deadline < $1
		ORDER BY deadline`, asOf.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "querying overdue attempts")
	}
	return repo.unpackSlice(rows), nil
}

func (repo attemptRepository) QueryStudentAttempts(ctx context.Context, studentID, examID string) ([]exam.Attempt, error) {
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+attemptColumns+` FROM attempt
		WHERE student_id = $1 AND exam_id = $2
		ORDER BY started_at`, studentID, examID)
	if err != nil {
		return nil, errors.Wrap(err, "querying student attempts")
	}
	return repo.unpackSlice(rows), nil
}
