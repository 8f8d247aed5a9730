package certificate

import (
	"context"

	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core/course"
	"github.com/premiermti/shikkha/core/exam"
)

// Eligibility determines whether a student qualifies for a course
// certificate. It is evaluated on demand against the current records, never
// cached as a stored flag, and is monotonic: once the qualifying records
// exist it stays true regardless of later (even failing) attempts.
type Eligibility struct {
	courses  course.Store
	attempts exam.Repository
}

func NewEligibility(courses course.Store, attempts exam.Repository) *Eligibility {
	return &Eligibility{courses: courses, attempts: attempts}
}

// IsEligible reports whether the student completed every module of the
// course and passed a submitted attempt on its final exam. An expired
// attempt never qualifies: it carries no score.
func (e *Eligibility) IsEligible(ctx context.Context, studentID, courseID string) (bool, error) {
	crs, err := e.courses.GetCourse(ctx, courseID)
	if err != nil {
		return false, errors.Wrap(err, "finding course")
	}

	modules, err := e.courses.GetModules(ctx, courseID)
	if err != nil {
		return false, errors.Wrap(err, "listing course modules")
	}
	completions, err := e.courses.GetCompletions(ctx, studentID, courseID)
	if err != nil {
		return false, errors.Wrap(err, "listing module completions")
	}

	completed := make(map[string]bool, len(completions))
	for _, c := range completions {
		completed[c.ModuleID] = true
	}
	for _, m := range modules {
		if !completed[m.ID] {
			return false, nil
		}
	}

	atts, err := e.attempts.QueryStudentAttempts(ctx, studentID, crs.FinalExamID)
	if err != nil {
		return false, errors.Wrap(err, "listing final exam attempts")
	}
	for _, att := range atts {
		if att.Status == exam.StatusSubmitted && att.Passed.Valid && att.Passed.Bool {
			return true, nil
		}
	}
	return false, nil
}
