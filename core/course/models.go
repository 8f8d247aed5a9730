package course

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("course not found")

type (
	Course struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		FinalExamID string `json:"final_exam_id"`
	}

	Module struct {
		ID       string `json:"id"`
		CourseID string `json:"course_id"`
		Title    string `json:"title"`
		Position int    `json:"position"`
	}

	// ModuleCompletion records that a student finished viewing a module.
	// Written by the module-viewing flow; consumed read-only here.
	ModuleCompletion struct {
		StudentID   string    `json:"student_id"`
		ModuleID    string    `json:"module_id"`
		CompletedAt time.Time `json:"completed_at"` // UTC
	}

	// Store supplies course records; read-only to this core.
	Store interface {
		GetCourse(ctx context.Context, id string) (Course, error)
		GetModules(ctx context.Context, courseID string) ([]Module, error)
		GetCompletions(ctx context.Context, studentID, courseID string) ([]ModuleCompletion, error)
	}
)
