package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/premiermti/shikkha/core/course"
	"github.com/premiermti/shikkha/core/exam"
)

// CourseStore doubles as the course record store and the question bank.
// Records are seeded directly by tests.
type CourseStore struct {
	mu          sync.RWMutex
	courses     map[string]course.Course
	modules     map[string][]course.Module // by course ID
	completions []course.ModuleCompletion
	exams       map[string]exam.Exam
}

var (
	_ course.Store      = (*CourseStore)(nil)
	_ exam.QuestionBank = (*CourseStore)(nil)
)

func NewCourseStore() *CourseStore {
	return &CourseStore{
		courses: make(map[string]course.Course),
		modules: make(map[string][]course.Module),
		exams:   make(map[string]exam.Exam),
	}
}

// Seeding helpers

func (s *CourseStore) AddCourse(crs course.Course, modules ...course.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[crs.ID] = crs
	s.modules[crs.ID] = append(s.modules[crs.ID], modules...)
}

func (s *CourseStore) AddExam(ex exam.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[ex.ID] = ex
}

func (s *CourseStore) AddCompletion(completion course.ModuleCompletion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, completion)
}

// course.Store

func (s *CourseStore) GetCourse(_ context.Context, id string) (course.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if crs, ok := s.courses[id]; ok {
		return crs, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (s *CourseStore) GetModules(_ context.Context, courseID string) ([]course.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	modules := append([]course.Module(nil), s.modules[courseID]...)
	sort.Slice(modules, func(i, j int) bool { return modules[i].Position < modules[j].Position })
	return modules, nil
}

func (s *CourseStore) GetCompletions(_ context.Context, studentID, courseID string) ([]course.ModuleCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inCourse := make(map[string]bool)
	for _, m := range s.modules[courseID] {
		inCourse[m.ID] = true
	}

	var completions []course.ModuleCompletion
	for _, c := range s.completions {
		if c.StudentID == studentID && inCourse[c.ModuleID] {
			completions = append(completions, c)
		}
	}
	return completions, nil
}

// exam.QuestionBank

func (s *CourseStore) GetExam(_ context.Context, id string) (exam.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ex, ok := s.exams[id]; ok {
		return ex, nil
	}
	return exam.Exam{}, exam.ErrExamNotFound
}

func (s *CourseStore) GetAnswerKey(_ context.Context, examID string) (exam.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.exams[examID]
	if !ok {
		return nil, exam.ErrExamNotFound
	}
	return ex.AnswerKey(), nil
}
