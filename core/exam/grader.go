package exam

import (
	"errors"

	"github.com/volatiletech/null/v8"
)

var ErrInvalidExam = errors.New("exam has no gradable weight")

type (
	// QuestionResult is one row of the per-question review breakdown,
	// in the exam's question order.
	QuestionResult struct {
		QuestionID  string   `json:"question_id"`
		Selected    null.Int `json:"selected"` // absent when unanswered
		Correct     []int    `json:"correct"`
		WasCorrect  bool     `json:"was_correct"`
		Explanation string   `json:"explanation,omitempty"`
	}

	Result struct {
		Score     int              `json:"score"` // percent, rounded half-up
		Passed    bool             `json:"passed"`
		Breakdown []QuestionResult `json:"breakdown"`
	}
)

// Grade computes the score and per-question breakdown of `answers` against
// the exam's answer key. It is pure and deterministic: the same
// (exam, key, answers) always yields the same Result. Unanswered questions
// count as incorrect.
func Grade(ex Exam, key Key, answers Answers) (Result, error) {
	var total, awarded int
	breakdown := make([]QuestionResult, 0, len(ex.Questions))

	for _, q := range ex.Questions {
		entry, ok := key[q.ID]
		if !ok {
			entry = KeyEntry{Correct: q.Correct, Weight: q.Weight}
		}
		if entry.Weight == 0 {
			entry.Weight = 1
		}
		total += entry.Weight

		res := QuestionResult{
			QuestionID:  q.ID,
			Correct:     entry.Correct,
			Explanation: q.Explanation,
		}
		if sel, answered := answers[q.ID]; answered {
			res.Selected = null.IntFrom(sel)
			res.WasCorrect = containsInt(entry.Correct, sel)
		}
		if res.WasCorrect {
			awarded += entry.Weight
		}
		breakdown = append(breakdown, res)
	}

	if total == 0 {
		return Result{}, ErrInvalidExam
	}

	score := roundPercent(awarded, total)
	return Result{
		Score:     score,
		Passed:    score >= ex.PassPercent,
		Breakdown: breakdown,
	}, nil
}

// roundPercent returns 100*awarded/total rounded half-up, in integer math.
func roundPercent(awarded, total int) int {
	return (200*awarded + total) / (2 * total)
}

func containsInt(s []int, v int) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
