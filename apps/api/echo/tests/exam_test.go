package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/premiermti/shikkha/core/account"
	"github.com/premiermti/shikkha/core/exam"
	"github.com/premiermti/shikkha/tests"
)

func seedExam(t *testing.T, id string) exam.Exam {
	t.Helper()
	ex := exam.Exam{
		ID:           id,
		CourseID:     "crs1",
		Title:        "Final Exam",
		DurationMins: 30,
		PassPercent:  75,
		Questions: []exam.Question{
			{ID: "q1", Prompt: "1+1?", Options: []string{"1", "2"}, Correct: []int{1}},
			{ID: "q2", Prompt: "2+2?", Options: []string{"4", "5"}, Correct: []int{0}},
			{ID: "q3", Prompt: "3+3?", Options: []string{"6", "7"}, Correct: []int{0}},
			{ID: "q4", Prompt: "4+4?", Options: []string{"8", "9"}, Correct: []int{0}},
		},
	}
	records.AddExam(ex)
	return ex
}

func decodeAttempt(t *testing.T, body []byte) exam.Attempt {
	t.Helper()
	var att exam.Attempt
	if err := json.Unmarshal(body, &att); err != nil {
		t.Fatalf("unmarshalling attempt: %v", err)
	}
	return att
}

func Test_examApi_startAttempt(t *testing.T) {
	app := setup(t)
	seedExam(t, "ex1")

	student := testutil.CreateAccount(t, acctRepo, "Student", "student1", "student@test.cd", "", []string{account.RoleStudent}, true, true)
	token := getToken(t, student)

	t.Run("Auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/exams/ex1/attempts")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("Unknown exam", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/exams/nope/attempts", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: exam.ErrExamNotFound.Error()}),
		}, rec)
	})

	t.Run("Start opens a timed attempt", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/exams/ex1/attempts", token)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusCreated, rec.Body.String())
		}
		att := decodeAttempt(t, rec.Body.Bytes())
		if att.Status != exam.StatusInProgress {
			t.Errorf("status = %q; want %q", att.Status, exam.StatusInProgress)
		}
		if want := att.StartedAt.Add(30 * time.Minute); !att.Deadline.Equal(want) {
			t.Errorf("deadline = %v; want %v", att.Deadline, want)
		}
		if att.Score.Valid || att.Passed.Valid {
			t.Error("a fresh attempt cannot carry a grade")
		}
	})

	t.Run("Second concurrent start is rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/exams/ex1/attempts", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: exam.ErrAlreadyInProgress.Error()}),
		}, rec)
	})
}

func Test_examApi_submitAttempt(t *testing.T) {
	app := setup(t)
	seedExam(t, "ex1")

	student := testutil.CreateAccount(t, acctRepo, "Student", "student1", "student@test.cd", "", []string{account.RoleStudent}, true, true)
	other := testutil.CreateAccount(t, acctRepo, "Other", "otherguy", "other@test.cd", "", []string{account.RoleStudent}, true, true)
	token := getToken(t, student)

	req, rec := newAuthRequest(http.MethodPost, "/v1/exams/ex1/attempts", token)
	app.ServeHTTP(rec, req)
	att := decodeAttempt(t, rec.Body.Bytes())

	answers := marchallObj(t, map[string]interface{}{
		"answers": map[string]int{"q1": 1, "q2": 0, "q3": 0, "q4": 1},
	})

	t.Run("Attempts are private", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attempts/"+att.ID, getToken(t, other))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		}, rec)
	})

	t.Run("Submit grades synchronously", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+att.ID+"/submit", token, answers)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var res struct {
			Attempt exam.Attempt `json:"attempt"`
			Result  exam.Result  `json:"result"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("unmarshalling response: %v", err)
		}
		if res.Attempt.Status != exam.StatusSubmitted {
			t.Errorf("status = %q; want %q", res.Attempt.Status, exam.StatusSubmitted)
		}
		// 3/4 correct
		if res.Result.Score != 75 || !res.Result.Passed {
			t.Errorf("result = %d/%v; want 75/pass", res.Result.Score, res.Result.Passed)
		}
		if len(res.Result.Breakdown) != 4 {
			t.Errorf("breakdown has %d rows; want 4", len(res.Result.Breakdown))
		}
	})

	t.Run("Resubmission is rejected", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+att.ID+"/submit", token, answers)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: exam.ErrWrongState.Error()}),
		}, rec)
	})
}

func Test_examApi_overdueAttempt(t *testing.T) {
	app := setup(t)
	seedExam(t, "ex1")

	student := testutil.CreateAccount(t, acctRepo, "Student", "student1", "student@test.cd", "", []string{account.RoleStudent}, true, true)
	token := getToken(t, student)

	// an in-progress attempt whose stored deadline has already passed
	started := time.Now().UTC().Add(-2 * time.Hour)
	att, err := attemptRepo.CreateAttempt(context.Background(), exam.Attempt{
		StudentID: student.ID,
		ExamID:    "ex1",
		Status:    exam.StatusInProgress,
		StartedAt: started,
		Deadline:  started.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("seeding attempt: %v", err)
	}

	t.Run("Late submission expires the attempt", func(t *testing.T) {
		answers := marchallObj(t, map[string]interface{}{"answers": map[string]int{"q1": 1}})
		req, rec := newAuthRequest(http.MethodPost, "/v1/attempts/"+att.ID+"/submit", token, answers)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusGone,
			wantData: marchallObj(t, httpErr{Error: exam.ErrExpired.Error()}),
		}, rec)
	})

	t.Run("Expired attempt carries no answers or grade", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attempts/"+att.ID, token)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		got := decodeAttempt(t, rec.Body.Bytes())
		if got.Status != exam.StatusExpired {
			t.Errorf("status = %q; want %q", got.Status, exam.StatusExpired)
		}
		if got.Answers != nil || got.Score.Valid || got.Passed.Valid {
			t.Error("expired attempt must not carry answers or a grade")
		}
	})
}

func Test_examApi_getReapsOverdue(t *testing.T) {
	app := setup(t)
	seedExam(t, "ex1")

	student := testutil.CreateAccount(t, acctRepo, "Student", "student1", "student@test.cd", "", []string{account.RoleStudent}, true, true)
	token := getToken(t, student)

	started := time.Now().UTC().Add(-1 * time.Hour)
	att, err := attemptRepo.CreateAttempt(context.Background(), exam.Attempt{
		StudentID: student.ID,
		ExamID:    "ex1",
		Status:    exam.StatusInProgress,
		StartedAt: started,
		Deadline:  started.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("seeding attempt: %v", err)
	}

	// a poll of an overdue attempt observes it as expired, not in progress
	req, rec := newAuthRequest(http.MethodGet, "/v1/attempts/"+att.ID, token)
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	got := decodeAttempt(t, rec.Body.Bytes())
	if got.Status != exam.StatusExpired {
		t.Errorf("status = %q; want %q", got.Status, exam.StatusExpired)
	}

	// the student can immediately start a fresh attempt
	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/ex1/attempts", token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("restart failed! code = %v; body %s", rec.Code, rec.Body.String())
	}
}
