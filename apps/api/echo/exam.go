package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core/exam"
)

type examApi struct {
	svc *exam.Service
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *exam.Service) {
	api := examApi{svc: svc}

	eg := g.Group("/exams", jwt)
	eg.POST("/:id/attempts", api.startAttempt)
	eg.GET("/:id/attempts", api.queryAttempts)

	ag := g.Group("/attempts", jwt)
	ag.GET("/:id", api.retrieveAttempt)
	ag.POST("/:id/submit", api.submitAttempt)
}

// Handlers

func (api *examApi) startAttempt(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	att, err := api.svc.Start(ctx.Request().Context(), claims.Subject, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api *examApi) queryAttempts(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	atts, err := api.svc.QueryStudentAttempts(ctx.Request().Context(), claims.Subject, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying attempts")
	}
	if atts == nil {
		atts = []exam.Attempt{}
	}
	return ctx.JSON(http.StatusOK, atts)
}

func (api *examApi) retrieveAttempt(ctx echo.Context) error {
	att, err := api.getOwnAttempt(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, att)
}

func (api *examApi) submitAttempt(ctx echo.Context) error {
	att, err := api.getOwnAttempt(ctx)
	if err != nil {
		return err
	}

	var data SubmitAttemptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitAttemptRequest")
	}

	att, res, err := api.svc.Submit(ctx.Request().Context(), att.ID, data.Answers)
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusOK, SubmitAttemptResponse{Attempt: att, Result: res})
}

// getOwnAttempt fetches the attempt and enforces ownership: students only see
// their own attempts, admins see all. The fetch reaps an overdue attempt so
// clients always observe it as expired.
func (api *examApi) getOwnAttempt(ctx echo.Context) (exam.Attempt, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return exam.Attempt{}, errors.Wrap(err, "getting context claims")
	}

	att, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return exam.Attempt{}, errors.Wrap(err, "finding attempt by ID")
	}
	if att.StudentID != claims.Subject && !claims.IsAdmin {
		return exam.Attempt{}, errHttpNotFound
	}
	return att, nil
}

type (
	SubmitAttemptRequest struct {
		Answers exam.Answers `json:"answers"`
	}

	SubmitAttemptResponse struct {
		Attempt exam.Attempt `json:"attempt"`
		Result  exam.Result  `json:"result"`
	}
)
