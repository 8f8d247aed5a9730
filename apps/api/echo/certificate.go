package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core/certificate"
)

type certificateApi struct {
	issuer *certificate.Issuer
	repo   certificate.Repository
}

func registerCertificateAPI(g *echo.Group, jwt echo.MiddlewareFunc, issuer *certificate.Issuer, repo certificate.Repository) {
	api := certificateApi{issuer: issuer, repo: repo}

	g.POST("/courses/:id/certificate", api.issue, jwt)

	cg := g.Group("/certificates", jwt)
	cg.GET("", api.queryOwn)
	cg.GET("/:number", api.retrieveByNumber, adminMiddleware())
}

// Handlers

// issue triggers certificate issuance for the calling student on a course.
// Repeated triggers return the already-issued certificate.
func (api *certificateApi) issue(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	cert, err := api.issuer.Issue(ctx.Request().Context(), claims.Subject, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "issuing certificate")
	}
	return ctx.JSON(http.StatusCreated, cert)
}

func (api *certificateApi) queryOwn(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	certs, err := api.repo.QueryStudentCertificates(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying certificates")
	}
	if certs == nil {
		certs = []certificate.Certificate{}
	}
	return ctx.JSON(http.StatusOK, certs)
}

func (api *certificateApi) retrieveByNumber(ctx echo.Context) error {
	cert, err := api.repo.GetCertificateByNumber(ctx.Request().Context(), ctx.Param("number"))
	if err != nil {
		return errors.Wrap(err, "finding certificate by number")
	}
	return ctx.JSON(http.StatusOK, cert)
}
