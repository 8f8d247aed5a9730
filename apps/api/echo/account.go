package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/premiermti/shikkha/core"
	"github.com/premiermti/shikkha/core/account"
)

type accountApi struct {
	svc account.ServiceInterface
}

func registerAccountAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc account.ServiceInterface) {
	api := accountApi{svc: svc}

	ag := g.Group("/accounts")

	// un-authed endpoints
	// TODO: rate limit `/password-reset` & `/password-reset-confirm`
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
	ag.POST("/federated", api.federated)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	tg := ag.Group("", jwt)
	tg.POST("/token-refresh", api.refreshToken)
	tg.GET("", api.query, adminMiddleware())
	tg.GET("/roles", api.queryRoles, adminMiddleware())
	tg.POST("/:id/verify", api.verify, adminMiddleware())
}

// Handlers

func (api *accountApi) register(ctx echo.Context) error {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	// self-registration never picks roles
	data.Roles = nil
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	acct, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *accountApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	claims, err := authenticate(ctx.Request().Context(), data.Username, data.Password, api.svc)
	if err != nil {
		if errors.Cause(err) == account.ErrNotFound {
			return core.NewValidationError(errors.New("invalid credentials"))
		}
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

// federated resolves a verified identity claim from the SSO gateway to a local
// account. Token verification happened upstream; this endpoint only reconciles.
func (api *accountApi) federated(ctx echo.Context) error {
	var data account.Claim
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Claim")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	outcome, err := api.svc.Reconcile(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "reconciling identity")
	}

	res := FederatedResponse{Outcome: outcome}
	if outcome.Kind == account.OutcomeLoggedIn {
		if err = api.svc.SetLastLogin(ctx.Request().Context(), outcome.Account); err != nil {
			return errors.Wrap(err, "setting lastLogin")
		}
		token, err := GenerateToken(GetAccountClaims(outcome.Account))
		if err != nil {
			return errors.Wrap(err, "generating token")
		}
		res.Token = token
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *accountApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == account.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *accountApi) confirmPasswordReset(ctx echo.Context) error {
	var data account.ResetAccountPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetAccountPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *accountApi) query(ctx echo.Context) error {
	filter := new(account.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []account.Account{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying accounts")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *accountApi) verify(ctx echo.Context) error {
	acct, err := api.svc.Verify(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "verifying account")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, account.Roles)
}

func (api *accountApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	FederatedResponse struct {
		Outcome account.Outcome `json:"outcome"`
		Token   string          `json:"token,omitempty"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return core.Validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate() error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return core.Validate.Struct(pr)
}
