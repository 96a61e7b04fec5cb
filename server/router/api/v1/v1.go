package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cfipros/acstracker/internal/profile"
	"github.com/cfipros/acstracker/server/auth"
	errs "github.com/cfipros/acstracker/server/internal/errors"
	"github.com/cfipros/acstracker/server/middleware"
	"github.com/cfipros/acstracker/store"
)

// ownerContextKey is the echo context key holding the authenticated owner.
const ownerContextKey = "owner-id"

// SessionRunner is the subset of runner behavior the gateway needs.
type SessionRunner interface {
	Start(uid string)
	Cancel(ctx context.Context, uid string) (bool, error)
}

type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store
	Runner  SessionRunner

	// submitLimiter throttles session creation per owner.
	submitLimiter *middleware.RateLimiter
}

func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store, runner SessionRunner) *APIV1Service {
	return &APIV1Service{
		Secret:  secret,
		Profile: profile,
		Store:   store,
		Runner:  runner,
		// One submit per 2 seconds sustained, small burst for retries.
		submitLimiter: middleware.NewRateLimiter(2*time.Second, 5),
	}
}

// RegisterRoutes registers the API routes with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	echoServer.GET("/healthz", s.GetHealth)

	apiV1 := echoServer.Group("/api/v1", s.authMiddleware)
	apiV1.POST("/sessions", s.CreateSession)
	apiV1.GET("/sessions", s.ListSessions)
	apiV1.GET("/sessions/:id/status", s.GetSessionStatus)
	apiV1.GET("/sessions/:id/result", s.GetSessionResult)
	apiV1.POST("/sessions/:id/cancel", s.CancelSession)
	apiV1.GET("/system/metrics/overview", s.GetMetricsOverview)
}

// authMiddleware authenticates the bearer token and stores the owner
// identifier in the request context.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := auth.ExtractBearerToken(c.Request().Header.Get("Authorization"))
		if err != nil {
			return errorJSON(c, errs.Unauthorized("authentication required"))
		}
		ownerID, err := auth.Authenticate(token, s.Secret)
		if err != nil {
			return errorJSON(c, errs.Unauthorized("invalid access token"))
		}
		c.Set(ownerContextKey, ownerID)
		return next(c)
	}
}

func ownerFromContext(c echo.Context) string {
	ownerID, _ := c.Get(ownerContextKey).(string)
	return ownerID
}

// httpStatus maps an error code to its HTTP status.
func httpStatus(code errs.ErrorCode) int {
	switch code {
	case errs.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errs.ErrCodeForbidden:
		return http.StatusForbidden
	case errs.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case errs.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case errs.ErrCodeNotFound:
		return http.StatusNotFound
	case errs.ErrCodeNotReady:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorJSON writes the structured error body. The cause, if any, stays in
// the server log and never reaches the client.
func errorJSON(c echo.Context, err *errs.SessionError) error {
	return c.JSON(httpStatus(err.Code), map[string]string{
		"error": err.Message,
		"code":  string(err.Code),
	})
}
