package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/cfipros/acstracker/internal/pipeline"
	errs "github.com/cfipros/acstracker/server/internal/errors"
	"github.com/cfipros/acstracker/server/internal/observability"
	"github.com/cfipros/acstracker/server/runner/stage"
	"github.com/cfipros/acstracker/store"
)

const maxInputRefLength = 256

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	InputRefs   []string `json:"inputRefs"`
	SessionName string   `json:"sessionName,omitempty"`
}

// StepView is the external representation of one pipeline step.
type StepView struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	StartedTs  *int64 `json:"startedTs,omitempty"`
	FinishedTs *int64 `json:"finishedTs,omitempty"`
}

// SessionView is the external representation of a session.
type SessionView struct {
	SessionID     string     `json:"sessionId"`
	Name          string     `json:"name,omitempty"`
	Status        string     `json:"status"`
	CreatedTs     int64      `json:"createdTs"`
	UpdatedTs     int64      `json:"updatedTs"`
	InputRefs     []string   `json:"inputRefs"`
	Steps         []StepView `json:"steps"`
	Progress      int        `json:"progress"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// CreateSessionResponse is the response of POST /api/v1/sessions.
type CreateSessionResponse struct {
	SessionID       string      `json:"sessionId"`
	Session         SessionView `json:"session"`
	ProcessingSteps []string    `json:"processingSteps"`
}

// SessionStatusResponse is the response of GET /api/v1/sessions/:id/status.
// It always reports 200 for an existing session, failed or not, so polling
// clients keep a stable contract.
type SessionStatusResponse struct {
	SessionID     string     `json:"sessionId"`
	Status        string     `json:"status"`
	Steps         []StepView `json:"steps"`
	Progress      int        `json:"progress"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// SessionResultResponse is the response of GET /api/v1/sessions/:id/result.
type SessionResultResponse struct {
	SessionID     string               `json:"sessionId"`
	Status        string               `json:"status"`
	Result        *store.SessionResult `json:"result,omitempty"`
	FailureReason string               `json:"failureReason,omitempty"`
}

// CreateSession handles POST /api/v1/sessions. The session is created and
// scheduled; the call returns before any step executes.
func (s *APIV1Service) CreateSession(c echo.Context) error {
	ctx := c.Request().Context()
	ownerID := ownerFromContext(c)

	if !s.submitLimiter.Allow(ownerID) {
		return errorJSON(c, errs.RateLimitExceeded("too many sessions submitted, slow down"))
	}

	request := &CreateSessionRequest{}
	if err := c.Bind(request); err != nil {
		return errorJSON(c, errs.InvalidArgument("malformed request body"))
	}
	if message, ok := s.validateInputRefs(request.InputRefs); !ok {
		return errorJSON(c, errs.InvalidArgument(message))
	}
	if len(request.SessionName) > maxInputRefLength {
		return errorJSON(c, errs.InvalidArgument("session name too long"))
	}

	session, err := s.Store.CreateSession(ctx, ownerID, request.SessionName, request.InputRefs, stage.DefaultStepNames)
	if err != nil {
		slog.Error("failed to create session", "owner_id", ownerID, "error", err)
		return errorJSON(c, errs.Internal("failed to create session", err))
	}

	reqCtx := observability.NewRequestContext(slog.Default(), ownerID, session.UID)
	reqCtx.Info("session created", slog.Int("input_refs", len(session.InputRefs)))

	s.Runner.Start(session.UID)

	return c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:       session.UID,
		Session:         toSessionView(session),
		ProcessingSteps: session.Ledger.StepNames(),
	})
}

// validateInputRefs enforces the submission contract: non-empty, well-formed
// identifiers, count within the configured per-request maximum.
func (s *APIV1Service) validateInputRefs(inputRefs []string) (string, bool) {
	if len(inputRefs) == 0 {
		return "inputRefs must not be empty", false
	}
	if len(inputRefs) > s.Profile.MaxInputRefs {
		return "too many input refs", false
	}
	for _, ref := range inputRefs {
		if strings.TrimSpace(ref) == "" || len(ref) > maxInputRefLength {
			return "invalid input ref", false
		}
		for _, r := range ref {
			if unicode.IsControl(r) {
				return "invalid input ref", false
			}
		}
	}
	return "", true
}

// ListSessions handles GET /api/v1/sessions and lists the caller's sessions.
func (s *APIV1Service) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()
	ownerID := ownerFromContext(c)

	find := &store.FindSession{CreatorID: &ownerID}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return errorJSON(c, errs.InvalidArgument("invalid limit"))
		}
		find.Limit = &limit
	}
	if v := c.QueryParam("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return errorJSON(c, errs.InvalidArgument("invalid offset"))
		}
		if find.Limit == nil {
			return errorJSON(c, errs.InvalidArgument("offset requires limit"))
		}
		find.Offset = &offset
	}

	sessions, err := s.Store.ListSessions(ctx, find)
	if err != nil {
		slog.Error("failed to list sessions", "owner_id", ownerID, "error", err)
		return errorJSON(c, errs.Internal("failed to list sessions", err))
	}

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, toSessionView(session))
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": views})
}

// GetSessionStatus handles GET /api/v1/sessions/:id/status.
func (s *APIV1Service) GetSessionStatus(c echo.Context) error {
	session, err := s.findOwnedSession(c)
	if err != nil {
		return errorJSON(c, errs.Internal("failed to get session", err))
	}
	if session == nil {
		return errorJSON(c, errs.NotFound(c.Param("id")))
	}

	return c.JSON(http.StatusOK, SessionStatusResponse{
		SessionID:     session.UID,
		Status:        string(session.Status),
		Steps:         toStepViews(session.Ledger),
		Progress:      session.Ledger.Progress(),
		FailureReason: session.FailureReason,
	})
}

// GetSessionResult handles GET /api/v1/sessions/:id/result.
// Completed sessions return the aggregated summary; failed sessions return
// the failure detail with 200; non-terminal sessions return 409.
func (s *APIV1Service) GetSessionResult(c echo.Context) error {
	session, err := s.findOwnedSession(c)
	if err != nil {
		return errorJSON(c, errs.Internal("failed to get session", err))
	}
	if session == nil {
		return errorJSON(c, errs.NotFound(c.Param("id")))
	}

	switch session.Status {
	case store.SessionStatusCompleted:
		return c.JSON(http.StatusOK, SessionResultResponse{
			SessionID: session.UID,
			Status:    string(session.Status),
			Result:    session.Result,
		})
	case store.SessionStatusFailed:
		return c.JSON(http.StatusOK, SessionResultResponse{
			SessionID:     session.UID,
			Status:        string(session.Status),
			Result:        session.Result,
			FailureReason: session.FailureReason,
		})
	default:
		return errorJSON(c, errs.NotReady(session.UID))
	}
}

// CancelSession handles POST /api/v1/sessions/:id/cancel.
func (s *APIV1Service) CancelSession(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := s.findOwnedSession(c)
	if err != nil {
		return errorJSON(c, errs.Internal("failed to get session", err))
	}
	if session == nil {
		return errorJSON(c, errs.NotFound(c.Param("id")))
	}

	cancelled, err := s.Runner.Cancel(ctx, session.UID)
	if err != nil {
		slog.Error("failed to cancel session", "session_id", session.UID, "error", err)
		return errorJSON(c, errs.Internal("failed to cancel session", err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessionId": session.UID,
		"cancelled": cancelled,
	})
}

// findOwnedSession loads the session named by the :id parameter if it
// belongs to the caller. A session owned by someone else reads as absent.
func (s *APIV1Service) findOwnedSession(c echo.Context) (*store.Session, error) {
	ctx := c.Request().Context()
	uid := c.Param("id")

	session, err := s.Store.GetSession(ctx, &store.FindSession{UID: &uid})
	if err != nil {
		slog.Error("failed to get session", "session_id", uid, "error", err)
		return nil, err
	}
	if session == nil || session.CreatorID != ownerFromContext(c) {
		return nil, nil
	}
	return session, nil
}

func toStepViews(ledger pipeline.Ledger) []StepView {
	views := make([]StepView, 0, len(ledger.Steps))
	for _, step := range ledger.Steps {
		views = append(views, StepView{
			Step:       step.Name,
			Status:     string(step.Status),
			Message:    step.Message,
			StartedTs:  step.StartedTs,
			FinishedTs: step.FinishedTs,
		})
	}
	return views
}

func toSessionView(session *store.Session) SessionView {
	return SessionView{
		SessionID:     session.UID,
		Name:          session.Name,
		Status:        string(session.Status),
		CreatedTs:     session.CreatedTs,
		UpdatedTs:     session.UpdatedTs,
		InputRefs:     session.InputRefs,
		Steps:         toStepViews(session.Ledger),
		Progress:      session.Ledger.Progress(),
		FailureReason: session.FailureReason,
	}
}
