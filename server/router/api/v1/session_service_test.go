package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/cfipros/acstracker/internal/profile"
	"github.com/cfipros/acstracker/server/auth"
	"github.com/cfipros/acstracker/store"
	teststore "github.com/cfipros/acstracker/store/test"
)

const testSecret = "test-secret"

type mockRunner struct {
	mu        sync.Mutex
	started   []string
	cancelled []string
}

func (r *mockRunner) Start(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, uid)
}

func (r *mockRunner) Cancel(_ context.Context, uid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, uid)
	return true, nil
}

func (r *mockRunner) startedUIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

type testGateway struct {
	echo   *echo.Echo
	store  *store.Store
	runner *mockRunner
}

func newTestGateway(t *testing.T) *testGateway {
	ctx := context.Background()
	ts := teststore.NewTestingStore(ctx, t)
	t.Cleanup(func() { ts.Close() })

	testProfile := &profile.Profile{
		Mode:         "dev",
		MaxInputRefs: 10,
	}
	runner := &mockRunner{}
	service := NewAPIV1Service(testSecret, testProfile, ts, runner)

	e := echo.New()
	service.RegisterRoutes(e)
	return &testGateway{echo: e, store: ts, runner: runner}
}

func (g *testGateway) request(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if owner != "" {
		token, err := auth.GenerateAccessToken(owner, time.Now().Add(time.Hour), testSecret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	g.echo.ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) createSession(t *testing.T, owner string, inputRefs []string) string {
	rec := g.request(t, http.MethodPost, "/api/v1/sessions", owner, CreateSessionRequest{InputRefs: inputRefs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	response := CreateSessionResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response.SessionID
}

func TestCreateSession(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodPost, "/api/v1/sessions", "owner-a", CreateSessionRequest{
		InputRefs:   []string{"upload/a.pdf", "upload/b.pdf"},
		SessionName: "checkride prep",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	response := CreateSessionResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotEmpty(t, response.SessionID)
	require.Equal(t, []string{"extract", "analyze", "match", "generate"}, response.ProcessingSteps)
	require.Equal(t, "pending", response.Session.Status)
	require.Equal(t, "checkride prep", response.Session.Name)
	require.Len(t, response.Session.Steps, 4)
	for _, step := range response.Session.Steps {
		require.Equal(t, "pending", step.Status)
	}
	require.Equal(t, 0, response.Session.Progress)
	require.Equal(t, []string{response.SessionID}, g.runner.startedUIDs())
}

func TestCreateSessionValidation(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name    string
		request CreateSessionRequest
	}{
		{"empty input refs", CreateSessionRequest{InputRefs: nil}},
		{"blank input ref", CreateSessionRequest{InputRefs: []string{"  "}}},
		{"control character", CreateSessionRequest{InputRefs: []string{"a.pdf\x00"}}},
		{"too many refs", CreateSessionRequest{InputRefs: make([]string, 11)}},
	}
	for i := range tests {
		for j := range tests[i].request.InputRefs {
			if tests[i].request.InputRefs[j] == "" {
				tests[i].request.InputRefs[j] = fmt.Sprintf("file-%d.pdf", j)
			}
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := g.request(t, http.MethodPost, "/api/v1/sessions", "owner-a", tt.request)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	require.Empty(t, g.runner.startedUIDs())
}

func TestAuthenticationRequired(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodPost, "/api/v1/sessions", "", CreateSessionRequest{InputRefs: []string{"a.pdf"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec2 := httptest.NewRecorder()
	g.echo.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestGetSessionStatus(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/status", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := SessionStatusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, uid, response.SessionID)
	require.Equal(t, "pending", response.Status)
	require.Len(t, response.Steps, 4)
	require.Equal(t, 0, response.Progress)
}

func TestGetSessionStatusFailedSession(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	_, err := g.store.MutateSession(context.Background(), uid, func(session *store.Session) error {
		session.Status = store.SessionStatusFailed
		session.FailureReason = "extraction produced no questions"
		ledger, failErr := session.Ledger.Fail("extract", "extraction produced no questions")
		if failErr != nil {
			return failErr
		}
		session.Ledger = ledger
		return nil
	})
	require.NoError(t, err)

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/status", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := SessionStatusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, "failed", response.Status)
	require.Equal(t, "extraction produced no questions", response.FailureReason)
}

func TestGetSessionStatusNotFound(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/does-not-exist/status", "owner-a", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHiddenFromOtherOwners(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/status", "owner-b", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/result", "owner-b", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionResultNotReady(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/result", "owner-a", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetSessionResultCompleted(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	_, err := g.store.MutateSession(context.Background(), uid, func(session *store.Session) error {
		session.Status = store.SessionStatusCompleted
		session.Result = &store.SessionResult{
			TotalQuestions:   15,
			CorrectAnswers:   12,
			IncorrectAnswers: 3,
			OverallScore:     80.0,
			WeakAreas:        []string{"PA.I.A.K1"},
			StrongAreas:      []string{"PA.II.A.K1"},
		}
		return nil
	})
	require.NoError(t, err)

	// The result read is idempotent.
	for i := 0; i < 2; i++ {
		rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/result", "owner-a", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		response := SessionResultResponse{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		require.Equal(t, "completed", response.Status)
		require.NotNil(t, response.Result)
		require.Equal(t, 15, response.Result.TotalQuestions)
		require.Equal(t, 80.0, response.Result.OverallScore)
		require.Equal(t, []string{"PA.I.A.K1"}, response.Result.WeakAreas)
		require.Empty(t, response.FailureReason)
	}
}

func TestGetSessionResultFailed(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	_, err := g.store.MutateSession(context.Background(), uid, func(session *store.Session) error {
		session.Status = store.SessionStatusFailed
		session.FailureReason = "Timeout"
		return nil
	})
	require.NoError(t, err)

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/result", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := SessionResultResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, "failed", response.Status)
	require.Equal(t, "Timeout", response.FailureReason)
}

func TestCancelSession(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	rec := g.request(t, http.MethodPost, "/api/v1/sessions/"+uid+"/cancel", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, uid, response["sessionId"])
	require.Equal(t, true, response["cancelled"])
	require.Equal(t, []string{uid}, g.runner.cancelled)
}

func TestListSessionsScopedToOwner(t *testing.T) {
	g := newTestGateway(t)
	uidA := g.createSession(t, "owner-a", []string{"a.pdf"})
	g.createSession(t, "owner-b", []string{"b.pdf"})

	rec := g.request(t, http.MethodGet, "/api/v1/sessions", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := struct {
		Sessions []SessionView `json:"sessions"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Sessions, 1)
	require.Equal(t, uidA, response.Sessions[0].SessionID)
}

func TestCreateSessionRateLimited(t *testing.T) {
	g := newTestGateway(t)

	var sawTooMany bool
	for i := 0; i < 8; i++ {
		rec := g.request(t, http.MethodPost, "/api/v1/sessions", "owner-a", CreateSessionRequest{InputRefs: []string{"a.pdf"}})
		if rec.Code == http.StatusTooManyRequests {
			sawTooMany = true
			break
		}
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	require.True(t, sawTooMany, "expected a 429 after exhausting the submit burst")

	// Other owners keep their own budget.
	rec := g.request(t, http.MethodPost, "/api/v1/sessions", "owner-b", CreateSessionRequest{InputRefs: []string{"b.pdf"}})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := HealthResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, "ok", response.Status)
}

func TestMetricsOverview(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodGet, "/api/v1/system/metrics/overview", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	response := MetricsOverviewResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.GreaterOrEqual(t, response.Goroutines, 1)
}

func TestMetricsOverviewRequiresAuth(t *testing.T) {
	g := newTestGateway(t)

	rec := g.request(t, http.MethodGet, "/api/v1/system/metrics/overview", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorResponsesCarryCodes(t *testing.T) {
	g := newTestGateway(t)
	uid := g.createSession(t, "owner-a", []string{"a.pdf"})

	codeOf := func(rec *httptest.ResponseRecorder) string {
		body := map[string]string{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body["code"]
	}

	rec := g.request(t, http.MethodGet, "/api/v1/sessions/"+uid+"/result", "owner-a", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "NOT_READY", codeOf(rec))

	rec = g.request(t, http.MethodGet, "/api/v1/sessions/does-not-exist/status", "owner-a", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", codeOf(rec))

	rec = g.request(t, http.MethodPost, "/api/v1/sessions", "owner-a", CreateSessionRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_ARGUMENT", codeOf(rec))

	rec = g.request(t, http.MethodGet, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", codeOf(rec))
}

func TestListSessionsPagination(t *testing.T) {
	g := newTestGateway(t)
	for i := 0; i < 3; i++ {
		g.createSession(t, "owner-a", []string{fmt.Sprintf("file-%d.pdf", i)})
	}

	listLen := func(rec *httptest.ResponseRecorder) int {
		response := struct {
			Sessions []SessionView `json:"sessions"`
		}{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		return len(response.Sessions)
	}

	rec := g.request(t, http.MethodGet, "/api/v1/sessions?limit=2", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, listLen(rec))

	rec = g.request(t, http.MethodGet, "/api/v1/sessions?limit=2&offset=2", "owner-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, listLen(rec))

	// Offset without limit is rejected, not silently ignored.
	rec = g.request(t, http.MethodGet, "/api/v1/sessions?offset=1", "owner-a", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.request(t, http.MethodGet, "/api/v1/sessions?limit=0", "owner-a", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = g.request(t, http.MethodGet, "/api/v1/sessions?limit=2&offset=-1", "owner-a", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
