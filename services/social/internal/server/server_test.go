package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/internal/ratelimit"
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/pkg/store"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/app"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/security"
)

var testNow = time.Unix(1700000000, 0)

type ServerSuite struct {
	suite.Suite
	handler http.Handler
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.handler = newTestServer(s.T(), Config{Metrics: metrics.New()})
}

func newTestServer(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	a, err := app.New(app.Config{
		Store:   store.NewMemoryStore(),
		Metrics: cfg.Metrics,
		Clock:   func() time.Time { return testNow },
	})
	require.NoError(t, err)
	cfg.App = a
	return New(cfg).Router()
}

func (s *ServerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *ServerSuite) errorBody(rec *httptest.ResponseRecorder) string {
	var body map[string]string
	s.decode(rec, &body)
	return body["error"]
}

func (s *ServerSuite) register(username, password string) domain.Account {
	rec := s.do(http.MethodPost, "/register", `{"username":"`+username+`","password":"`+password+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var acct domain.Account
	s.decode(rec, &acct)
	return acct
}

func (s *ServerSuite) TestRegisterAndLogin() {
	acct := s.register("alice", "pass1")
	s.Equal(domain.Account{ID: 1, Username: "alice", Password: "pass1"}, acct)

	rec := s.do(http.MethodPost, "/register", `{"username":"alice","password":"pass2"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(domain.ReasonUsernameTaken, s.errorBody(rec))

	rec = s.do(http.MethodPost, "/register", `{"username":"","password":"pass2"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(domain.ReasonUsernameBlank, s.errorBody(rec))

	rec = s.do(http.MethodPost, "/login", `{"username":"alice","password":"pass1"}`)
	s.Equal(http.StatusOK, rec.Code)
	var logged domain.Account
	s.decode(rec, &logged)
	s.Equal(acct, logged)

	rec = s.do(http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(domain.ReasonInvalidCredentials, s.errorBody(rec))

	rec = s.do(http.MethodPost, "/login", `{"username":`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestMessageLifecycle() {
	s.register("alice", "pass1")

	rec := s.do(http.MethodPost, "/messages", `{"posted_by":1,"message_text":"hello","time_posted_epoch":5}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var created domain.Message
	s.decode(rec, &created)
	s.Equal(domain.Message{ID: 1, PostedBy: 1, MessageText: "hello", TimePostedEpoch: testNow.Unix()}, created)

	rec = s.do(http.MethodPost, "/messages", `{"posted_by":9,"message_text":"hello"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(domain.ReasonAuthorNotFound, s.errorBody(rec))

	rec = s.do(http.MethodGet, "/messages/1", "")
	s.Equal(http.StatusOK, rec.Code)
	var fetched domain.Message
	s.decode(rec, &fetched)
	s.Equal(created, fetched)

	rec = s.do(http.MethodPatch, "/messages/1", `{"message_text":""}`)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(domain.ReasonMessageTextBlank, s.errorBody(rec))

	rec = s.do(http.MethodPatch, "/messages/1", `{"message_text":"hi"}`)
	s.Equal(http.StatusOK, rec.Code)
	var updated domain.Message
	s.decode(rec, &updated)
	s.Equal("hi", updated.MessageText)
	s.Equal(created.TimePostedEpoch, updated.TimePostedEpoch)

	rec = s.do(http.MethodPatch, "/messages/77", `{"message_text":"hi"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/accounts/1/messages", "")
	s.Equal(http.StatusOK, rec.Code)
	var byAuthor []domain.Message
	s.decode(rec, &byAuthor)
	s.Equal([]domain.Message{updated}, byAuthor)

	rec = s.do(http.MethodDelete, "/messages/1", "")
	s.Equal(http.StatusOK, rec.Code)
	var deleted domain.Message
	s.decode(rec, &deleted)
	s.Equal(updated, deleted)

	rec = s.do(http.MethodDelete, "/messages/1", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Body.String())

	rec = s.do(http.MethodGet, "/messages/1", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Empty(rec.Body.String())
}

func (s *ServerSuite) TestListsAreJSONArrays() {
	rec := s.do(http.MethodGet, "/messages", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())

	rec = s.do(http.MethodGet, "/accounts/12/messages", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())
}

func (s *ServerSuite) TestNonNumericPathIDs() {
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/messages/abc"},
		{http.MethodDelete, "/messages/1.5"},
		{http.MethodGet, "/accounts/me/messages"},
	} {
		rec := s.do(tc.method, tc.path, "")
		s.Equal(http.StatusBadRequest, rec.Code, tc.path)
	}
}

func (s *ServerSuite) TestHealthAndMetrics() {
	rec := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, rec.Code)
	s.NotEmpty(rec.Header().Get("X-Request-Id"))
	s.Equal("nosniff", rec.Header().Get("X-Content-Type-Options"))

	s.register("alice", "pass1")
	rec = s.do(http.MethodGet, "/metrics", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "social_accounts_registered_total 1")
}

func TestRateLimitedLogin(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ratelimit.NewRedisClient(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test", 2, time.Minute)
	require.NoError(t, err)

	m := metrics.New()
	h := newTestServer(t, Config{Metrics: m, LoginLimiter: limiter})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"a","password":"pass"}`))
		req.RemoteAddr = "198.51.100.7:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			require.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	// Registration has no limiter configured.
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"username":"a","password":"pass"}`))
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

type stubLimiter struct{ decision ratelimit.Decision }

func (l stubLimiter) Allow(context.Context, string) ratelimit.Decision { return l.decision }

func TestRetryAfterRoundsUp(t *testing.T) {
	h := newTestServer(t, Config{RegisterLimiter: stubLimiter{ratelimit.Decision{RetryAfter: 1500 * time.Millisecond}}})
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
}

type observation struct{ event, outcome, ip string }

type recordingAlerter struct{ seen []observation }

func (a *recordingAlerter) Observe(_ context.Context, event, outcome, ip string) (security.AlertResult, error) {
	a.seen = append(a.seen, observation{event, outcome, ip})
	return security.AlertResult{}, nil
}

func TestFailuresFeedAlerter(t *testing.T) {
	alerter := &recordingAlerter{}
	h := newTestServer(t, Config{Alerter: alerter})

	send := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.RemoteAddr = "203.0.113.9:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, send("/register", `{"username":"a","password":"pass"}`))
	require.Equal(t, http.StatusBadRequest, send("/register", `{"username":"a","password":"pass"}`))
	require.Equal(t, http.StatusOK, send("/login", `{"username":"a","password":"pass"}`))
	require.Equal(t, http.StatusUnauthorized, send("/login", `{"username":"a","password":"nope"}`))

	require.Equal(t, []observation{
		{"register", security.OutcomeFail, "203.0.113.9"},
		{"login", security.OutcomeFail, "203.0.113.9"},
	}, alerter.seen)
}

func TestMetricsFallBackToAppRegistry(t *testing.T) {
	m := metrics.New()
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Metrics: m})
	require.NoError(t, err)
	h := New(Config{App: a}).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"username":"a","password":"pass"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "social_accounts_registered_total 1")
}
