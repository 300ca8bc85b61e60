package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altrix0/pcit-crd-sub000/internal/auth"
	"github.com/altrix0/pcit-crd-sub000/internal/config"
	"github.com/altrix0/pcit-crd-sub000/internal/delivery"
	"github.com/altrix0/pcit-crd-sub000/internal/model"
	"github.com/altrix0/pcit-crd-sub000/internal/otp"
	"github.com/altrix0/pcit-crd-sub000/internal/repository"
	"github.com/altrix0/pcit-crd-sub000/internal/session"
)

type codeSink struct {
	codes []string
}

func (c *codeSink) Send(_ context.Context, _ model.Account, _ model.Purpose, code string) error {
	c.codes = append(c.codes, code)
	return nil
}

func (c *codeSink) last() string {
	if len(c.codes) == 0 {
		return ""
	}
	return c.codes[len(c.codes)-1]
}

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	sink   *codeSink
	svc    *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{CookieSecure: false}
	repo := repository.NewMemory()
	sink := &codeSink{}
	engine := otp.NewEngine(repo, []delivery.Sender{sink}, otp.Config{})
	sessions := session.NewManager(session.NewMemoryStore(), repo, repo, session.Config{})
	svc := auth.NewService(repo, engine, sessions, nil, nil, auth.Config{
		JWTSecret: "test-secret",
		JWTIssuer: "test-issuer",
	})

	srv := httptest.NewServer(NewServer(cfg, svc).Router())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testServer{
		srv:    srv,
		client: &http.Client{Jar: jar},
		sink:   sink,
		svc:    svc,
	}
}

func (ts *testServer) seedAccount(t *testing.T, sevarthID, password string, accessLevel int) model.Account {
	t.Helper()
	account, err := ts.svc.Register(context.Background(), auth.RegisterParams{
		SevarthID:   sevarthID,
		Password:    password,
		Role:        "inspector",
		AccessLevel: accessLevel,
		Mobile:      "9876543210",
	})
	require.NoError(t, err)
	return account
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.client.Post(ts.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := ts.client.Get(ts.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "correctpw1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, body = ts.get(t, "/auth/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "B456", body["sevarthId"])
	require.Equal(t, "inspector", body["role"])
}

func TestLoginBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "wrongpw99",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_credentials", body["error"])
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "correctpw1",
		"extra":     true,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", body["error"])
}

func TestStepUpFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "A123", "correctpw1", 4)

	resp, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "A123",
		"password":  "correctpw1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "otp_required", body["status"])
	pendingRef, _ := body["pendingRef"].(string)
	require.NotEmpty(t, pendingRef)

	resp, body = ts.post(t, "/auth/verify-otp", map[string]interface{}{
		"pendingRef": pendingRef,
		"code":       ts.sink.last(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, body = ts.get(t, "/auth/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "A123", body["sevarthId"])
}

func TestStepUpLockoutReturns423(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "A123", "correctpw1", 4)

	_, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "A123",
		"password":  "correctpw1",
	})
	pendingRef, _ := body["pendingRef"].(string)

	for i := 0; i < 2; i++ {
		resp, body := ts.post(t, "/auth/verify-otp", map[string]interface{}{
			"pendingRef": pendingRef,
			"code":       "000000",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "invalid_code", body["error"])
	}

	resp, body := ts.post(t, "/auth/verify-otp", map[string]interface{}{
		"pendingRef": pendingRef,
		"code":       "000000",
	})
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.Equal(t, "locked_out", body["error"])
	require.Equal(t, float64(1800), body["retryAfterSeconds"])
}

func TestLogoutClearsSession(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, _ := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId":  "B456",
		"password":   "correctpw1",
		"rememberMe": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.post(t, "/auth/logout", map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.get(t, "/auth/me")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "missing_session", body["error"])

	// The device token was invalidated too.
	resp, _ = ts.post(t, "/auth/resume", map[string]interface{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResumeFromDeviceCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, _ := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId":  "B456",
		"password":   "correctpw1",
		"rememberMe": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.post(t, "/auth/resume", map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user, _ := body["user"].(map[string]interface{})
	require.Equal(t, "B456", user["sevarthId"])
}

func TestResumeWithoutCookies(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.post(t, "/auth/resume", map[string]interface{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "session_expired", body["error"])
}

func TestChangePassword(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, _ := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "correctpw1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.post(t, "/auth/password", map[string]interface{}{
		"currentPassword": "correctpw1",
		"newPassword":     "short1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "weak_password", body["error"])

	resp, _ = ts.post(t, "/auth/password", map[string]interface{}{
		"currentPassword": "correctpw1",
		"newPassword":     "newsecret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The session that changed the password stays alive.
	resp, _ = ts.get(t, "/auth/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, body := ts.post(t, "/auth/reset/request", map[string]interface{}{
		"sevarthId": "B456",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	pendingRef, _ := body["pendingRef"].(string)
	require.NotEmpty(t, pendingRef)

	resp, _ = ts.post(t, "/auth/reset/complete", map[string]interface{}{
		"pendingRef":  pendingRef,
		"code":        ts.sink.last(),
		"newPassword": "resetpass9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "resetpass9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetUnknownAccountIsOpaque(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.post(t, "/auth/reset/request", map[string]interface{}{
		"sevarthId": "NOBODY",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	pendingRef, _ := body["pendingRef"].(string)
	require.NotEmpty(t, pendingRef)

	resp, body = ts.post(t, "/auth/reset/complete", map[string]interface{}{
		"pendingRef":  pendingRef,
		"code":        "123456",
		"newPassword": "resetpass9",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "no_active_code", body["error"])
}

func TestCreateAccountRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "B456", "correctpw1", 1)

	resp, _ := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "B456",
		"password":  "correctpw1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.post(t, "/accounts/", map[string]interface{}{
		"sevarthId":   "N001",
		"password":    "strongpw12",
		"role":        "clerk",
		"accessLevel": 1,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "admin_only", body["error"])
}

func TestAdminAccountLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAccount(t, "ADM01", "correctpw1", 5)

	// Admins sit above the step-up threshold, so finish the OTP first.
	_, body := ts.post(t, "/auth/login", map[string]interface{}{
		"sevarthId": "ADM01",
		"password":  "correctpw1",
	})
	require.Equal(t, "otp_required", body["status"])
	resp, _ := ts.post(t, "/auth/verify-otp", map[string]interface{}{
		"pendingRef": body["pendingRef"],
		"code":       ts.sink.last(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.post(t, "/accounts/", map[string]interface{}{
		"sevarthId":   "N001",
		"password":    "strongpw12",
		"role":        "clerk",
		"accessLevel": 1,
		"mobile":      "9000000001",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "N001", body["sevarthId"])
	accountID, _ := body["accountId"].(string)
	require.NotEmpty(t, accountID)

	resp, body = ts.post(t, "/accounts/", map[string]interface{}{
		"sevarthId":   "N001",
		"password":    "strongpw12",
		"role":        "clerk",
		"accessLevel": 1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "account_exists", body["error"])

	resp, body = ts.post(t, "/accounts/"+accountID+"/deactivate", map[string]interface{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "deactivated", body["status"])

	other := &http.Client{}
	payload, err := json.Marshal(map[string]string{"sevarthId": "N001", "password": "strongpw12"})
	require.NoError(t, err)
	loginResp, err := other.Post(ts.srv.URL+"/auth/login", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, loginResp.StatusCode)
	loginResp.Body.Close()
}
