package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/avoronov/splitbot/internal/config"
)

const testTTL = time.Minute

type fakeSessions struct {
	deliveredUser  string
	deliveredToken *oauth2.Token
	candidate      []byte
	candidateErr   error
	correctionErr  error
	corrected      []byte
}

func (f *fakeSessions) DeliverAuth(ctx context.Context, userID string, token *oauth2.Token) {
	f.deliveredUser = userID
	f.deliveredToken = token
}

func (f *fakeSessions) CandidateJSON(userID string) ([]byte, error) {
	return f.candidate, f.candidateErr
}

func (f *fakeSessions) HandleCorrection(userID string, patch []byte) error {
	if f.correctionErr != nil {
		return f.correctionErr
	}
	f.corrected = patch
	return nil
}

func newTestAPI(sessions *fakeSessions, tokenURL string) *API {
	cfg := &config.Config{
		JWTSecret:    "test-secret",
		WebUIBaseURL: "http://localhost:3000",
	}
	oauthCfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "http://auth.example/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return New(cfg, oauthCfg, sessions, zap.NewNop())
}

func TestCallbackRejectsMissingParams(t *testing.T) {
	api := newTestAPI(&fakeSessions{}, "http://token.example")

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/callback?code=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing state: status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/callback?state=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing code: status = %d, want 400", w.Code)
	}
}

func TestCallbackRejectsForgedState(t *testing.T) {
	api := newTestAPI(&fakeSessions{}, "http://token.example")

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/callback?code=abc&state=forged", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCallbackDeliversTokenToSession(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-123","token_type":"bearer"}`))
	}))
	defer tokenSrv.Close()

	sessions := &fakeSessions{}
	api := newTestAPI(sessions, tokenSrv.URL)

	state, err := api.signToken("u1", purposeState, testTTL)
	if err != nil {
		t.Fatalf("signToken() error = %v", err)
	}

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/callback?code=abc&state="+url.QueryEscape(state), nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}
	if sessions.deliveredUser != "u1" {
		t.Errorf("delivered user = %q, want u1", sessions.deliveredUser)
	}
	if sessions.deliveredToken == nil || sessions.deliveredToken.AccessToken != "at-123" {
		t.Errorf("delivered token = %+v", sessions.deliveredToken)
	}
}

func TestCorrectionFormShowsCandidate(t *testing.T) {
	sessions := &fakeSessions{candidate: []byte(`{"merchant":"Jumbo"}`)}
	api := newTestAPI(sessions, "http://token.example")

	token, _ := api.signToken("u1", purposeCorrection, testTTL)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/correct?token="+url.QueryEscape(token), nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Jumbo") {
		t.Errorf("form does not contain the candidate: %s", w.Body.String())
	}
}

func TestCorrectionFormRejectsStateToken(t *testing.T) {
	api := newTestAPI(&fakeSessions{candidate: []byte(`{}`)}, "http://token.example")

	// An OAuth state token must not open the correction form.
	token, _ := api.signToken("u1", purposeState, testTTL)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest("GET", "/correct?token="+url.QueryEscape(token), nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCorrectionSubmitAppliesPatch(t *testing.T) {
	sessions := &fakeSessions{}
	api := newTestAPI(sessions, "http://token.example")

	token, _ := api.signToken("u1", purposeCorrection, testTTL)
	form := url.Values{"token": {token}, "payload": {`{"total":"47.50"}`}}
	req := httptest.NewRequest("POST", "/correct", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}
	if string(sessions.corrected) != `{"total":"47.50"}` {
		t.Errorf("patch = %s", sessions.corrected)
	}
}

func TestCorrectionSubmitRedisplaysOnValidationError(t *testing.T) {
	sessions := &fakeSessions{correctionErr: errors.New("owed shares do not sum to the total")}
	api := newTestAPI(sessions, "http://token.example")

	token, _ := api.signToken("u1", purposeCorrection, testTTL)
	form := url.Values{"token": {token}, "payload": {`{"total":"bad"}`}}
	req := httptest.NewRequest("POST", "/correct", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "owed shares do not sum") {
		t.Errorf("error not shown: %s", body)
	}
	if !strings.Contains(body, "total") {
		t.Errorf("submitted payload not redisplayed: %s", body)
	}
}
