package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/223-Media/223media-website/internal/authz"
	"github.com/223-Media/223media-website/internal/identity"
	"github.com/223-Media/223media-website/internal/lockout"
	"github.com/223-Media/223media-website/internal/token"
)

const testBcryptCost = 4

type sessionFixture struct {
	handler *Handler
	store   *identity.MemoryStore
	tokens  *token.Service
	clock   *time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	store := identity.NewMemoryStore(testBcryptCost).WithClock(now)
	_, err := store.Create(context.Background(), identity.NewUser{
		Email:    "client@studio.fm",
		Password: "hunter22",
		Name:     "Client",
	})
	require.NoError(t, err)

	tokens := token.NewService(store, "test-secret").WithClock(now)
	locks := lockout.NewTracker(5, 15*time.Minute).WithClock(now)

	return &sessionFixture{
		handler: NewHandler(store, tokens, locks, false, 15*time.Minute, 7*24*time.Hour),
		store:   store,
		tokens:  tokens,
		clock:   &current,
	}
}

func (f *sessionFixture) login(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var body sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func TestLoginSuccess(t *testing.T) {
	f := newSessionFixture(t)

	rec := f.login(t, `{"email":"Client@Studio.FM","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	session := decodeSession(t, rec)
	require.True(t, session.Success)
	require.Equal(t, "client@studio.fm", session.User.Email)
	require.NotEmpty(t, session.Token)
	require.NotEmpty(t, session.RefreshToken)
	require.Equal(t, int64(900), session.ExpiresIn)

	require.Equal(t, session.Token, cookieValue(rec, authz.AccessCookie))
	require.Equal(t, session.RefreshToken, cookieValue(rec, RefreshCookie))

	claims, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	require.Equal(t, token.KindAccess, claims.TokenType)
}

func TestLoginRejectsMissingFields(t *testing.T) {
	f := newSessionFixture(t)

	for _, body := range []string{``, `{}`, `{"email":"client@studio.fm"}`, `{"email":"not-an-email","password":"x"}`} {
		rec := f.login(t, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		require.Equal(t, "MISSING_CREDENTIALS", decodeCode(t, rec))
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newSessionFixture(t)

	rec := f.login(t, `{"email":"client@studio.fm","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_CREDENTIALS", decodeCode(t, rec))
}

func TestLoginUnknownAccountLooksLikeWrongPassword(t *testing.T) {
	f := newSessionFixture(t)

	rec := f.login(t, `{"email":"nobody@studio.fm","password":"whatever"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_CREDENTIALS", decodeCode(t, rec))
}

func TestLockoutBlocksEvenCorrectPassword(t *testing.T) {
	f := newSessionFixture(t)

	for i := 0; i < 5; i++ {
		rec := f.login(t, `{"email":"client@studio.fm","password":"wrong"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// The sixth attempt carries the right password but the account is locked.
	rec := f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Code       string `json:"code"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ACCOUNT_LOCKED", body.Code)
	require.Equal(t, 900, body.RetryAfter)

	// Once the lock expires the same credentials work again.
	*f.clock = f.clock.Add(15*time.Minute + time.Second)
	rec = f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLockoutCoversSourceAddress(t *testing.T) {
	f := newSessionFixture(t)

	// Failures across different accounts from one source lock the source.
	for i := 0; i < 5; i++ {
		f.login(t, `{"email":"nobody`+string(rune('a'+i))+`@studio.fm","password":"wrong"}`)
	}

	rec := f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "ACCOUNT_LOCKED", decodeCode(t, rec))
}

func TestSuccessfulLoginResetsFailureCount(t *testing.T) {
	f := newSessionFixture(t)

	for i := 0; i < 4; i++ {
		f.login(t, `{"email":"client@studio.fm","password":"wrong"}`)
	}
	rec := f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The counter restarted: four more failures do not lock.
	for i := 0; i < 4; i++ {
		f.login(t, `{"email":"client@studio.fm","password":"wrong"}`)
	}
	rec = f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refreshToken":"`+session.RefreshToken+`"}`))
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decodeSession(t, rec)
	require.NotEmpty(t, refreshed.Token)
	require.Empty(t, refreshed.RefreshToken)
	require.Equal(t, session.User.Email, refreshed.User.Email)
}

func TestRefreshFallsBackToCookie(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: session.RefreshToken})
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshWithoutToken(t *testing.T) {
	f := newSessionFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "NO_REFRESH_TOKEN", decodeCode(t, rec))
}

func TestRefreshRejectsRevokedToken(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))
	f.tokens.RevokeRefresh(session.RefreshToken)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refreshToken":"`+session.RefreshToken+`"}`))
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, rec))
}

func TestRefreshRejectsAccessTokenInPlaceOfRefresh(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refreshToken":"`+session.Token+`"}`))
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, rec))
}

func TestRefreshRejectsDeactivatedUser(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))
	_, err := f.store.SetActive(context.Background(), "client@studio.fm", false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refreshToken":"`+session.RefreshToken+`"}`))
	rec := httptest.NewRecorder()
	f.handler.Refresh(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_REFRESH_TOKEN", decodeCode(t, rec))
}

func TestLogoutInvalidatesSession(t *testing.T) {
	f := newSessionFixture(t)

	session := decodeSession(t, f.login(t, `{"email":"client@studio.fm","password":"hunter22"}`))

	// Logout runs behind the authentication gate, which is what stores the
	// raw access token in the request context.
	gate := authz.New(f.tokens, f.store, false)
	logout := gate.Authenticate(http.HandlerFunc(f.handler.Logout))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", strings.NewReader(`{"refreshToken":"`+session.RefreshToken+`"}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	logout.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	// Both cookies are cleared.
	for _, cookie := range rec.Result().Cookies() {
		require.Empty(t, cookie.Value)
		require.Negative(t, cookie.MaxAge)
	}

	// The access token is now blacklisted and the refresh token revoked.
	_, err := f.tokens.Verify(session.Token)
	require.ErrorIs(t, err, token.ErrRevoked)

	refreshReq := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refreshToken":"`+session.RefreshToken+`"}`))
	refreshRec := httptest.NewRecorder()
	f.handler.Refresh(refreshRec, refreshReq)
	require.Equal(t, http.StatusUnauthorized, refreshRec.Code)
}

func TestMe(t *testing.T) {
	f := newSessionFixture(t)

	user, found, err := f.store.Lookup(context.Background(), "client@studio.fm")
	require.NoError(t, err)
	require.True(t, found)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(identity.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	f.handler.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool          `json:"success"`
		User    identity.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "client@studio.fm", body.User.Email)
}

func TestMeWithoutIdentity(t *testing.T) {
	f := newSessionFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	f.handler.Me(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AUTH_REQUIRED", decodeCode(t, rec))
}
