package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/qcom/librarian/internal/config"
	"github.com/qcom/librarian/internal/middleware"
	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/repository"
	"github.com/qcom/librarian/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router http.Handler
	users  *service.UserService
	tokens *service.RefreshTokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     strings.Repeat("s", 32),
		Issuer:        "librarian-test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}, clockwork.NewRealClock(), logger)
	require.NoError(t, err)

	userRepo := repository.NewMemoryUserRepository()
	users := service.NewUserService(userRepo, logger)
	tokens := service.NewRefreshTokenService(jwtService, repository.NewMemoryRefreshTokenRepository(), userRepo, logger)

	router := NewRouter(
		NewAuthHandlers(users, tokens, logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		logger,
	)
	return &testServer{router: router, users: users, tokens: tokens}
}

func (s *testServer) call(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, APIPrefix+path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[ErrorResponse](t, rec).Error.Code
}

func signUpRequest() models.SignUpRequest {
	return models.SignUpRequest{
		FirstName:   "Grace",
		LastName:    "Hopper",
		UserName:    "grace",
		Email:       "grace@library.test",
		Password:    "cobol-forever",
		PhoneNumber: "+12025550100",
		Gender:      models.GenderFemale,
		DateOfBirth: "1906-12-09",
	}
}

func TestSignUpAndLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest())
	require.Equal(t, http.StatusCreated, rec.Code)
	pair := decode[models.TokenPair](t, rec)
	assert.True(t, pair.Complete())

	rec = s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USER_EXISTS", errorCode(t, rec))

	rec = s.call(t, http.MethodPost, "/auth/login", "", models.LoginRequest{UserNameOrEmail: "grace@library.test", Password: "cobol-forever"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.TokenPair](t, rec).Complete())

	rec = s.call(t, http.MethodPost, "/auth/login", "", models.LoginRequest{UserNameOrEmail: "grace", Password: "fortran"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))
}

func TestSignUp_InvalidInput(t *testing.T) {
	s := newTestServer(t)
	req := signUpRequest()
	req.Password = "short"

	rec := s.call(t, http.MethodPost, "/auth/signup", "", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))
}

func TestLogin_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestRefreshToken(t *testing.T) {
	s := newTestServer(t)
	pair := decode[models.TokenPair](t, s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest()))

	rec := s.call(t, http.MethodPost, "/auth/refresh-token", "", models.RefreshTokenRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_TOKEN", errorCode(t, rec))

	rec = s.call(t, http.MethodPost, "/auth/refresh-token", "", models.RefreshTokenRequest{RefreshToken: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))

	rec = s.call(t, http.MethodPost, "/auth/refresh-token", "", models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[models.TokenPair](t, rec)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	rec = s.call(t, http.MethodPost, "/auth/refresh-token", "", models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, rec))
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/auth/logout", "/auth/password", "/auth/profile"} {
		rec := s.call(t, http.MethodPost, path, "", struct{}{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	rec := s.call(t, http.MethodGet, "/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func TestMeAndUpdateProfile(t *testing.T) {
	s := newTestServer(t)
	pair := decode[models.TokenPair](t, s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest()))

	rec := s.call(t, http.MethodGet, "/auth/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.Identity](t, rec)
	assert.Equal(t, "grace", me.UserName)
	assert.Equal(t, "User", me.Role)
	assert.Equal(t, "Female", me.Gender)

	address := "Arlington"
	rec = s.call(t, http.MethodPost, "/auth/profile", pair.AccessToken, models.UpdateProfileRequest{Address: &address})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[models.Identity](t, rec)
	assert.Equal(t, "Arlington", updated.Address)
	assert.Equal(t, "Grace", updated.FirstName)

	bad := "not-an-email"
	rec = s.call(t, http.MethodPost, "/auth/profile", pair.AccessToken, models.UpdateProfileRequest{Email: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	pair := decode[models.TokenPair](t, s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest()))

	rec := s.call(t, http.MethodPost, "/auth/password", pair.AccessToken, models.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "flow-matic"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, rec))

	rec = s.call(t, http.MethodPost, "/auth/password", pair.AccessToken, models.ChangePasswordRequest{CurrentPassword: "cobol-forever", NewPassword: "flow-matic"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.call(t, http.MethodPost, "/auth/login", "", models.LoginRequest{UserNameOrEmail: "grace", Password: "flow-matic"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	s := newTestServer(t)
	pair := decode[models.TokenPair](t, s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest()))

	rec := s.call(t, http.MethodPost, "/auth/logout", pair.AccessToken, struct{}{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.call(t, http.MethodPost, "/auth/refresh-token", "", models.RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, rec))
}

func TestListUsersRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	userPair := decode[models.TokenPair](t, s.call(t, http.MethodPost, "/auth/signup", "", signUpRequest()))

	rec := s.call(t, http.MethodGet, "/users", userPair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	adminReq := signUpRequest()
	adminReq.UserName, adminReq.Email = "admin", "admin@library.test"
	admin, err := s.users.Seed(ctx, adminReq, models.RoleAdmin)
	require.NoError(t, err)
	adminPair, err := s.tokens.Issue(ctx, admin)
	require.NoError(t, err)

	rec = s.call(t, http.MethodGet, "/users", adminPair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]models.Identity](t, rec)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].UserName)
	assert.Equal(t, "grace", users[1].UserName)
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodOptions, APIPrefix+"/auth/me", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
