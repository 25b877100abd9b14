package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/qcom/librarian/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("backend unavailable")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}

func userToken(t *testing.T, sub string, exp time.Time) string {
	return makeToken(t, jwt.MapClaims{
		ClaimSubject:    sub,
		ClaimUniqueName: "reader-" + sub,
		ClaimGivenName:  "Ada",
		ClaimFamilyName: "Lovelace",
		ClaimEmail:      sub + "@library.test",
		ClaimRole:       "User",
		"exp":           exp.Unix(),
	})
}

func pairFor(t *testing.T, sub string, exp time.Time, refresh string) models.TokenPair {
	return models.TokenPair{AccessToken: userToken(t, sub, exp), RefreshToken: refresh}
}

// fakeAPI records calls and the state of the bearer header.
type fakeAPI struct {
	mu sync.Mutex

	loginPair    models.TokenPair
	loginErr     error
	loginGate    chan struct{}
	loginStarted chan struct{}
	signUpPair   models.TokenPair
	signUpErr  error

	refreshPairs    []models.TokenPair
	refreshErr      error
	refreshCalls    int
	refreshTokens   []string
	headerAtRefresh []string
	// refreshGate, when set, holds RefreshToken until it is closed.
	refreshGate    chan struct{}
	refreshStarted chan struct{}

	logoutCalls   int
	logoutErr     error
	logoutTokens  []string
	logoutGate    chan struct{}
	logoutStarted chan struct{}

	passwordErr error
	passwordReq *models.ChangePasswordRequest
	profileErr  error
	profileReqs []models.UpdateProfileRequest

	authToken string
}

func (f *fakeAPI) Login(_ context.Context, _ models.LoginRequest) (models.TokenPair, error) {
	f.mu.Lock()
	gate, started := f.loginGate, f.loginStarted
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginPair, f.loginErr
}

func (f *fakeAPI) SignUp(_ context.Context, _ models.SignUpRequest) (models.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signUpPair, f.signUpErr
}

func (f *fakeAPI) RefreshToken(_ context.Context, refreshToken string) (models.TokenPair, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.refreshTokens = append(f.refreshTokens, refreshToken)
	f.headerAtRefresh = append(f.headerAtRefresh, f.authToken)
	gate, started := f.refreshGate, f.refreshStarted
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return models.TokenPair{}, f.refreshErr
	}
	if len(f.refreshPairs) == 0 {
		return models.TokenPair{}, errBackendDown
	}
	pair := f.refreshPairs[0]
	f.refreshPairs = f.refreshPairs[1:]
	return pair, nil
}

func (f *fakeAPI) Logout(_ context.Context, accessToken string) error {
	f.mu.Lock()
	f.logoutCalls++
	f.logoutTokens = append(f.logoutTokens, accessToken)
	gate, started, err := f.logoutGate, f.logoutStarted, f.logoutErr
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAPI) ChangePassword(_ context.Context, req models.ChangePasswordRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwordReq = &req
	return f.passwordErr
}

func (f *fakeAPI) UpdateProfile(_ context.Context, req models.UpdateProfileRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileReqs = append(f.profileReqs, req)
	return f.profileErr
}

func (f *fakeAPI) SetAuthToken(token string) {
	f.mu.Lock()
	f.authToken = token
	f.mu.Unlock()
}

func (f *fakeAPI) ClearAuthToken() {
	f.mu.Lock()
	f.authToken = ""
	f.mu.Unlock()
}

func (f *fakeAPI) header() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authToken
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAPI) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func (f *fakeAPI) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logoutTokens...)
}
