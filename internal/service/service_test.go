package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/qcom/librarian/internal/config"
	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/repository"
	"github.com/qcom/librarian/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	clock  clockwork.FakeClock
	jwt    *JWTService
	users  *UserService
	tokens *RefreshTokenService
	repo   *repository.MemoryUserRepository
}

func testConfig() *config.JWTConfig {
	return &config.JWTConfig{
		SecretKey:     strings.Repeat("k", 32),
		Issuer:        "librarian-test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	jwtService, err := NewJWTService(testConfig(), clock, logger)
	require.NoError(t, err)

	repo := repository.NewMemoryUserRepository()
	return &fixture{
		clock:  clock,
		jwt:    jwtService,
		users:  NewUserService(repo, logger),
		tokens: NewRefreshTokenService(jwtService, repository.NewMemoryRefreshTokenRepository(), repo, logger),
		repo:   repo,
	}
}

func signUp() models.SignUpRequest {
	return models.SignUpRequest{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		UserName:    "ada",
		Email:       "ada@library.test",
		Password:    "analytical-engine",
		PhoneNumber: "+442079460000",
		Gender:      models.GenderFemale,
		DateOfBirth: "1815-12-10",
		Address:     "London",
	}
}

func TestNewJWTService_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.SecretKey = "short"
	_, err := NewJWTService(cfg, clockwork.NewRealClock(), logrus.New())
	assert.Error(t, err)
}

func TestJWTService_AccessTokenProjectsOnClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	issued, err := f.jwt.Issue(user, "")
	require.NoError(t, err)

	identity, err := session.IdentityFromToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &models.Identity{
		ID:          user.ID,
		UserName:    "ada",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@library.test",
		PhoneNumber: "+442079460000",
		Gender:      "Female",
		DateOfBirth: "1815-12-10",
		Address:     "London",
		Role:        "User",
	}, identity)

	assert.Equal(t, int64(15*60), session.RemainingSeconds(issued.AccessToken, f.clock.Now()))
}

func TestJWTService_Verify(t *testing.T) {
	f := newFixture(t)
	user := &models.User{ID: "1", UserName: "ada", Role: models.RoleAdmin}

	issued, err := f.jwt.Issue(user, "fam-1")
	require.NoError(t, err)
	assert.Equal(t, "fam-1", issued.Refresh.FamilyID)

	access, err := f.jwt.VerifyAccessToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", access.Subject)
	assert.Equal(t, "Admin", access.Role)

	_, err = f.jwt.VerifyAccessToken(issued.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.jwt.VerifyRefreshToken(issued.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	f.clock.Advance(16 * time.Minute)
	_, err = f.jwt.VerifyAccessToken(issued.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = f.jwt.VerifyRefreshToken(issued.RefreshToken)
	assert.NoError(t, err, "refresh token outlives the access token")
}

func TestJWTService_RejectsForeignSignature(t *testing.T) {
	f := newFixture(t)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessClaims{
		Type:             tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "librarian-test", Subject: "1", ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(time.Hour))},
	}).SignedString([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	_, err = f.jwt.VerifyAccessToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, "analytical-engine", user.PasswordHash)

	_, err = f.users.Register(ctx, signUp())
	assert.ErrorIs(t, err, repository.ErrUserExists)

	got, err := f.users.Authenticate(ctx, "ADA@library.test", "analytical-engine")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = f.users.Authenticate(ctx, "ada", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Authenticate(ctx, "nobody", "analytical-engine")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.SignUpRequest)
	}{
		{"short password", func(r *models.SignUpRequest) { r.Password = "short" }},
		{"missing user name", func(r *models.SignUpRequest) { r.UserName = " " }},
		{"user name looks like email", func(r *models.SignUpRequest) { r.UserName = "a@b" }},
		{"bad email", func(r *models.SignUpRequest) { r.Email = "not-an-email" }},
		{"bad phone number", func(r *models.SignUpRequest) { r.PhoneNumber = "0123" }},
		{"bad date of birth", func(r *models.SignUpRequest) { r.DateOfBirth = "10/12/1815" }},
		{"unknown gender", func(r *models.SignUpRequest) { r.Gender = models.Gender(7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signUp()
			tt.mutate(&req)
			_, err := f.users.Register(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestUserService_ChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	err = f.users.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "difference-engine"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.users.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{CurrentPassword: "analytical-engine", NewPassword: "tiny"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.users.ChangePassword(ctx, user.ID, models.ChangePasswordRequest{CurrentPassword: "analytical-engine", NewPassword: "difference-engine"}))
	_, err = f.users.Authenticate(ctx, "ada", "difference-engine")
	assert.NoError(t, err)
}

func TestUserService_UpdateProfileAndSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	name := "Augusta"
	updated, err := f.users.UpdateProfile(ctx, user.ID, models.UpdateProfileRequest{FirstName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Augusta", updated.FirstName)
	assert.Equal(t, "Lovelace", updated.LastName)

	bad := "nope"
	_, err = f.users.UpdateProfile(ctx, user.ID, models.UpdateProfileRequest{Email: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorContains(t, err, "email (email)")

	empty := ""
	_, err = f.users.UpdateProfile(ctx, user.ID, models.UpdateProfileRequest{UserName: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.users.UpdateProfile(ctx, user.ID, models.UpdateProfileRequest{PhoneNumber: &empty})
	assert.NoError(t, err, "clearing the phone number is allowed")

	admin := signUp()
	admin.UserName, admin.Email = "admin", "admin@library.test"
	seeded, err := f.users.Seed(ctx, admin, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, seeded.Role)

	again, err := f.users.Seed(ctx, admin, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, again.ID)
}

func TestRefreshTokenService_Rotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	first, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	second, err := f.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	firstClaims, err := f.jwt.VerifyRefreshToken(first.RefreshToken)
	require.NoError(t, err)
	secondClaims, err := f.jwt.VerifyRefreshToken(second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, firstClaims.FamilyID, secondClaims.FamilyID)

	// role changes show up on the next rotation
	stored, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	stored.Role = models.RoleSuperUser
	require.NoError(t, f.repo.Update(ctx, stored))

	third, err := f.tokens.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
	identity, err := session.IdentityFromToken(third.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "SuperUser", identity.Role)
}

func TestRefreshTokenService_ReuseRevokesFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	first, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)
	second, err := f.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.tokens.Rotate(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = f.tokens.Rotate(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked, "the legitimate successor dies with its family")
}

func TestRefreshTokenService_RevokeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.users.Register(ctx, signUp())
	require.NoError(t, err)

	phone, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)
	laptop, err := f.tokens.Issue(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.tokens.RevokeUser(ctx, user.ID))

	_, err = f.tokens.Rotate(ctx, phone.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	_, err = f.tokens.Rotate(ctx, laptop.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefreshTokenService_RejectsGarbage(t *testing.T) {
	f := newFixture(t)

	_, err := f.tokens.Rotate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
