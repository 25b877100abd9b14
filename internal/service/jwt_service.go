package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/qcom/librarian/internal/config"
	"github.com/qcom/librarian/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	clock         clockwork.Clock
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, clock clockwork.Clock, logger *logrus.Logger) (*JWTService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &JWTService{
		secretKey:     []byte(cfg.SecretKey),
		issuer:        cfg.Issuer,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		clock:         clock,
		logger:        logger,
	}, nil
}

// AccessClaims carries the profile claims the client projects its identity
// from. The namespaced names are the ones ASP.NET identity issues.
type AccessClaims struct {
	UserName    string `json:"unique_name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Gender      string `json:"gender,omitempty"`
	MobilePhone string `json:"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/mobilephone,omitempty"`
	DateOfBirth string `json:"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/dateofbirth,omitempty"`
	Locality    string `json:"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/locality,omitempty"`
	Role        string `json:"http://schemas.microsoft.com/ws/2008/06/identity/claims/role"`
	Type        string `json:"type"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	Type     string `json:"type"`
	FamilyID string `json:"fam"`
	jwt.RegisteredClaims
}

// IssuedPair is a freshly signed pair plus the refresh claims needed to
// record it.
type IssuedPair struct {
	models.TokenPair
	Refresh *RefreshClaims
}

// Issue signs an access/refresh pair for user. An empty familyID starts a
// new rotation family.
func (s *JWTService) Issue(user *models.User, familyID string) (*IssuedPair, error) {
	now := s.clock.Now()
	if familyID == "" {
		familyID = uuid.New().String()
	}

	accessClaims := &AccessClaims{
		UserName:    user.UserName,
		GivenName:   user.FirstName,
		FamilyName:  user.LastName,
		Email:       user.Email,
		Gender:      user.Gender.String(),
		MobilePhone: user.PhoneNumber,
		DateOfBirth: user.DateOfBirth,
		Locality:    user.Address,
		Role:        user.Role.String(),
		Type:        tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			ID:        uuid.New().String(),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshClaims := &RefreshClaims{
		Type:     tokenTypeRefresh,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			ID:        uuid.New().String(),
		},
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &IssuedPair{
		TokenPair: models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken},
		Refresh:   refreshClaims,
	}, nil
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return nil
}

func (s *JWTService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return claims, nil
}

func (s *JWTService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return claims, nil
}

func GenerateSecretKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
