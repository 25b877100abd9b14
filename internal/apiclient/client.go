// Package apiclient talks to the library backend over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qcom/librarian/internal/models"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

// ErrInvalidCredentials is returned when the backend rejects a login or a
// password change with 401.
var ErrInvalidCredentials = errors.New("invalid credentials")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d %s: %s", e.Status, e.Code, e.Message)
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client holds a default Authorization header shared by every request it
// sends.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger

	mu        sync.RWMutex
	authToken string
}

// New creates a client for baseURL. A zero timeout leaves requests bounded
// only by their context.
func New(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *Client) ClearAuthToken() {
	c.mu.Lock()
	c.authToken = ""
	c.mu.Unlock()
}

// AuthToken returns the bearer token currently attached, if any.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.TokenPair, error) {
	var pair models.TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &pair); err != nil {
		return models.TokenPair{}, credentialsError(err)
	}
	return pair, nil
}

func (c *Client) SignUp(ctx context.Context, req models.SignUpRequest) (models.TokenPair, error) {
	var pair models.TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &pair); err != nil {
		return models.TokenPair{}, err
	}
	return pair, nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	var pair models.TokenPair
	req := models.RefreshTokenRequest{RefreshToken: refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh-token", req, &pair); err != nil {
		return models.TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes the refresh tokens of the account behind accessToken. The
// token is sent as the bearer in place of the attached header.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.send(ctx, accessToken, http.MethodPost, "/auth/logout", struct{}{}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, req models.ChangePasswordRequest) error {
	return credentialsError(c.do(ctx, http.MethodPost, "/auth/password", req, nil))
}

func (c *Client) UpdateProfile(ctx context.Context, req models.UpdateProfileRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/profile", req, nil)
}

// Me returns the account of the attached bearer token as the backend sees it.
func (c *Client) Me(ctx context.Context) (*models.Identity, error) {
	var identity models.Identity
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// Users lists every account. Admin only.
func (c *Client) Users(ctx context.Context) ([]models.Identity, error) {
	var users []models.Identity
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.send(ctx, c.AuthToken(), method, path, body, out)
}

func (c *Client) send(ctx context.Context, bearer, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	})

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("Request failed")
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log = log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Error.Code
			apiErr.Message = payload.Error.Message
		}
		log.WithField("code", apiErr.Code).Debug("Backend rejected request")
		return apiErr
	}
	log.Debug("Request completed")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func credentialsError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return err
}
