package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/librarian/internal/middleware"
	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/repository"
	"github.com/qcom/librarian/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	userService         *service.UserService
	refreshTokenService *service.RefreshTokenService
	logger              *logrus.Logger
}

func NewAuthHandlers(
	userService *service.UserService,
	refreshTokenService *service.RefreshTokenService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		userService:         userService,
		refreshTokenService: refreshTokenService,
		logger:              logger,
	}
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	login := strings.TrimSpace(req.UserNameOrEmail)
	if login == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", "User name or email and password are required")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), login, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user name, email or password")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to authenticate user")
		h.respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in")
		return
	}

	h.issueTokens(w, r, http.StatusOK, user)
}

func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, err := h.userService.Register(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	case errors.Is(err, repository.ErrUserExists):
		h.respondWithError(w, http.StatusConflict, "USER_EXISTS", "User name or email is already taken")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to register user")
		h.respondWithError(w, http.StatusInternalServerError, "USER_CREATION_FAILED", "Failed to create user")
		return
	}

	h.issueTokens(w, r, http.StatusCreated, user)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	pair, err := h.refreshTokenService.Rotate(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, service.ErrTokenRevoked):
		h.respondWithError(w, http.StatusUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
		return
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, repository.ErrUserNotFound):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to rotate refresh token")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	if err := h.refreshTokenService.RevokeUser(r.Context(), claims.Subject); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to revoke session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req models.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	err := h.userService.ChangePassword(r.Context(), claims.Subject, req)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		h.respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Current password is incorrect")
		return
	case errors.Is(err, service.ErrInvalidInput):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	case errors.Is(err, repository.ErrUserNotFound):
		h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to change password")
		h.respondWithError(w, http.StatusInternalServerError, "PASSWORD_CHANGE_FAILED", "Failed to change password")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully",
	})
}

func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), claims.Subject, req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	case errors.Is(err, repository.ErrUserExists):
		h.respondWithError(w, http.StatusConflict, "USER_EXISTS", "User name or email is already taken")
		return
	case errors.Is(err, repository.ErrUserNotFound):
		h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to update profile")
		h.respondWithError(w, http.StatusInternalServerError, "PROFILE_UPDATE_FAILED", "Failed to update profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, user.Identity())
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	user, err := h.userService.Get(r.Context(), claims.Subject)
	if errors.Is(err, repository.ErrUserNotFound) {
		h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load user")
		h.respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to load user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, user.Identity())
}

func (h *AuthHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list users")
		h.respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to list users")
		return
	}

	identities := make([]models.Identity, 0, len(users))
	for i := range users {
		identities = append(identities, users[i].Identity())
	}
	h.respondWithJSON(w, http.StatusOK, identities)
}

func (h *AuthHandlers) issueTokens(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	pair, err := h.refreshTokenService.Issue(r.Context(), user)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate tokens")
		h.respondWithError(w, http.StatusInternalServerError, "TOKEN_GENERATION_FAILED", "Failed to generate tokens")
		return
	}
	h.respondWithJSON(w, status, pair)
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
