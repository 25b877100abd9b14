package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/librarian/internal/middleware"
	"github.com/qcom/librarian/internal/models"
	"github.com/sirupsen/logrus"
)

// APIPrefix is where the routes live; clients use it as part of their base URL.
const APIPrefix = "/api"

func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix(APIPrefix).Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/signup", authHandlers.SignUp).Methods("POST", "OPTIONS")
	auth.HandleFunc("/refresh-token", authHandlers.RefreshToken).Methods("POST", "OPTIONS")

	protected := authMiddleware.RequireAuth
	auth.Handle("/logout", protected(http.HandlerFunc(authHandlers.Logout))).Methods("POST", "OPTIONS")
	auth.Handle("/password", protected(http.HandlerFunc(authHandlers.ChangePassword))).Methods("POST", "OPTIONS")
	auth.Handle("/profile", protected(http.HandlerFunc(authHandlers.UpdateProfile))).Methods("POST", "OPTIONS")
	auth.Handle("/me", protected(http.HandlerFunc(authHandlers.Me))).Methods("GET", "OPTIONS")

	adminOnly := authMiddleware.RequireRole(models.RoleAdmin)
	api.Handle("/users", protected(adminOnly(http.HandlerFunc(authHandlers.ListUsers)))).Methods("GET", "OPTIONS")

	return router
}
