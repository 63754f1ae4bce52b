package routes

import (
	"encoding/json"
	"net/http"

	"github.com/formforge/platform/pkg/common/logger"
	gatewayauth "github.com/formforge/platform/pkg/gateway/auth"
	"github.com/formforge/platform/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

type AuthHandler struct {
	authenticator *gatewayauth.OIDCAuthenticator
}

func NewAuthHandler(authenticator *gatewayauth.OIDCAuthenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.Authenticate(h.authenticator))
	protected.HandleFunc("/auth/me", h.handleMe).Methods(http.MethodGet)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	token, err := h.authenticator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logger.Log.WithError(err).Warn("authentication failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(middleware.UserContextKey).(*gatewayauth.Claims)
	if !ok || claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sub":   claims.Subject,
		"email": claims.Email,
		"role":  claims.Role,
	})
}
