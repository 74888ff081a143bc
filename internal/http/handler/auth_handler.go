package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/throttlecove/throttlecove/internal/http/middleware"
	"github.com/throttlecove/throttlecove/internal/http/response"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
	"github.com/throttlecove/throttlecove/internal/security"
	"github.com/throttlecove/throttlecove/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed json body", nil)
		return
	}
	if msg := validateRegister(&req); msg != "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", msg, nil)
		return
	}
	result, err := h.auth.Register(service.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	}, clientInfo(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "user_id", result.User.ID, "username", result.User.Username)
	response.JSON(w, r, http.StatusCreated, result)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed json body", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "username and password are required", nil)
		return
	}
	result, err := h.auth.Login(req.Username, req.Password, clientInfo(r))
	if err != nil {
		observability.Audit(r, "auth.login.failed", "identifier", req.Username)
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "user_id", result.User.ID, "username", result.User.Username)
	response.JSON(w, r, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "refresh_token is required", nil)
		return
	}
	result, err := h.auth.Refresh(req.RefreshToken, clientInfo(r))
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	if err := h.auth.Logout(claims.SessionID); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "session_id", claims.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Session answers "who am I" for the current access token, re-validating
// the backing session row.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	user, err := h.auth.CurrentUser(claims)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired access token", nil)
		return
	}
	views, err := h.auth.Sessions(userID, claims.SessionID)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

type profileRequest struct {
	FullName  *string `json:"full_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatar_url"`
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired access token", nil)
		return
	}
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed json body", nil)
		return
	}
	if req.Email != nil && !validEmail(*req.Email) {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "email is not valid", nil)
		return
	}
	user, err := h.auth.UpdateProfile(userID, repository.ProfileUpdate{
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.profile_updated", "user_id", userID)
	response.JSON(w, r, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired access token", nil)
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed json body", nil)
		return
	}
	if len(req.NewPassword) < 8 {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "new password must be at least 8 characters", nil)
		return
	}
	if err := h.auth.ChangePassword(userID, req.CurrentPassword, req.NewPassword, claims.SessionID); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password_changed", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	userID, err := security.UserIDFromSubject(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired access token", nil)
		return
	}
	if err := h.auth.DeleteAccount(userID); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.account_deleted", "user_id", userID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "account_deleted"})
}

// writeAuthError maps the service error taxonomy onto stable codes. Storage
// errors fall through to a logged 500 with no internals leaked.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if dup, ok := repository.IsDuplicateUser(err); ok {
		response.Error(w, r, http.StatusBadRequest, "DUPLICATE_USER", dup.Error(), map[string]string{"field": dup.Field})
		return
	}
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password", nil)
	case errors.Is(err, service.ErrAccountLocked):
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", "account temporarily locked, try again later", nil)
	case errors.Is(err, security.ErrInvalidToken):
		response.Error(w, r, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired token", nil)
	case errors.Is(err, repository.ErrUserNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	default:
		observability.Audit(r, "auth.internal_error", "error", err.Error())
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func validateRegister(req *registerRequest) string {
	switch {
	case strings.TrimSpace(req.Username) == "":
		return "username is required"
	case len(req.Username) > 64:
		return "username too long"
	case !validEmail(req.Email):
		return "email is not valid"
	case len(req.Password) < 8:
		return "password must be at least 8 characters"
	case strings.TrimSpace(req.FullName) == "":
		return "full_name is required"
	}
	return ""
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && len(email) <= 255
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}
