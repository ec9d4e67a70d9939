package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gncyclemart/shop-api/internal/auth"
	"github.com/gncyclemart/shop-api/internal/models"
)

type message struct {
	Message string `json:"message"`
}

// LoginHandler handles POST /api/users/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a.writeAuth(w, r, http.StatusOK)(a.users.Login(r.Context(), req))
}

// RegisterHandler handles POST /api/users/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a.writeAuth(w, r, http.StatusCreated)(a.users.Register(r.Context(), req))
}

// GoogleLoginHandler handles POST /api/users/google-login
func (a *App) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GoogleLoginRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a.writeAuth(w, r, http.StatusOK)(a.users.GoogleLogin(r.Context(), req))
}

func (a *App) writeAuth(w http.ResponseWriter, r *http.Request, status int) func(*models.AuthResponse, error) {
	return func(resp *models.AuthResponse, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, resp)
	}
}

// VerifyEmailHandler handles GET /api/users/verify-email
func (a *App) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.users.VerifyEmail(r.Context(), auth.PrincipalFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Thanks for activating your account. You can close this window now.")
}

// PasswordResetRequestHandler handles POST /api/users/password-reset-request
func (a *App) PasswordResetRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordResetRequest
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{fmt.Sprintf("We have sent you a recovery email to %s", req.Email)})
}

// PasswordResetHandler handles POST /api/users/password-reset
func (a *App) PasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordResetBody
	if err := a.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.users.ResetPassword(r.Context(), auth.PrincipalFrom(r.Context()), req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Your password has been updated successfully."})
}

// ListUsersHandler handles GET /api/users
func (a *App) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.users.ListUsers(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// DeleteUserHandler handles DELETE /api/users/{id}
func (a *App) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.users.DeleteUser(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Account deleted successfully"})
}

// DeleteAccountHandler handles DELETE /api/users/delete-account/{id}
func (a *App) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.users.DeleteAccount(r.Context(), auth.PrincipalFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{"Account deleted successfully"})
}
