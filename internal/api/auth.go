package api

import (
	"net/http"

	"github.com/soaringjerry/Formsy/internal/middleware"
	"github.com/soaringjerry/Formsy/internal/utils"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// POST /api/auth/register
func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, "register", err)
		return
	}
	res, err := rt.accounts.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		rt.writeError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/auth/login
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		rt.writeError(w, r, "login", err)
		return
	}
	res, err := rt.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		rt.writeError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/auth/me
func (rt *Router) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := rt.accounts.Me(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		rt.writeError(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       "Formsy API",
		"locale":     locale,
		"msg":        utils.T(locale, "health.ok"),
		"commit":     rt.opts.Commit,
		"build_time": rt.opts.BuildTime,
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commit":     rt.opts.Commit,
		"build_time": rt.opts.BuildTime,
	})
}
