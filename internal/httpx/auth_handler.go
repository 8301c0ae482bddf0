package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fournildore/boulangerie-api/internal/auth"
)

type AuthHandler struct {
	Service *auth.Service
}

func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/login", h.login)
}

func (h *AuthHandler) RegisterAdmin(r chi.Router) {
	r.Get("/auth/me", h.me)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	Token string     `json:"token"`
	Admin auth.Admin `json:"admin"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid json body", nil)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "email and password are required", nil)
		return
	}
	token, admin, err := h.Service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResp{Token: token, Admin: admin})
}

func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.AdminFromContext(r.Context())
	if !ok {
		Unauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    claims.Subject,
		"email": claims.Email,
		"name":  claims.Name,
	})
}
