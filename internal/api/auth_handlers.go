package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/auth"
	"exchange-sim/internal/types"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// handleRegister creates a user account and issues a bearer token. Real
// identity-provider concerns (rate limiting, email verification, password
// policy) are the external auth collaborator's job per spec.md §1; this
// is the local/test stand-in register/login flow the REST surface names.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, apierr.New(apierr.Invalid, "username and password are required"))
		return
	}
	if _, err := s.deps.Repo.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, apierr.New(apierr.Invalid, "username already taken"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "hashing password", err))
		return
	}

	startingCash := s.deps.StartingCash
	if startingCash <= 0 {
		startingCash = 100000
	}
	u := types.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Cash:         startingCash,
		StartingCash: startingCash,
		Role:         types.RoleUser,
		CreatedAt:    time.Now(),
	}
	if err := s.deps.Repo.InsertUser(r.Context(), u); err != nil {
		writeError(w, apierr.Wrap(apierr.Internal, "creating user", err))
		return
	}

	token := s.deps.Issuer.Issue(types.Principal{UserID: u.ID, Username: u.Username, Role: u.Role})
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.deps.Repo.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, apierr.New(apierr.Unauthorized, "invalid credentials"))
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(w, apierr.New(apierr.Unauthorized, "invalid credentials"))
		return
	}
	token := s.deps.Issuer.Issue(types.Principal{UserID: u.ID, Username: u.Username, Role: u.Role})
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	u, err := s.deps.Repo.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.NotFound, "user not found", err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}
