package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/auth"
	"github.com/jason-s-yu/checkers/internal/models"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// CreateUserHandler registers an account. Emails are stored lower-cased.
func (s *GameServer) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeError(w, fmt.Errorf("%w: email, username and password are required", apperror.ErrMalformedMessage))
		return
	}

	hash, err := auth.HashPassword(req.Password, s.PasswordParams)
	if err != nil {
		writeError(w, fmt.Errorf("%w: hash password: %v", apperror.ErrStorage, err))
		return
	}
	user := models.User{Email: req.Email, Username: req.Username, Password: hash}
	if err := s.Users.CreateUser(r.Context(), &user); err != nil {
		if !errors.Is(err, apperror.ErrUserExists) {
			s.Logger.WithError(err).Error("error creating user")
			err = fmt.Errorf("%w: create user: %v", apperror.ErrStorage, err)
		}
		writeError(w, err)
		return
	}

	user.Password = ""
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string    `json:"token"`
	UserID uuid.UUID `json:"userId"`
}

// LoginHandler handles user login requests. It expects a JSON payload with email and password,
// and returns a JSON response with an authentication token if the login is successful.
//
// Request payload:
//
//	{
//	  "email": "someone@example.com",
//	  "password": "password"
//	}
//
// Response payload:
//
//	{
//	  "token": "{jwt}",
//	  "userId": "{uuid}"
//	}
//
// The token is also sent via the Cookie header.
func (s *GameServer) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := s.Users.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, apperror.ErrUserNotFound) {
		writeError(w, apperror.ErrBadCredentials)
		return
	}
	if err != nil {
		s.Logger.WithError(err).Error("failed to look up user")
		writeError(w, fmt.Errorf("%w: lookup user: %v", apperror.ErrStorage, err))
		return
	}

	match, err := auth.VerifyPassword(req.Password, user.Password)
	if err != nil || !match {
		if err != nil {
			s.Logger.WithField("user_id", user.ID).WithError(err).Warn("stored password hash is unreadable")
		}
		writeError(w, apperror.ErrBadCredentials)
		return
	}

	token, err := s.Issuer.Issue(user.ID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: issue token: %v", apperror.ErrStorage, err))
		return
	}

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
	if ttl := s.Issuer.TTL(); ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, cookie)

	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID})
}

func (s *GameServer) handleMe(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	user, err := s.Users.GetUserByID(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, apperror.ErrUserNotFound) {
			err = fmt.Errorf("%w: lookup user: %v", apperror.ErrStorage, err)
		}
		writeError(w, err)
		return
	}
	user.Password = ""
	writeJSON(w, http.StatusOK, user)
}
