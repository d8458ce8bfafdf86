package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ballotd/apiserver/internal/session"
	"github.com/ballotd/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// AuthHandler provides session endpoints.
type AuthHandler struct {
	users        UserService
	sessions     *session.Manager
	revoker      session.Revoker
	cookieSecure bool
	log          logrus.FieldLogger
}

func NewAuthHandler(users UserService, sessions *session.Manager, revoker session.Revoker, cookieSecure bool, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		users:        users,
		sessions:     sessions,
		revoker:      revoker,
		cookieSecure: cookieSecure,
		log:          log,
	}
}

// AuthRouter registers login, logout and current-user routes.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.With(h.RequireAuth).Get("/auth/me", h.Me)
}

// RequireAuth accepts a bearer token or the session cookie, rejects revoked
// sessions and injects the claims into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), claims)))
	})
}

func (h *AuthHandler) authenticate(r *http.Request) (session.Claims, error) {
	tokenString, err := sessionToken(r)
	if err != nil {
		return session.Claims{}, err
	}
	claims, err := h.sessions.Parse(tokenString)
	if err != nil {
		return session.Claims{}, err
	}
	revoked, err := h.revoker.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		h.log.WithError(err).Warn("revocation lookup failed")
		return session.Claims{}, err
	}
	if revoked {
		return session.Claims{}, errors.New("session revoked")
	}
	return claims, nil
}

// Login verifies credentials sent as a form or as JSON. On success it sets
// the session cookie and also returns the token for API clients.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := readCredentials(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	token, claims, err := h.sessions.Issue(user)
	if err != nil {
		h.log.WithError(err).Error("failed to sign session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.log.WithField("username", user.Username).Info("user logged in")
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout revokes the presented session, if any, and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if tokenString, err := sessionToken(r); err == nil {
		if claims, err := h.sessions.Parse(tokenString); err == nil {
			if err := h.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
				h.log.WithError(err).Error("failed to revoke session")
				writeError(w, http.StatusInternalServerError, "failed to end session")
				return
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusOK)
}

// Me returns the profile of the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Current(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func readCredentials(r *http.Request) (LoginRequest, error) {
	var req LoginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Username = r.PostForm.Get("username")
	req.Password = r.PostForm.Get("password")
	return req, nil
}

func sessionToken(r *http.Request) (string, error) {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("invalid authorization")
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			return "", errors.New("invalid authorization")
		}
		return token, nil
	}

	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return "", errors.New("missing session")
	}
	return cookie.Value, nil
}
