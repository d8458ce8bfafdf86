package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ballotd/apiserver/internal/services"
	"github.com/ballotd/apiserver/internal/session"
	"github.com/ballotd/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

const contextSessionKey contextKey = "session"

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

func withSession(ctx context.Context, claims session.Claims) context.Context {
	return context.WithValue(ctx, contextSessionKey, claims)
}

func sessionFromContext(ctx context.Context) (session.Claims, bool) {
	claims, ok := ctx.Value(contextSessionKey).(session.Claims)
	return claims, ok
}

// principalFromContext returns the authenticated caller, or the zero
// principal when the request carries no session.
func principalFromContext(ctx context.Context) types.Principal {
	claims, ok := sessionFromContext(ctx)
	if !ok {
		return types.Principal{}
	}
	return claims.Principal()
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps service error kinds to HTTP statuses. Anything
// unexpected is logged and reported as a 500 without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrBadRequest), errors.Is(err, services.ErrElectionClosed):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func idParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
