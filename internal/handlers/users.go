package handlers

import (
	"context"
	"net/http"

	"github.com/ballotd/apiserver/internal/services"
	"github.com/ballotd/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// UserService is the user directory as seen by the HTTP layer.
type UserService interface {
	List(ctx context.Context) ([]types.User, error)
	Get(ctx context.Context, id int) (types.User, error)
	Authenticate(ctx context.Context, username, password string) (types.User, error)
	Current(ctx context.Context, principal types.Principal) (types.User, error)
	Create(ctx context.Context, principal types.Principal, in services.CreateUserInput) (types.User, error)
	Update(ctx context.Context, principal types.Principal, id int, in services.UpdateUserInput) (types.User, error)
	Delete(ctx context.Context, principal types.Principal, id int) error
	ResetPassword(ctx context.Context, principal types.Principal, id int, newPassword string) error
}

type UserHandler struct {
	users UserService
	log   logrus.FieldLogger
}

func NewUserHandler(users UserService, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// UserRouter registers user routes. Callers mount it behind RequireAuth.
func UserRouter(r chi.Router, h *UserHandler) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Put("/{id}/password", h.ResetPassword)
}

type CreateUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type UpdateUserRequest struct {
	Username  *string `json:"username"`
	Role      *string `json:"role"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// ResetPasswordRequest accepts either field name.
type ResetPasswordRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	user, err := h.users.Create(r.Context(), principalFromContext(r.Context()), services.CreateUserInput{
		Username:  req.Username,
		Password:  req.Password,
		Role:      req.Role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	user, err := h.users.Update(r.Context(), principalFromContext(r.Context()), id, services.UpdateUserInput{
		Username:  req.Username,
		Role:      req.Role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.users.Delete(r.Context(), principalFromContext(r.Context()), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	password := req.NewPassword
	if password == "" {
		password = req.Password
	}
	if err := h.users.ResetPassword(r.Context(), principalFromContext(r.Context()), id, password); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
