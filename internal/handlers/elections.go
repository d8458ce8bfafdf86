package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ballotd/apiserver/internal/services"
	"github.com/ballotd/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// ElectionService is the election workflow as seen by the HTTP layer.
type ElectionService interface {
	List(ctx context.Context) ([]types.Election, error)
	Get(ctx context.Context, id int) (types.Election, error)
	Create(ctx context.Context, principal types.Principal, in services.CreateElectionInput) (types.Election, error)
	Close(ctx context.Context, principal types.Principal, id int) (types.Election, error)
	Delete(ctx context.Context, principal types.Principal, id int) error
	CastVote(ctx context.Context, principal types.Principal, electionID int, candidateID *int) error
	Results(ctx context.Context, id int) ([]types.ElectionResult, error)
}

type ElectionHandler struct {
	elections ElectionService
	log       logrus.FieldLogger
}

func NewElectionHandler(elections ElectionService, log logrus.FieldLogger) *ElectionHandler {
	return &ElectionHandler{elections: elections, log: log}
}

// ElectionRouter registers election routes. Callers mount it behind
// RequireAuth.
func ElectionRouter(r chi.Router, h *ElectionHandler) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/vote", h.Vote)
	r.Post("/{id}/close", h.Close)
	r.Get("/{id}/results", h.Results)
}

type CreateElectionRequest struct {
	Title            string `json:"title"`
	CandidateIDs     []int  `json:"candidateIds"`
	EligibleVoterIDs []int  `json:"eligibleVoterIds"`
}

// VoteRequest carries the chosen candidate. A null or missing candidateId
// is an abstention.
type VoteRequest struct {
	CandidateID *int `json:"candidateId"`
}

func (h *ElectionHandler) List(w http.ResponseWriter, r *http.Request) {
	elections, err := h.elections.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, elections)
}

func (h *ElectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	election, err := h.elections.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, election)
}

func (h *ElectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateElectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	election, err := h.elections.Create(r.Context(), principalFromContext(r.Context()), services.CreateElectionInput{
		Title:            req.Title,
		CandidateIDs:     req.CandidateIDs,
		EligibleVoterIDs: req.EligibleVoterIDs,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, election)
}

func (h *ElectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.elections.Delete(r.Context(), principalFromContext(r.Context()), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ElectionHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req VoteRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.elections.CastVote(r.Context(), principalFromContext(r.Context()), id, req.CandidateID); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *ElectionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	election, err := h.elections.Close(r.Context(), principalFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, election)
}

func (h *ElectionHandler) Results(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := h.elections.Results(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
