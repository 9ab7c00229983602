// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"

	service "github.com/okian/trophy/internal/app"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
)

// StudentsHandler handles record submission, lookup and scoring requests.
type StudentsHandler struct {
	deps StudentDependencies
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(deps StudentDependencies) *StudentsHandler {
	return &StudentsHandler{deps: deps}
}

// rosterRequest is the body of POST /students/batch and POST /score.
type rosterRequest struct {
	Students []model.StudentRecord `json:"students"`
}

type batchResponse struct {
	Accepted   int                 `json:"accepted"`
	Duplicates int                 `json:"duplicates"`
	Rejected   int                 `json:"rejected"`
	Results    []service.SubmitAck `json:"results"`
}

type scoreResponse struct {
	Results []achievement.Result `json:"results"`
}

var errEmptyRoster = errors.New("students must not be empty")

// HandlePostStudent handles POST /students requests.
func (h *StudentsHandler) HandlePostStudent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_student"
	var rec model.StudentRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	ack, err := h.deps.Submit(r.Context(), rec)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if ack.Duplicate {
		writeJSON(w, http.StatusOK, ack)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// HandlePostBatch handles POST /students/batch requests. Per-record
// failures are reported in the body; the batch itself is accepted.
func (h *StudentsHandler) HandlePostBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_batch"
	var req rosterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Students) == 0 {
		writeFailure(w, WrapKind(op, ErrBadRequest, errEmptyRoster))
		return
	}
	acks, err := h.deps.SubmitBatch(r.Context(), req.Students)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	resp := batchResponse{Results: acks}
	for _, a := range acks {
		switch {
		case a.Duplicate:
			resp.Duplicates++
		case a.Error != "":
			resp.Rejected++
		default:
			resp.Accepted++
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleGetStudent handles GET /students/{urn} requests.
func (h *StudentsHandler) HandleGetStudent(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_student"
	urn, err := urnParam(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	rec, err := h.deps.Get(r.Context(), urn)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleDeleteStudent handles DELETE /students/{urn} requests.
func (h *StudentsHandler) HandleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_student"
	urn, err := urnParam(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Delete(r.Context(), urn); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetScore handles GET /students/{urn}/score requests.
func (h *StudentsHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	urn, err := urnParam(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Breakdown(r.Context(), urn)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleScore handles POST /score requests: records are scored and
// returned in input order without being stored.
func (h *StudentsHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.score"
	var req rosterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Students) == 0 {
		writeFailure(w, WrapKind(op, ErrBadRequest, errEmptyRoster))
		return
	}
	results, err := h.deps.ScoreRecords(r.Context(), req.Students)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Results: results})
}
