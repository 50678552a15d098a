package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/groupLoan/pkg/collection"
	"github.com/mcclellann/groupLoan/pkg/ledger"
	"github.com/mcclellann/groupLoan/pkg/loan"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/schedule"
	"github.com/mcclellann/groupLoan/pkg/store"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps service errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, loan.ErrInvalidInput),
		errors.Is(err, loan.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidMemberRefs),
		errors.Is(err, collection.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, schedule.ErrNoMembers):
		return http.StatusBadRequest
	case errors.Is(err, collection.ErrAlreadyPaid),
		errors.Is(err, schedule.ErrAlreadyGenerated),
		errors.Is(err, schedule.ErrHasPayments),
		errors.Is(err, store.ErrStaleVersion),
		errors.Is(err, loan.ErrDuplicateNumber):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.WithField("path", r.URL.Path).WithError(err).Error("Request failed")
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

// paging reads optional offset and limit query parameters.
func paging(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset", errBadRequest)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit", errBadRequest)
		}
	}
	return offset, limit, nil
}
