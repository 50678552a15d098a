package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcclellann/groupLoan/pkg/collection"
)

func (s *Server) listCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views, err := s.views.List(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getCollectionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loanId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.views.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) payHandler(w http.ResponseWriter, r *http.Request) {
	var pay collection.Payment
	if err := decode(r, &pay); err != nil {
		s.writeError(w, r, err)
		return
	}
	if pay.PaidBy == "" {
		pay.PaidBy = actor(r)
	}
	receipt, err := s.payments.Pay(r.Context(), pay)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// markOverdueHandler runs the overdue sweep now, or as of the optional
// as_of query date (YYYY-MM-DD).
func (s *Server) markOverdueHandler(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid as_of", errBadRequest))
			return
		}
		asOf = t
	}
	changed, err := s.payments.MarkOverdue(r.Context(), asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": changed})
}
