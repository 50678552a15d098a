package main

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/ledger"
	"github.com/mcclellann/groupLoan/pkg/loan"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/shopspring/decimal"
)

// loanDetail is a loan together with its member shares.
type loanDetail struct {
	*models.Loan
	Members []*models.LoanMember `json:"members"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var l models.Loan
	if err := decode(r, &l); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.loans.CreateLoan(r.Context(), &l, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var groupID *uuid.UUID
	if v := r.URL.Query().Get("group_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid group_id", errBadRequest))
			return
		}
		groupID = &id
	}
	loans, err := s.loans.ListLoans(r.Context(), groupID, offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) searchLoansHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.loans.SearchLoans(r.Context(), r.URL.Query().Get("q"), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.loans.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.loans.Members(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanDetail{Loan: l, Members: members})
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var u loan.Update
	if err := decode(r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.loans.UpdateLoan(r.Context(), id, u, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.loans.DeleteLoan(r.Context(), id, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reactivateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.loans.ReactivateLoan(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	approval, err := s.loans.Approve(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) listEmisHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	emis, err := s.generator.ForLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emis)
}

func (s *Server) deleteEmisHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.generator.Delete(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) loanBillingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.ledger.EntriesForLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) memberBillingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "memberId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.ledger.EntriesForMember(r.Context(), id, memberID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// createBillingHandler appends a manual fee entry, such as a late fee.
// Payments and loan amounts are rejected; they have their own endpoints.
func (s *Server) createBillingHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanID      uuid.UUID          `json:"loan_id"`
		MemberID    uuid.UUID          `json:"member_id"`
		Amount      decimal.Decimal    `json:"amount"`
		Code        models.BillingCode `json:"billing_code"`
		Type        models.EntryType   `json:"type"`
		Description string             `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.LoanID == uuid.Nil || req.MemberID == uuid.Nil {
		s.writeError(w, r, fmt.Errorf("%w: loan_id and member_id are required", errBadRequest))
		return
	}

	b, err := s.ledger.RecordManual(r.Context(), ledger.Entry{
		LoanID:      req.LoanID,
		MemberID:    req.MemberID,
		Amount:      req.Amount,
		Code:        req.Code,
		Type:        req.Type,
		Description: req.Description,
		CreatedBy:   actor(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}
