package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/report"
)

const dateLayout = "2006-01-02"

// reportFilter reads the report filter from repeated query parameters.
func reportFilter(q url.Values) (report.Filter, error) {
	f := report.Filter{
		EmiDays:  q["emi_day"],
		StaffIDs: q["staff_id"],
	}
	for key, dst := range map[string]**time.Time{"start_date": &f.StartDate, "end_date": &f.EndDate} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(dateLayout, v)
			if err != nil {
				return f, fmt.Errorf("%w: invalid %s", errBadRequest, key)
			}
			*dst = &t
		}
	}
	for key, dst := range map[string]*[]uuid.UUID{"member_id": &f.MemberIDs, "group_id": &f.GroupIDs, "loan_id": &f.LoanIDs} {
		for _, v := range q[key] {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, fmt.Errorf("%w: invalid %s", errBadRequest, key)
			}
			*dst = append(*dst, id)
		}
	}
	return f, nil
}

func (s *Server) filterOptionsHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := s.reports.FilterOptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) reportDataHandler(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.reports.Data(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) reportExportHandler(w http.ResponseWriter, r *http.Request) {
	f, err := reportFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.reports.Data(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, d); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("loan-report-%s.xlsx", time.Now().UTC().Format(dateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
