package main

import (
	"net/http"

	"github.com/mcclellann/groupLoan/pkg/loan"
	"github.com/mcclellann/groupLoan/pkg/models"
)

func (s *Server) createMemberHandler(w http.ResponseWriter, r *http.Request) {
	var m models.Member
	if err := decode(r, &m); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.loans.CreateMember(r.Context(), &m, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.loans.ListMembers(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) getMemberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.loans.GetMember(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMemberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.loans.DeleteMember(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createGroupHandler(w http.ResponseWriter, r *http.Request) {
	var in loan.GroupInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.loans.CreateGroup(r.Context(), in, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) listGroupsHandler(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	groups, err := s.loans.ListGroups(r.Context(), r.URL.Query().Get("search"), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) getGroupHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.loans.GetGroup(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) updateGroupHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in loan.GroupInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.loans.UpdateGroup(r.Context(), id, in, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) deleteGroupHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.loans.DeleteGroup(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) reactivateGroupHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.loans.ReactivateGroup(r.Context(), id, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) createStaffHandler(w http.ResponseWriter, r *http.Request) {
	var st models.Staff
	if err := decode(r, &st); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.loans.CreateStaff(r.Context(), &st)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listStaffHandler(w http.ResponseWriter, r *http.Request) {
	staff, err := s.loans.ListStaff(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}
