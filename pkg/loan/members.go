package loan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/sirupsen/logrus"
)

// CreateMember registers a member.
func (s *Service) CreateMember(ctx context.Context, m *models.Member, actor string) (*models.Member, error) {
	m.FullName = strings.TrimSpace(m.FullName)
	if m.FullName == "" {
		return nil, invalid("full_name is required")
	}
	now := s.now()
	m.ID = uuid.New()
	m.Active = true
	m.Deleted = false
	m.CreatedAt = now
	m.CreatedBy = actor
	m.UpdatedAt = now
	if err := s.storage.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMember returns a member that has not been deleted.
func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	m, err := s.storage.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, fmt.Errorf("member %w", store.ErrNotFound)
	}
	return m, nil
}

func (s *Service) ListMembers(ctx context.Context, offset, limit int) ([]*models.Member, error) {
	return s.storage.ListMembers(ctx, store.MemberQuery{Offset: offset, Limit: limit})
}

// DeleteMember soft-deletes a member. Existing loan shares keep their copy of
// the member's details.
func (s *Service) DeleteMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	m, err := s.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Deleted = true
	m.Active = false
	m.UpdatedAt = s.now()
	if err := s.storage.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GroupInput is the client's view of a member group. MemberIDs accepts the
// shapes understood by models.ParseMemberRefs. Nil fields are left unchanged
// on update.
type GroupInput struct {
	Code      *string         `json:"group_id"`
	Name      *string         `json:"name"`
	Place     *string         `json:"place"`
	MemberIDs json.RawMessage `json:"member_ids"`
}

func (s *Service) CreateGroup(ctx context.Context, in GroupInput, actor string) (*models.MemberGroup, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, invalid("name is required")
	}
	ids, err := models.ParseMemberRefs(in.MemberIDs)
	if err != nil {
		return nil, err
	}
	now := s.now()
	g := &models.MemberGroup{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(*in.Name),
		MemberIDs: ids,
		Active:    true,
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
	}
	if in.Code != nil {
		g.Code = *in.Code
	}
	if in.Place != nil {
		g.Place = *in.Place
	}
	if err := s.storage.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"group_id": g.ID, "members": len(ids)}).Info("Member group created")
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (*models.MemberGroup, error) {
	g, err := s.storage.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Deleted {
		return nil, fmt.Errorf("member group %w", store.ErrNotFound)
	}
	return g, nil
}

// ListGroups lists groups, optionally filtered by a name or place fragment.
func (s *Service) ListGroups(ctx context.Context, search string, offset, limit int) ([]*models.MemberGroup, error) {
	return s.storage.ListGroups(ctx, store.GroupQuery{Search: strings.TrimSpace(search), Offset: offset, Limit: limit})
}

// UpdateGroup changes a group. Existing loans keep the shares they were
// created with.
func (s *Service) UpdateGroup(ctx context.Context, id uuid.UUID, in GroupInput, actor string) (*models.MemberGroup, error) {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Code != nil {
		g.Code = *in.Code
	}
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, invalid("name cannot be empty")
		}
		g.Name = strings.TrimSpace(*in.Name)
	}
	if in.Place != nil {
		g.Place = *in.Place
	}
	if in.MemberIDs != nil {
		ids, err := models.ParseMemberRefs(in.MemberIDs)
		if err != nil {
			return nil, err
		}
		g.MemberIDs = ids
	}
	g.UpdatedAt = s.now()
	g.UpdatedBy = actor
	if err := s.storage.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) DeleteGroup(ctx context.Context, id uuid.UUID, actor string) (*models.MemberGroup, error) {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, s.setGroupDeleted(ctx, g, true, actor)
}

// ReactivateGroup undoes a soft delete.
func (s *Service) ReactivateGroup(ctx context.Context, id uuid.UUID, actor string) (*models.MemberGroup, error) {
	g, err := s.storage.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return g, s.setGroupDeleted(ctx, g, false, actor)
}

func (s *Service) setGroupDeleted(ctx context.Context, g *models.MemberGroup, deleted bool, actor string) error {
	g.Deleted = deleted
	g.Active = !deleted
	g.UpdatedAt = s.now()
	g.UpdatedBy = actor
	return s.storage.UpdateGroup(ctx, g)
}

func (s *Service) CreateStaff(ctx context.Context, st *models.Staff) (*models.Staff, error) {
	st.StaffID = strings.TrimSpace(st.StaffID)
	if st.StaffID == "" || strings.TrimSpace(st.Name) == "" {
		return nil, invalid("staff_id and name are required")
	}
	st.ID = uuid.New()
	st.CreatedAt = s.now()
	if err := s.storage.CreateStaff(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	return s.storage.ListStaff(ctx)
}
