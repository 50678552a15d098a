package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
)

const memberColumns = `id, full_name, father_spouse_name, place, phone, active, deleted, created_at, created_by, updated_at`

// CreateMember inserts a new member.
func (s *SQLStore) CreateMember(ctx context.Context, m *models.Member) error {
	_, err := s.exec(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.FullName, m.FatherSpouseName, m.Place, m.Phone, m.Active, m.Deleted, utc(m.CreatedAt), m.CreatedBy, utc(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by id, deleted or not.
func (s *SQLStore) GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	row := s.queryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id.String())
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("member")
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

func (s *SQLStore) UpdateMember(ctx context.Context, m *models.Member) error {
	return s.execOne(ctx, "member",
		`UPDATE members SET full_name = ?, father_spouse_name = ?, place = ?, phone = ?, active = ?, deleted = ?, updated_at = ? WHERE id = ?`,
		m.FullName, m.FatherSpouseName, m.Place, m.Phone, m.Active, m.Deleted, utc(m.UpdatedAt), m.ID.String(),
	)
}

// ListMembers returns members ordered by name.
func (s *SQLStore) ListMembers(ctx context.Context, q MemberQuery) ([]*models.Member, error) {
	var w where
	whereIn(&w, "id", q.IDs)
	if !q.IncludeDeleted {
		w.add("deleted = ?", false)
	}
	query, args := page(`SELECT `+memberColumns+` FROM members`+w.String()+` ORDER BY full_name, id`, w.args, q.Offset, q.Limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return members, nil
}

func scanMember(row scanner) (*models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.FullName, &m.FatherSpouseName, &m.Place, &m.Phone, &m.Active, &m.Deleted, &m.CreatedAt, &m.CreatedBy, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = utc(m.CreatedAt)
	m.UpdatedAt = utc(m.UpdatedAt)
	return &m, nil
}

const groupColumns = `id, group_code, name, place, member_ids, active, deleted, created_at, created_by, updated_at, updated_by`

// CreateGroup inserts a member group. Member ids are stored as a JSON array.
func (s *SQLStore) CreateGroup(ctx context.Context, g *models.MemberGroup) error {
	ids, err := encodeIDs(g.MemberIDs)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO member_groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID.String(), g.Code, g.Name, g.Place, ids, g.Active, g.Deleted, utc(g.CreatedAt), g.CreatedBy, utc(g.UpdatedAt), g.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create member group: %w", err)
	}
	return nil
}

func (s *SQLStore) GetGroup(ctx context.Context, id uuid.UUID) (*models.MemberGroup, error) {
	row := s.queryRow(ctx, `SELECT `+groupColumns+` FROM member_groups WHERE id = ?`, id.String())
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("member group")
		}
		return nil, fmt.Errorf("failed to get member group: %w", err)
	}
	return g, nil
}

func (s *SQLStore) UpdateGroup(ctx context.Context, g *models.MemberGroup) error {
	ids, err := encodeIDs(g.MemberIDs)
	if err != nil {
		return err
	}
	return s.execOne(ctx, "member group",
		`UPDATE member_groups SET group_code = ?, name = ?, place = ?, member_ids = ?, active = ?, deleted = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
		g.Code, g.Name, g.Place, ids, g.Active, g.Deleted, utc(g.UpdatedAt), g.UpdatedBy, g.ID.String(),
	)
}

// ListGroups returns groups newest first.
func (s *SQLStore) ListGroups(ctx context.Context, q GroupQuery) ([]*models.MemberGroup, error) {
	var w where
	whereIn(&w, "id", q.IDs)
	if !q.IncludeDeleted {
		w.add("deleted = ?", false)
	}
	if q.Search != "" {
		like := "%" + strings.ToLower(q.Search) + "%"
		w.add("(LOWER(name) LIKE ? OR LOWER(place) LIKE ?)", like, like)
	}
	query, args := page(`SELECT `+groupColumns+` FROM member_groups`+w.String()+` ORDER BY created_at DESC, id`, w.args, q.Offset, q.Limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list member groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.MemberGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return groups, nil
}

func scanGroup(row scanner) (*models.MemberGroup, error) {
	var g models.MemberGroup
	var ids string
	err := row.Scan(&g.ID, &g.Code, &g.Name, &g.Place, &ids, &g.Active, &g.Deleted, &g.CreatedAt, &g.CreatedBy, &g.UpdatedAt, &g.UpdatedBy)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &g.MemberIDs); err != nil {
		return nil, fmt.Errorf("failed to decode member ids of group %s: %w", g.ID, err)
	}
	g.CreatedAt = utc(g.CreatedAt)
	g.UpdatedAt = utc(g.UpdatedAt)
	return &g, nil
}

func encodeIDs(ids []uuid.UUID) (string, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode member ids: %w", err)
	}
	return string(b), nil
}

func (s *SQLStore) CreateStaff(ctx context.Context, st *models.Staff) error {
	_, err := s.exec(ctx,
		`INSERT INTO staffs (id, staff_id, name, designation, created_at) VALUES (?, ?, ?, ?, ?)`,
		st.ID.String(), st.StaffID, st.Name, st.Designation, utc(st.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create staff: %w", err)
	}
	return nil
}

func (s *SQLStore) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	rows, err := s.query(ctx, `SELECT id, staff_id, name, designation, created_at FROM staffs ORDER BY name, staff_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	var staff []*models.Staff
	for rows.Next() {
		var st models.Staff
		if err := rows.Scan(&st.ID, &st.StaffID, &st.Name, &st.Designation, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staff row: %w", err)
		}
		st.CreatedAt = utc(st.CreatedAt)
		staff = append(staff, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return staff, nil
}
