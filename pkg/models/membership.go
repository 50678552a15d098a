package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidMemberRefs = errors.New("invalid member references")

type Member struct {
	ID               uuid.UUID `json:"id"`
	FullName         string    `json:"full_name"`
	FatherSpouseName string    `json:"father_spouse_name"`
	Place            string    `json:"place"`
	Phone            string    `json:"primary_mobile_number"`
	Active           bool      `json:"active"`
	Deleted          bool      `json:"deleted"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DisplayName is the name copied onto loan shares.
func (m *Member) DisplayName() string {
	if m.FatherSpouseName == "" {
		return m.FullName
	}
	return m.FullName + " " + m.FatherSpouseName
}

type MemberGroup struct {
	ID        uuid.UUID   `json:"id"`
	Code      string      `json:"group_id"`
	Name      string      `json:"name"`
	Place     string      `json:"place"`
	MemberIDs []uuid.UUID `json:"member_ids"`
	Active    bool        `json:"active"`
	Deleted   bool        `json:"deleted"`
	CreatedAt time.Time   `json:"created_at"`
	CreatedBy string      `json:"created_by"`
	UpdatedAt time.Time   `json:"updated_at"`
	UpdatedBy string      `json:"updated_by"`
}

type Staff struct {
	ID          uuid.UUID `json:"id"`
	StaffID     string    `json:"staff_id"`
	Name        string    `json:"name"`
	Designation string    `json:"designation"`
	CreatedAt   time.Time `json:"created_at"`
}

// ParseMemberRefs normalizes the loosely shaped member list clients send for a
// group: a list of ids, a list of {"id": ...} objects, or a JSON string that
// holds either. Duplicates are dropped, order is kept.
func ParseMemberRefs(raw json.RawMessage) ([]uuid.UUID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMemberRefs, err)
		}
		if inner == "" {
			return nil, nil
		}
		return ParseMemberRefs(json.RawMessage(inner))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMemberRefs, err)
	}

	seen := make(map[uuid.UUID]bool, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id, err := parseMemberRef(item)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func parseMemberRef(item json.RawMessage) (uuid.UUID, error) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidMemberRefs, s)
		}
		return id, nil
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidMemberRefs, item)
	}
	id, err := uuid.Parse(obj.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidMemberRefs, obj.ID)
	}
	return id, nil
}
