package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrStaleVersion = errors.New("record was modified concurrently")
)

func notFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Storage defines the interface for database operations on loans, their
// member shares, EMI schedules and the billing ledger.
type Storage interface {
	// InTx runs fn against a Storage bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Storage) error) error

	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*models.Member, error)
	UpdateMember(ctx context.Context, member *models.Member) error
	ListMembers(ctx context.Context, q MemberQuery) ([]*models.Member, error)

	CreateGroup(ctx context.Context, group *models.MemberGroup) error
	GetGroup(ctx context.Context, id uuid.UUID) (*models.MemberGroup, error)
	UpdateGroup(ctx context.Context, group *models.MemberGroup) error
	ListGroups(ctx context.Context, q GroupQuery) ([]*models.MemberGroup, error)

	CreateStaff(ctx context.Context, staff *models.Staff) error
	ListStaff(ctx context.Context) ([]*models.Staff, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	ListLoans(ctx context.Context, q LoanQuery) ([]*models.Loan, error)

	CreateLoanMembers(ctx context.Context, members []*models.LoanMember) error
	ListLoanMembers(ctx context.Context, loanIDs ...uuid.UUID) ([]*models.LoanMember, error)
	GetLoanMemberByMember(ctx context.Context, loanID, memberID uuid.UUID) (*models.LoanMember, error)
	// UpdateLoanMember writes the share if its version still matches and
	// bumps the version, returning ErrStaleVersion otherwise.
	UpdateLoanMember(ctx context.Context, member *models.LoanMember) error

	CreateEmis(ctx context.Context, emis []*models.Emi) error
	GetEmi(ctx context.Context, id uuid.UUID) (*models.Emi, error)
	UpdateEmi(ctx context.Context, emi *models.Emi) error
	ListEmis(ctx context.Context, q EmiQuery) ([]*models.Emi, error)
	DeleteEmisForLoan(ctx context.Context, loanID uuid.UUID) (int64, error)

	CreateBilling(ctx context.Context, entry *models.Billing) error
	ListBilling(ctx context.Context, q BillingQuery) ([]*models.Billing, error)

	Close() error
}

type MemberQuery struct {
	IDs            []uuid.UUID
	IncludeDeleted bool
	Offset, Limit  int
}

type GroupQuery struct {
	IDs            []uuid.UUID
	Search         string // Matches name or place, case-insensitive
	IncludeDeleted bool
	Offset, Limit  int
}

// LoanQuery filters loans. Empty fields do not filter; set fields are
// AND-combined. Offset only applies together with Limit.
type LoanQuery struct {
	IDs            []uuid.UUID
	GroupID        *uuid.UUID
	Status         models.LoanStatus
	NumberContains string
	EmiDays        []string
	AssignTo       []string
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	IncludeDeleted bool
	Offset, Limit  int
}

type EmiQuery struct {
	LoanIDs   []uuid.UUID
	MemberID  *uuid.UUID
	Statuses  []models.EmiStatus
	DueBefore *time.Time
}

type BillingQuery struct {
	LoanIDs  []uuid.UUID
	MemberID *uuid.UUID
	Codes    []models.BillingCode
}
