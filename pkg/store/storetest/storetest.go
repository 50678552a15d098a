// Package storetest provides SQLite-backed stores and failure injection for
// package tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrInjected is returned by FailingStore for the calls it is told to fail.
var ErrInjected = errors.New("injected failure")

// Logger returns a logger that discards its output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// New opens a fresh SQLite store in the test's temp dir.
func New(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), Logger())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SeedLoan stores a group of n members and a draft loan over it with one
// share per member. The loan defaults to 12000 over 12 monthly installments
// from 2024-01-01 with no interest or fees; opts adjust it before it is saved.
func SeedLoan(t *testing.T, s store.Storage, n int, opts ...func(*models.Loan)) (*models.Loan, []*models.LoanMember) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	group := &models.MemberGroup{
		ID:        uuid.New(),
		Code:      "G-" + uuid.NewString()[:6],
		Name:      "Group " + uuid.NewString()[:4],
		Place:     "Salem",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var members []*models.Member
	for i := 0; i < n; i++ {
		m := &models.Member{
			ID:        uuid.New(),
			FullName:  fmt.Sprintf("Member %d", i+1),
			Place:     "Salem",
			Phone:     fmt.Sprintf("98400%05d", i),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateMember(ctx, m); err != nil {
			t.Fatalf("Failed to create member: %v", err)
		}
		members = append(members, m)
		group.MemberIDs = append(group.MemberIDs, m.ID)
	}
	if err := s.CreateGroup(ctx, group); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	loan := &models.Loan{
		ID:                 uuid.New(),
		Number:             "LN-" + uuid.NewString()[:8],
		MemberGroupID:      &group.ID,
		Principal:          decimal.NewFromInt(12000),
		Tenure:             12,
		EmiDay:             "Monday",
		StartDate:          &start,
		RepaymentFrequency: models.FrequencyMonth,
		Status:             models.LoanStatusDraft,
		AssignTo:           "ST-1",
		Active:             true,
		CreatedAt:          now,
		CreatedBy:          "tester",
		UpdatedAt:          now,
	}
	for _, opt := range opts {
		opt(loan)
	}
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	var shares []*models.LoanMember
	for _, m := range members {
		shares = append(shares, &models.LoanMember{
			ID:            uuid.New(),
			LoanID:        loan.ID,
			MemberGroupID: group.ID,
			MemberID:      m.ID,
			Name:          m.DisplayName(),
			Place:         m.Place,
			Phone:         m.Phone,
			Amount:        loan.Principal,
			Collected:     decimal.Zero,
			Pending:       loan.Principal,
			CreatedAt:     now,
			CreatedBy:     "tester",
		})
	}
	if err := s.CreateLoanMembers(ctx, shares); err != nil {
		t.Fatalf("Failed to create loan members: %v", err)
	}
	return loan, shares
}

// FailingStore wraps a Storage and fails CreateBilling for the listed codes.
// Transactions opened through it stay wrapped.
type FailingStore struct {
	store.Storage
	FailCodes     map[models.BillingCode]bool
	FailEmiUpdate bool
}

func (f *FailingStore) InTx(ctx context.Context, fn func(tx store.Storage) error) error {
	return f.Storage.InTx(ctx, func(tx store.Storage) error {
		return fn(&FailingStore{Storage: tx, FailCodes: f.FailCodes, FailEmiUpdate: f.FailEmiUpdate})
	})
}

func (f *FailingStore) CreateBilling(ctx context.Context, b *models.Billing) error {
	if f.FailCodes[b.Code] {
		return ErrInjected
	}
	return f.Storage.CreateBilling(ctx, b)
}

func (f *FailingStore) UpdateEmi(ctx context.Context, e *models.Emi) error {
	if f.FailEmiUpdate {
		return ErrInjected
	}
	return f.Storage.UpdateEmi(ctx, e)
}
