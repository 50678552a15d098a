// Package loan manages members, groups and the loan lifecycle: creation with
// member-share fan-out, updates, soft deletion and approval.
package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/ledger"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/schedule"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidStatus   = errors.New("invalid loan status")
	ErrInvalidInput    = errors.New("invalid input")
	ErrDuplicateNumber = errors.New("loan number already in use")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// Service handles the business logic for members, groups and loans.
type Service struct {
	storage   store.Storage
	generator *schedule.Generator
	ledger    *ledger.Recorder
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService creates a Service that approves loans through g and l.
func NewService(s store.Storage, g *schedule.Generator, l *ledger.Recorder, log logrus.FieldLogger) *Service {
	return &Service{
		storage:   s,
		generator: g,
		ledger:    l,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func validStatus(st models.LoanStatus) bool {
	switch st {
	case models.LoanStatusDraft, models.LoanStatusApproved, models.LoanStatusRejected, models.LoanStatusClosed:
		return true
	}
	return false
}

// CreateLoan stores a loan and fans out one share per group member, each
// owing the loan principal. Unknown or deleted members are skipped. A loan
// created as Approved is approved straight away.
func (s *Service) CreateLoan(ctx context.Context, l *models.Loan, actor string) (*models.Loan, error) {
	l.Number = strings.TrimSpace(l.Number)
	if l.Number == "" {
		return nil, invalid("loan_id is required")
	}
	if l.Principal.IsNegative() {
		return nil, invalid("loan_amount cannot be negative")
	}
	if l.Tenure < 0 {
		return nil, invalid("loan_tenure cannot be negative")
	}
	if l.Status == "" {
		l.Status = models.LoanStatusDraft
	}
	if !validStatus(l.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, l.Status)
	}
	approve := l.Status == models.LoanStatusApproved
	if approve {
		l.Status = models.LoanStatusDraft
	}

	now := s.now()
	l.ID = uuid.New()
	l.Active = true
	l.Deleted = false
	l.ScheduleGeneratedAt = nil
	l.CreatedAt = now
	l.CreatedBy = actor
	l.UpdatedAt = now
	l.UpdatedBy = actor

	err := s.storage.InTx(ctx, func(tx store.Storage) error {
		if err := checkNumber(ctx, tx, l.Number, uuid.Nil); err != nil {
			return err
		}
		shares, err := s.fanOut(ctx, tx, l, actor)
		if err != nil {
			return err
		}
		if err := tx.CreateLoan(ctx, l); err != nil {
			return err
		}
		return tx.CreateLoanMembers(ctx, shares)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"loan_id": l.ID, "loan_number": l.Number}).Info("Loan created")

	if approve {
		res, err := s.Approve(ctx, l.ID, actor)
		if err != nil {
			return nil, err
		}
		return res.Loan, nil
	}
	return l, nil
}

// checkNumber fails when another loan, deleted or not, uses number.
func checkNumber(ctx context.Context, tx store.Storage, number string, self uuid.UUID) error {
	loans, err := tx.ListLoans(ctx, store.LoanQuery{NumberContains: number, IncludeDeleted: true})
	if err != nil {
		return err
	}
	for _, other := range loans {
		if other.ID != self && strings.EqualFold(other.Number, number) {
			return fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
		}
	}
	return nil
}

func (s *Service) fanOut(ctx context.Context, tx store.Storage, l *models.Loan, actor string) ([]*models.LoanMember, error) {
	if l.MemberGroupID == nil {
		return nil, nil
	}
	group, err := tx.GetGroup(ctx, *l.MemberGroupID)
	if err != nil {
		return nil, err
	}
	if len(group.MemberIDs) == 0 {
		return nil, nil
	}
	members, err := tx.ListMembers(ctx, store.MemberQuery{IDs: group.MemberIDs})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	shares := make([]*models.LoanMember, 0, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		m, ok := byID[id]
		if !ok {
			s.log.WithFields(logrus.Fields{"group_id": group.ID, "member_id": id}).Warn("Skipping unknown group member")
			continue
		}
		shares = append(shares, &models.LoanMember{
			ID:            uuid.New(),
			LoanID:        l.ID,
			MemberGroupID: group.ID,
			MemberID:      m.ID,
			Name:          m.DisplayName(),
			Place:         m.Place,
			Phone:         m.Phone,
			Amount:        l.Principal,
			Collected:     decimal.Zero,
			Pending:       l.Principal,
			CreatedAt:     l.CreatedAt,
			CreatedBy:     actor,
		})
	}
	return shares, nil
}

// GetLoan returns a loan that has not been deleted.
func (s *Service) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	l, err := s.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Deleted {
		return nil, fmt.Errorf("loan %w", store.ErrNotFound)
	}
	return l, nil
}

// Members returns the shares of a loan.
func (s *Service) Members(ctx context.Context, id uuid.UUID) ([]*models.LoanMember, error) {
	if _, err := s.GetLoan(ctx, id); err != nil {
		return nil, err
	}
	return s.storage.ListLoanMembers(ctx, id)
}

// ListLoans lists non-deleted loans newest first, optionally only those of
// one group.
func (s *Service) ListLoans(ctx context.Context, groupID *uuid.UUID, offset, limit int) ([]*models.Loan, error) {
	return s.storage.ListLoans(ctx, store.LoanQuery{GroupID: groupID, Offset: offset, Limit: limit})
}

// SearchLoans matches a fragment of the loan number, case-insensitively.
func (s *Service) SearchLoans(ctx context.Context, q string, offset, limit int) ([]*models.Loan, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, invalid("search query is required")
	}
	return s.storage.ListLoans(ctx, store.LoanQuery{NumberContains: q, Offset: offset, Limit: limit})
}

// Update is a partial loan change; nil fields are left alone.
type Update struct {
	Number                *string            `json:"loan_id"`
	MemberGroupID         *uuid.UUID         `json:"member_group_id"`
	ApplicationDate       *time.Time         `json:"application_date"`
	Principal             *decimal.Decimal   `json:"loan_amount"`
	LoanType              *string            `json:"loan_type"`
	InterestRate          *decimal.Decimal   `json:"interest_rate"`
	InterestAmount        *decimal.Decimal   `json:"interest_amount"`
	Tenure                *int               `json:"loan_tenure"`
	MonthlyEmi            *decimal.Decimal   `json:"monthly_emi"`
	EmiDay                *string            `json:"emi_day"`
	StartDate             *time.Time         `json:"loan_start_date"`
	RepaymentFrequency    *models.Frequency  `json:"repayment_frequency"`
	ProcessingFees        *decimal.Decimal   `json:"processing_fees"`
	InsuranceFees         *decimal.Decimal   `json:"insurance_fees"`
	OtherFees             *decimal.Decimal   `json:"other_fees"`
	FieldOfficerID        *string            `json:"field_officer_id"`
	CreditOfficerComments *string            `json:"credit_officer_comments"`
	VerificationStatus    *string            `json:"verification_status"`
	Status                *models.LoanStatus `json:"loan_status"`
	AssignTo              *string            `json:"assign_to"`
}

// UpdateLoan applies a partial update. A principal change before the schedule
// exists is copied to every share. Setting the status to Approved approves
// the loan the first time; once the schedule exists it is a plain status
// write.
func (s *Service) UpdateLoan(ctx context.Context, id uuid.UUID, u Update, actor string) (*models.Loan, error) {
	if u.Status != nil && !validStatus(*u.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}

	var l *models.Loan
	approve := false
	err := s.storage.InTx(ctx, func(tx store.Storage) error {
		var err error
		l, err = tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if l.Deleted {
			return fmt.Errorf("loan %w", store.ErrNotFound)
		}
		if err := applyUpdate(l, u); err != nil {
			return err
		}
		if u.Number != nil {
			if err := checkNumber(ctx, tx, l.Number, l.ID); err != nil {
				return err
			}
		}
		if u.Status != nil {
			if *u.Status == models.LoanStatusApproved && l.ScheduleGeneratedAt == nil {
				if l.Status != models.LoanStatusDraft && l.Status != models.LoanStatusApproved {
					return fmt.Errorf("%w: cannot approve a %s loan", ErrInvalidStatus, l.Status)
				}
				approve = true
			} else {
				l.Status = *u.Status
			}
		}
		l.UpdatedAt = s.now()
		l.UpdatedBy = actor
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		if u.Principal != nil && l.ScheduleGeneratedAt == nil {
			return syncShares(ctx, tx, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if approve {
		res, err := s.Approve(ctx, id, actor)
		switch {
		case errors.Is(err, schedule.ErrAlreadyGenerated):
			return s.storage.GetLoan(ctx, id)
		case err != nil:
			return nil, err
		}
		return res.Loan, nil
	}
	return l, nil
}

func applyUpdate(l *models.Loan, u Update) error {
	if u.Number != nil {
		if strings.TrimSpace(*u.Number) == "" {
			return invalid("loan_id cannot be empty")
		}
		l.Number = strings.TrimSpace(*u.Number)
	}
	if u.MemberGroupID != nil {
		l.MemberGroupID = u.MemberGroupID
	}
	if u.ApplicationDate != nil {
		l.ApplicationDate = u.ApplicationDate
	}
	if u.Principal != nil {
		if u.Principal.IsNegative() {
			return invalid("loan_amount cannot be negative")
		}
		l.Principal = *u.Principal
	}
	if u.LoanType != nil {
		l.LoanType = *u.LoanType
	}
	if u.InterestRate != nil {
		l.InterestRate = *u.InterestRate
	}
	if u.InterestAmount != nil {
		l.InterestAmount = *u.InterestAmount
	}
	if u.Tenure != nil {
		if *u.Tenure < 0 {
			return invalid("loan_tenure cannot be negative")
		}
		l.Tenure = *u.Tenure
	}
	if u.MonthlyEmi != nil {
		l.MonthlyEmi = *u.MonthlyEmi
	}
	if u.EmiDay != nil {
		l.EmiDay = *u.EmiDay
	}
	if u.StartDate != nil {
		l.StartDate = u.StartDate
	}
	if u.RepaymentFrequency != nil {
		l.RepaymentFrequency = *u.RepaymentFrequency
	}
	if u.ProcessingFees != nil {
		l.ProcessingFees = *u.ProcessingFees
	}
	if u.InsuranceFees != nil {
		l.InsuranceFees = *u.InsuranceFees
	}
	if u.OtherFees != nil {
		l.OtherFees = *u.OtherFees
	}
	if u.FieldOfficerID != nil {
		l.FieldOfficerID = *u.FieldOfficerID
	}
	if u.CreditOfficerComments != nil {
		l.CreditOfficerComments = *u.CreditOfficerComments
	}
	if u.VerificationStatus != nil {
		l.VerificationStatus = *u.VerificationStatus
	}
	if u.AssignTo != nil {
		l.AssignTo = *u.AssignTo
	}
	return nil
}

// syncShares copies the principal onto every share of the loan.
func syncShares(ctx context.Context, tx store.Storage, l *models.Loan) error {
	shares, err := tx.ListLoanMembers(ctx, l.ID)
	if err != nil {
		return err
	}
	for _, lm := range shares {
		lm.Amount = l.Principal
		lm.Pending = l.Principal.Sub(lm.Collected)
		if lm.Pending.IsNegative() {
			lm.Pending = decimal.Zero
		}
		if err := tx.UpdateLoanMember(ctx, lm); err != nil {
			return err
		}
	}
	return nil
}

// Approval is the outcome of approving a loan.
type Approval struct {
	Loan     *models.Loan      `json:"loan"`
	Emis     []*models.Emi     `json:"emis"`
	Postings []*models.Billing `json:"billing"`
}

// Approve moves a loan to Approved and generates its schedule in one
// transaction, then posts the approval ledger entries. It returns
// schedule.ErrAlreadyGenerated without changing anything when the loan already
// has a schedule.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor string) (*Approval, error) {
	res := &Approval{}
	err := s.storage.InTx(ctx, func(tx store.Storage) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if l.Deleted {
			return fmt.Errorf("loan %w", store.ErrNotFound)
		}
		if l.ScheduleGeneratedAt != nil {
			return fmt.Errorf("loan %s: %w", l.Number, schedule.ErrAlreadyGenerated)
		}
		if l.Status != models.LoanStatusDraft && l.Status != models.LoanStatusApproved {
			return fmt.Errorf("%w: cannot approve a %s loan", ErrInvalidStatus, l.Status)
		}
		l.Status = models.LoanStatusApproved
		l.UpdatedAt = s.now()
		l.UpdatedBy = actor
		if err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		res.Emis, err = s.generator.GenerateTx(ctx, tx, l, actor)
		res.Loan = l
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Postings, err = s.ledger.RecordApproval(ctx, id, actor)
	if err != nil {
		s.log.WithField("loan_id", id).WithError(err).Error("Approval postings failed")
	}
	s.log.WithFields(logrus.Fields{
		"loan_id":  id,
		"emis":     len(res.Emis),
		"postings": len(res.Postings),
	}).Info("Loan approved")
	return res, nil
}

// DeleteLoan soft-deletes a loan.
func (s *Service) DeleteLoan(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	l, err := s.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return l, s.setLoanDeleted(ctx, l, true, actor)
}

// ReactivateLoan undoes a soft delete.
func (s *Service) ReactivateLoan(ctx context.Context, id uuid.UUID, actor string) (*models.Loan, error) {
	l, err := s.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return l, s.setLoanDeleted(ctx, l, false, actor)
}

func (s *Service) setLoanDeleted(ctx context.Context, l *models.Loan, deleted bool, actor string) error {
	l.Deleted = deleted
	l.Active = !deleted
	l.UpdatedAt = s.now()
	l.UpdatedBy = actor
	return s.storage.UpdateLoan(ctx, l)
}
