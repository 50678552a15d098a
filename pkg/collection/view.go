package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
)

const (
	StatusActive    = "Active"
	StatusOverdue   = "Overdue"
	StatusCompleted = "Completed"
)

// MemberView is one member share with its own EMIs.
type MemberView struct {
	ID              uuid.UUID       `json:"id"`
	MemberID        uuid.UUID       `json:"memberId"`
	Name            string          `json:"name"`
	Place           string          `json:"place"`
	Phone           string          `json:"phone"`
	ShareAmount     decimal.Decimal `json:"shareAmount"`
	CollectedAmount decimal.Decimal `json:"collectedAmount"`
	PendingAmount   decimal.Decimal `json:"pendingAmount"`
	NextDueDate     *time.Time      `json:"nextDueDate"`
	EmiSchedule     []*models.Emi   `json:"emiSchedule"`
}

// LoanView is the denormalized snapshot of a loan used by the collection
// screens. LoanAmount is the group exposure, principal times member count;
// MemberShare is the principal each member carries.
type LoanView struct {
	ID              uuid.UUID        `json:"id"`
	LoanNumber      string           `json:"loanId"`
	GroupName       string           `json:"groupName"`
	MemberGroupID   *uuid.UUID       `json:"memberGroupId"`
	Members         []*MemberView    `json:"members"`
	MemberCount     int              `json:"memberCount"`
	LoanAmount      decimal.Decimal  `json:"loanAmount"`
	MemberShare     decimal.Decimal  `json:"memberShare"`
	CollectedAmount decimal.Decimal  `json:"collectedAmount"`
	PendingAmount   decimal.Decimal  `json:"pendingAmount"`
	Frequency       models.Frequency `json:"frequency"`
	EmiDay          string           `json:"emiDay"`
	AssignTo        string           `json:"assign_to"`
	CreatedDate     time.Time        `json:"createdDate"`
	Status          string           `json:"status"`
	NextDueDate     *time.Time       `json:"nextDueDate"`
	LoanStartDate   *time.Time       `json:"loanStartDate"`
	InterestRate    decimal.Decimal  `json:"interestRate"`
	LoanTenure      int              `json:"loanTenure"`
	MonthlyEmi      decimal.Decimal  `json:"monthlyEmi"`
}

// BuildView assembles the view of one loan. EMIs are matched to shares by
// member id; emis may hold rows of other loans, which are ignored. Totals come
// from the share balances, not from the EMIs.
func BuildView(loan *models.Loan, groupName string, members []*models.LoanMember, emis []*models.Emi) *LoanView {
	byMember := make(map[uuid.UUID][]*models.Emi)
	for _, e := range emis {
		if e.LoanID == loan.ID {
			byMember[e.MemberID] = append(byMember[e.MemberID], e)
		}
	}

	v := &LoanView{
		ID:              loan.ID,
		LoanNumber:      loan.Number,
		GroupName:       groupName,
		MemberGroupID:   loan.MemberGroupID,
		Members:         make([]*MemberView, 0, len(members)),
		MemberShare:     loan.Principal,
		CollectedAmount: decimal.Zero,
		PendingAmount:   decimal.Zero,
		Frequency:       loan.RepaymentFrequency,
		EmiDay:          loan.EmiDay,
		AssignTo:        loan.AssignTo,
		CreatedDate:     loan.CreatedAt,
		LoanStartDate:   loan.StartDate,
		InterestRate:    loan.InterestRate,
		LoanTenure:      loan.Tenure,
		MonthlyEmi:      loan.MonthlyEmi,
	}
	if v.Frequency == "" {
		v.Frequency = models.FrequencyMonth
	}

	overdue := false
	for _, lm := range members {
		if lm.LoanID != loan.ID {
			continue
		}
		own := byMember[lm.MemberID]
		if own == nil {
			own = []*models.Emi{}
		}
		mv := &MemberView{
			ID:              lm.ID,
			MemberID:        lm.MemberID,
			Name:            lm.Name,
			Place:           lm.Place,
			Phone:           lm.Phone,
			ShareAmount:     lm.Amount,
			CollectedAmount: lm.Collected,
			PendingAmount:   lm.Pending,
			NextDueDate:     NextDueDate(own),
			EmiSchedule:     own,
		}
		for _, e := range own {
			if e.Status == models.EmiStatusOverdue {
				overdue = true
			}
		}
		v.Members = append(v.Members, mv)
		v.CollectedAmount = v.CollectedAmount.Add(lm.Collected)
		v.PendingAmount = v.PendingAmount.Add(lm.Pending)
		v.NextDueDate = earliest(v.NextDueDate, mv.NextDueDate)
	}
	v.MemberCount = len(v.Members)
	v.LoanAmount = loan.Principal.Mul(decimal.NewFromInt(int64(v.MemberCount)))

	switch {
	case v.PendingAmount.IsZero():
		v.Status = StatusCompleted
	case overdue:
		v.Status = StatusOverdue
	default:
		v.Status = StatusActive
	}
	return v
}

// NextDueDate is the earliest due date among unpaid EMIs, or nil.
func NextDueDate(emis []*models.Emi) *time.Time {
	var next *time.Time
	for _, e := range emis {
		if e.Status == models.EmiStatusPaid {
			continue
		}
		due := e.DueDate
		next = earliest(next, &due)
	}
	return next
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}

// Builder loads loans with their shares and EMIs and builds their views.
type Builder struct {
	storage store.Storage
}

func NewBuilder(s store.Storage) *Builder {
	return &Builder{storage: s}
}

// List returns views of approved, non-deleted loans, newest first.
func (b *Builder) List(ctx context.Context, offset, limit int) ([]*LoanView, error) {
	loans, err := b.storage.ListLoans(ctx, store.LoanQuery{
		Status: models.LoanStatusApproved,
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	return b.build(ctx, loans)
}

// Get returns the view of a single non-deleted loan in any status.
func (b *Builder) Get(ctx context.Context, loanID uuid.UUID) (*LoanView, error) {
	loan, err := b.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Deleted {
		return nil, fmt.Errorf("loan %w", store.ErrNotFound)
	}
	views, err := b.build(ctx, []*models.Loan{loan})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (b *Builder) build(ctx context.Context, loans []*models.Loan) ([]*LoanView, error) {
	views := make([]*LoanView, 0, len(loans))
	if len(loans) == 0 {
		return views, nil
	}

	ids := make([]uuid.UUID, 0, len(loans))
	var groupIDs []uuid.UUID
	for _, l := range loans {
		ids = append(ids, l.ID)
		if l.MemberGroupID != nil {
			groupIDs = append(groupIDs, *l.MemberGroupID)
		}
	}

	members, err := b.storage.ListLoanMembers(ctx, ids...)
	if err != nil {
		return nil, err
	}
	emis, err := b.storage.ListEmis(ctx, store.EmiQuery{LoanIDs: ids})
	if err != nil {
		return nil, err
	}
	groupNames := make(map[uuid.UUID]string)
	if len(groupIDs) > 0 {
		groups, err := b.storage.ListGroups(ctx, store.GroupQuery{IDs: groupIDs, IncludeDeleted: true})
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			groupNames[g.ID] = g.Name
		}
	}

	membersByLoan := make(map[uuid.UUID][]*models.LoanMember)
	for _, lm := range members {
		membersByLoan[lm.LoanID] = append(membersByLoan[lm.LoanID], lm)
	}
	emisByLoan := make(map[uuid.UUID][]*models.Emi)
	for _, e := range emis {
		emisByLoan[e.LoanID] = append(emisByLoan[e.LoanID], e)
	}

	for _, l := range loans {
		name := ""
		if l.MemberGroupID != nil {
			name = groupNames[*l.MemberGroupID]
		}
		views = append(views, BuildView(l, name, membersByLoan[l.ID], emisByLoan[l.ID]))
	}
	return views, nil
}
