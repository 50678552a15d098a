// Package report derives cross-loan metrics and summaries on demand from the
// ledger, the EMI schedules and the member shares. Nothing here is stored.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/collection"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/schedule"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Filter narrows the loans a report covers. Empty fields do not filter; the
// rest are AND-combined. Dates are inclusive and apply to the loan's creation
// time. MemberIDs and GroupIDs keep a loan when any of its shares matches.
type Filter struct {
	StartDate *time.Time
	EndDate   *time.Time
	EmiDays   []string
	MemberIDs []uuid.UUID
	GroupIDs  []uuid.UUID
	StaffIDs  []string
	LoanIDs   []uuid.UUID
}

type Metrics struct {
	TotalLoanAmount   decimal.Decimal `json:"totalLoanAmount"`
	TotalCollected    decimal.Decimal `json:"totalCollected"`
	TotalPending      decimal.Decimal `json:"totalPending"`
	TotalInterestFees decimal.Decimal `json:"totalInterestFees"`
	TotalLoans        int             `json:"totalLoans"`
	TotalMemberGroups int             `json:"totalMemberGroups"`
	TotalMembers      int             `json:"totalMembers"`
}

type LoanSummary struct {
	ID              int             `json:"id"`
	LoanID          uuid.UUID       `json:"loanUuid"`
	LoanNumber      string          `json:"loanId"`
	GroupName       string          `json:"groupName"`
	Members         string          `json:"members"`
	LoanAmount      string          `json:"loanAmount"` // "exposure + fees" for display
	LoanAmountValue decimal.Decimal `json:"loanAmountValue"`
	MemberShare     decimal.Decimal `json:"memberShare"`
	InterestAmount  decimal.Decimal `json:"interestAmount"`
	CollectedAmount decimal.Decimal `json:"collectedAmount"`
	PendingAmount   decimal.Decimal `json:"pendingAmount"`
	OverdueAmount   decimal.Decimal `json:"overdueAmount"`
	EmiDay          string          `json:"emiDay"`
	Status          string          `json:"status"`
}

type UserSummary struct {
	ID         int             `json:"id"`
	MemberID   uuid.UUID       `json:"memberId"`
	UserName   string          `json:"userName"`
	LoanNumber string          `json:"loanId"`
	GroupName  string          `json:"groupName"`
	TotalEmi   decimal.Decimal `json:"totalEmi"`
	PaidEmi    decimal.Decimal `json:"paidEmi"`
	PendingEmi decimal.Decimal `json:"pendingEmi"`
}

type EmiDetail struct {
	EmiDate   string           `json:"emiDate"`
	EmiAmount decimal.Decimal  `json:"emiAmount"`
	EmiStatus models.EmiStatus `json:"emiStatus"`
}

type EmiSummary struct {
	ID          int         `json:"id"`
	LoanNumber  string      `json:"loanId"`
	UserName    string      `json:"userName"`
	TotalEmis   int         `json:"totalEmis"`
	PaidEmis    int         `json:"paidEmis"`
	PendingEmis int         `json:"pendingEmis"`
	EmiDetails  []EmiDetail `json:"emiDetails"`
}

type UserShare struct {
	UserName   string          `json:"userName"`
	TotalEmi   decimal.Decimal `json:"totalEmi"`
	PaidEmi    decimal.Decimal `json:"paidEmi"`
	PendingEmi decimal.Decimal `json:"pendingEmi"`
}

type CollectionSummary struct {
	ID              int             `json:"id"`
	LoanNumber      string          `json:"loanId"`
	GroupName       string          `json:"groupName"`
	LoanAmount      decimal.Decimal `json:"loanAmount"`
	MemberShare     decimal.Decimal `json:"memberShare"`
	CollectedAmount decimal.Decimal `json:"collectedAmount"`
	PendingAmount   decimal.Decimal `json:"pendingAmount"`
	NextEmiDate     string          `json:"nextEmiDate"`
	NextEmiAmount   decimal.Decimal `json:"nextEmiAmount"`
	UserDetails     []UserShare     `json:"userDetails"`
}

// Data is a complete report over the filtered loans.
type Data struct {
	Metrics     Metrics             `json:"metrics"`
	Summary     []LoanSummary       `json:"summary_data"`
	Users       []UserSummary       `json:"user_summary_data"`
	Emis        []EmiSummary        `json:"emi_summary_data"`
	Collections []CollectionSummary `json:"collections_summary_data"`
	LoansCount  int                 `json:"loans_count"`
}

// Aggregator computes reports.
type Aggregator struct {
	storage store.Storage
	log     logrus.FieldLogger
}

// NewAggregator creates an Aggregator reading from s.
func NewAggregator(s store.Storage, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{storage: s, log: log}
}

// snapshot is everything loaded for one report run.
type snapshot struct {
	loans      []*models.Loan
	members    map[uuid.UUID][]*models.LoanMember
	emis       map[uuid.UUID][]*models.Emi
	billing    []*models.Billing
	groupNames map[uuid.UUID]string
}

// Data builds the report for the loans matching f.
func (a *Aggregator) Data(ctx context.Context, f Filter) (*Data, error) {
	snap, err := a.load(ctx, f)
	if err != nil {
		return nil, err
	}
	d := &Data{
		Metrics:     metrics(snap),
		Summary:     []LoanSummary{},
		Users:       []UserSummary{},
		Emis:        []EmiSummary{},
		Collections: []CollectionSummary{},
		LoansCount:  len(snap.loans),
	}

	fees := make(map[uuid.UUID]decimal.Decimal)
	for _, b := range snap.billing {
		if b.Code.IsFee() {
			fees[b.LoanID] = fees[b.LoanID].Add(b.Amount)
		}
	}

	for _, l := range snap.loans {
		members := snap.members[l.ID]
		emis := snap.emis[l.ID]
		group := snap.groupName(l)

		d.Summary = append(d.Summary, loanSummary(len(d.Summary)+1, l, group, members, emis, fees[l.ID]))
		for _, lm := range members {
			own := emisOf(emis, lm.MemberID)
			d.Users = append(d.Users, userSummary(len(d.Users)+1, l, group, lm, own))
			d.Emis = append(d.Emis, emiSummary(len(d.Emis)+1, l, lm, own))
		}
		d.Collections = append(d.Collections, collectionSummary(len(d.Collections)+1, l, group, members, emis))
	}

	a.log.WithFields(logrus.Fields{"loans": d.LoansCount}).Debug("Report computed")
	return d, nil
}

func (a *Aggregator) load(ctx context.Context, f Filter) (*snapshot, error) {
	q := store.LoanQuery{
		IDs:      f.LoanIDs,
		EmiDays:  f.EmiDays,
		AssignTo: f.StaffIDs,
	}
	if f.StartDate != nil {
		from := schedule.DateOf(*f.StartDate)
		q.CreatedFrom = &from
	}
	if f.EndDate != nil {
		to := schedule.DateOf(*f.EndDate).AddDate(0, 0, 1)
		q.CreatedTo = &to
	}
	loans, err := a.storage.ListLoans(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}

	snap := &snapshot{
		members:    make(map[uuid.UUID][]*models.LoanMember),
		emis:       make(map[uuid.UUID][]*models.Emi),
		groupNames: make(map[uuid.UUID]string),
	}
	if len(loans) == 0 {
		return snap, nil
	}

	ids := loanIDs(loans)
	shares, err := a.storage.ListLoanMembers(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan members: %w", err)
	}
	for _, lm := range shares {
		snap.members[lm.LoanID] = append(snap.members[lm.LoanID], lm)
	}

	if len(f.MemberIDs) > 0 || len(f.GroupIDs) > 0 {
		members, groups := idSet(f.MemberIDs), idSet(f.GroupIDs)
		kept := loans[:0]
		for _, l := range loans {
			for _, lm := range snap.members[l.ID] {
				if (len(members) == 0 || members[lm.MemberID]) && (len(groups) == 0 || groups[lm.MemberGroupID]) {
					kept = append(kept, l)
					break
				}
			}
		}
		loans = kept
		if len(loans) == 0 {
			return snap, nil
		}
		ids = loanIDs(loans)
	}
	snap.loans = loans

	emis, err := a.storage.ListEmis(ctx, store.EmiQuery{LoanIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to load emis: %w", err)
	}
	for _, e := range emis {
		snap.emis[e.LoanID] = append(snap.emis[e.LoanID], e)
	}

	snap.billing, err = a.storage.ListBilling(ctx, store.BillingQuery{LoanIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to load billing: %w", err)
	}

	var groupIDs []uuid.UUID
	for _, l := range loans {
		if l.MemberGroupID != nil {
			groupIDs = append(groupIDs, *l.MemberGroupID)
		}
	}
	if len(groupIDs) > 0 {
		groups, err := a.storage.ListGroups(ctx, store.GroupQuery{IDs: groupIDs, IncludeDeleted: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load groups: %w", err)
		}
		for _, g := range groups {
			snap.groupNames[g.ID] = g.Name
		}
	}
	return snap, nil
}

func (s *snapshot) groupName(l *models.Loan) string {
	if l.MemberGroupID != nil {
		if name, ok := s.groupNames[*l.MemberGroupID]; ok {
			return name
		}
	}
	return "N/A"
}

// metrics takes money totals strictly from ledger codes.
func metrics(s *snapshot) Metrics {
	m := Metrics{
		TotalLoanAmount:   decimal.Zero,
		TotalCollected:    decimal.Zero,
		TotalInterestFees: decimal.Zero,
		TotalLoans:        len(s.loans),
	}
	for _, b := range s.billing {
		switch {
		case b.Code == models.BillingCodeLoanAmount:
			m.TotalLoanAmount = m.TotalLoanAmount.Add(b.Amount)
		case b.Code == models.BillingCodePayment:
			m.TotalCollected = m.TotalCollected.Add(b.Amount)
		case b.Code.IsFee():
			m.TotalInterestFees = m.TotalInterestFees.Add(b.Amount)
		}
	}
	m.TotalPending = collection.Pending(m.TotalLoanAmount, m.TotalCollected)

	groups := make(map[uuid.UUID]bool)
	for _, l := range s.loans {
		for _, lm := range s.members[l.ID] {
			m.TotalMembers++
			if lm.MemberGroupID != uuid.Nil {
				groups[lm.MemberGroupID] = true
			}
		}
	}
	m.TotalMemberGroups = len(groups)
	return m
}

func loanSummary(id int, l *models.Loan, group string, members []*models.LoanMember, emis []*models.Emi, fees decimal.Decimal) LoanSummary {
	names := ""
	for i, lm := range members {
		if i > 0 {
			names += ", "
		}
		names += lm.Name
	}
	collected, pending, overdue := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range emis {
		switch e.Status {
		case models.EmiStatusPaid:
			collected = collected.Add(e.Amount)
		case models.EmiStatusOverdue:
			overdue = overdue.Add(e.Amount)
		default:
			pending = pending.Add(e.Amount)
		}
	}

	exposure := l.Principal.Mul(decimal.NewFromInt(int64(len(members))))
	display := exposure.Truncate(0).String()
	if fees.IsPositive() {
		display = fmt.Sprintf("%s + %s", display, fees.Truncate(0).String())
	}
	emiDay := l.EmiDay
	if emiDay == "" {
		emiDay = "N/A"
	}
	return LoanSummary{
		ID:              id,
		LoanID:          l.ID,
		LoanNumber:      l.Number,
		GroupName:       group,
		Members:         names,
		LoanAmount:      display,
		LoanAmountValue: exposure,
		MemberShare:     l.Principal,
		InterestAmount:  fees,
		CollectedAmount: collected,
		PendingAmount:   pending,
		OverdueAmount:   overdue,
		EmiDay:          emiDay,
		Status:          string(l.Status),
	}
}

func userSummary(id int, l *models.Loan, group string, lm *models.LoanMember, own []*models.Emi) UserSummary {
	total, paid := decimal.Zero, decimal.Zero
	for _, e := range own {
		total = total.Add(e.Amount)
		if e.Status == models.EmiStatusPaid {
			paid = paid.Add(e.Amount)
		}
	}
	return UserSummary{
		ID:         id,
		MemberID:   lm.MemberID,
		UserName:   lm.Name,
		LoanNumber: l.Number,
		GroupName:  group,
		TotalEmi:   total.Round(2),
		PaidEmi:    paid.Round(2),
		PendingEmi: total.Sub(paid).Round(2),
	}
}

func emiSummary(id int, l *models.Loan, lm *models.LoanMember, own []*models.Emi) EmiSummary {
	s := EmiSummary{
		ID:         id,
		LoanNumber: l.Number,
		UserName:   lm.Name,
		TotalEmis:  len(own),
		EmiDetails: make([]EmiDetail, 0, len(own)),
	}
	for _, e := range own {
		if e.Status == models.EmiStatusPaid {
			s.PaidEmis++
		}
		s.EmiDetails = append(s.EmiDetails, EmiDetail{
			EmiDate:   e.DueDate.Format(dateLayout),
			EmiAmount: e.Amount.Round(2),
			EmiStatus: e.Status,
		})
	}
	s.PendingEmis = s.TotalEmis - s.PaidEmis
	return s
}

// collectionSummary splits the loan's totals evenly across its members rather
// than using each member's own share.
func collectionSummary(id int, l *models.Loan, group string, members []*models.LoanMember, emis []*models.Emi) CollectionSummary {
	exposure := l.Principal.Mul(decimal.NewFromInt(int64(len(members))))
	collected, pending := decimal.Zero, decimal.Zero
	for _, e := range emis {
		if e.Status == models.EmiStatusPaid {
			collected = collected.Add(e.Amount)
		} else {
			pending = pending.Add(e.Amount)
		}
	}

	s := CollectionSummary{
		ID:              id,
		LoanNumber:      l.Number,
		GroupName:       group,
		LoanAmount:      exposure.Round(2),
		MemberShare:     l.Principal,
		CollectedAmount: collected.Round(2),
		PendingAmount:   pending.Round(2),
		NextEmiDate:     "N/A",
		NextEmiAmount:   decimal.Zero,
		UserDetails:     make([]UserShare, 0, len(members)),
	}
	if next := nextUnpaid(emis); next != nil {
		s.NextEmiDate = next.DueDate.Format(dateLayout)
		s.NextEmiAmount = next.Amount.Round(2)
	}
	if n := decimal.NewFromInt(int64(len(members))); len(members) > 0 {
		for _, lm := range members {
			s.UserDetails = append(s.UserDetails, UserShare{
				UserName:   lm.Name,
				TotalEmi:   exposure.Div(n).Round(2),
				PaidEmi:    collected.Div(n).Round(2),
				PendingEmi: pending.Div(n).Round(2),
			})
		}
	}
	return s
}

func nextUnpaid(emis []*models.Emi) *models.Emi {
	var next *models.Emi
	for _, e := range emis {
		if e.Status == models.EmiStatusPaid {
			continue
		}
		if next == nil || e.DueDate.Before(next.DueDate) {
			next = e
		}
	}
	return next
}

func emisOf(emis []*models.Emi, memberID uuid.UUID) []*models.Emi {
	var own []*models.Emi
	for _, e := range emis {
		if e.MemberID == memberID {
			own = append(own, e)
		}
	}
	return own
}

// Option is an id/label pair offered in a report filter.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FilterOptions struct {
	EmiDays      []string `json:"emi_days"`
	Members      []Option `json:"members"`
	MemberGroups []Option `json:"member_groups"`
	Staffs       []Option `json:"staffs"`
	Loans        []Option `json:"loans"`
}

// FilterOptions lists the values the report filters can take across all
// non-deleted loans.
func (a *Aggregator) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	loans, err := a.storage.ListLoans(ctx, store.LoanQuery{})
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}
	opts := &FilterOptions{
		EmiDays:      []string{},
		Members:      []Option{},
		MemberGroups: []Option{},
		Staffs:       []Option{},
		Loans:        []Option{},
	}
	if len(loans) == 0 {
		return opts, nil
	}

	days := make(map[string]bool)
	staffIDs := make(map[string]bool)
	var groupIDs []uuid.UUID
	for _, l := range loans {
		if l.EmiDay != "" && !days[l.EmiDay] {
			days[l.EmiDay] = true
			opts.EmiDays = append(opts.EmiDays, l.EmiDay)
		}
		if l.AssignTo != "" {
			staffIDs[l.AssignTo] = true
		}
		if l.MemberGroupID != nil {
			groupIDs = append(groupIDs, *l.MemberGroupID)
		}
		opts.Loans = append(opts.Loans, Option{ID: l.ID.String(), Name: l.Number})
	}
	sort.Strings(opts.EmiDays)

	shares, err := a.storage.ListLoanMembers(ctx, loanIDs(loans)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan members: %w", err)
	}
	seen := make(map[uuid.UUID]bool)
	for _, lm := range shares {
		if seen[lm.MemberID] {
			continue
		}
		seen[lm.MemberID] = true
		opts.Members = append(opts.Members, Option{ID: lm.MemberID.String(), Name: lm.Name})
	}

	if len(groupIDs) > 0 {
		groups, err := a.storage.ListGroups(ctx, store.GroupQuery{IDs: groupIDs})
		if err != nil {
			return nil, fmt.Errorf("failed to load groups: %w", err)
		}
		for _, g := range groups {
			opts.MemberGroups = append(opts.MemberGroups, Option{ID: g.ID.String(), Name: g.Name})
		}
	}

	staff, err := a.storage.ListStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load staff: %w", err)
	}
	for _, st := range staff {
		if !staffIDs[st.StaffID] {
			continue
		}
		name := st.Name
		if st.Designation != "" {
			name = fmt.Sprintf("%s (%s)", st.Name, st.Designation)
		}
		opts.Staffs = append(opts.Staffs, Option{ID: st.StaffID, Name: name})
	}

	for _, list := range [][]Option{opts.Members, opts.MemberGroups, opts.Staffs, opts.Loans} {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return opts, nil
}

func loanIDs(loans []*models.Loan) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(loans))
	for _, l := range loans {
		ids = append(ids, l.ID)
	}
	return ids
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
