// Package schedule computes and stores the flat EMI schedule of a loan: one
// installment per member per period, all of the same amount.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultTenure = 12

const (
	monthStepDays   = 30
	quarterStepDays = 90
	weekStepDays    = 7
)

var (
	ErrNoMembers        = errors.New("loan has no members")
	ErrAlreadyGenerated = errors.New("emi schedule already generated")
	ErrHasPayments      = errors.New("emi schedule has payments")
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Installments returns the loan's tenure, or def when the loan has none.
func Installments(loan *models.Loan, def int) int {
	if loan.Tenure > 0 {
		return loan.Tenure
	}
	if def > 0 {
		return def
	}
	return DefaultTenure
}

// FlatInstallment splits principal plus flat interest evenly over n
// installments, rounded half away from zero to 2 places.
func FlatInstallment(principal, interest decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		n = DefaultTenure
	}
	return principal.Add(interest).Div(decimal.NewFromInt(int64(n))).Round(2)
}

// DueDates returns n due dates for the loan. Monthly loans step 30 days from
// the start date and quarterly (or unknown) ones 90 days, both beginning one
// step after the start. Weekly loans fall due on the first EmiDay weekday on
// or after the start and every 7 days after that. A loan without a start date
// starts on today's date.
func DueDates(loan *models.Loan, n int, today time.Time) []time.Time {
	start := DateOf(today)
	if loan.StartDate != nil {
		start = DateOf(*loan.StartDate)
	}

	dates := make([]time.Time, 0, n)
	switch frequencyOf(loan) {
	case models.FrequencyMonth:
		for i := 1; i <= n; i++ {
			dates = append(dates, start.AddDate(0, 0, monthStepDays*i))
		}
	case models.FrequencyWeek:
		first := start
		if wd, ok := weekdays[strings.ToLower(strings.TrimSpace(loan.EmiDay))]; ok {
			first = start.AddDate(0, 0, (int(wd)-int(start.Weekday())+7)%7)
		}
		for i := 0; i < n; i++ {
			dates = append(dates, first.AddDate(0, 0, weekStepDays*i))
		}
	default:
		for i := 1; i <= n; i++ {
			dates = append(dates, start.AddDate(0, 0, quarterStepDays*i))
		}
	}
	return dates
}

func frequencyOf(loan *models.Loan) models.Frequency {
	f := models.Frequency(strings.ToLower(strings.TrimSpace(string(loan.RepaymentFrequency))))
	if f == "" {
		return models.FrequencyMonth
	}
	return f
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Build materializes the EMI rows for every member and installment. It has no
// side effects and no memory of earlier schedules.
func Build(loan *models.Loan, members []*models.LoanMember, n int, actor string, now time.Time) []*models.Emi {
	amount := FlatInstallment(loan.Principal, loan.InterestAmount, n)
	dates := DueDates(loan, n, now)

	emis := make([]*models.Emi, 0, len(members)*n)
	for _, lm := range members {
		for i, due := range dates {
			emis = append(emis, &models.Emi{
				ID:          uuid.New(),
				LoanID:      loan.ID,
				MemberID:    lm.MemberID,
				Installment: i + 1,
				DueDate:     due,
				Amount:      amount,
				Status:      models.EmiStatusPending,
				Label:       models.EmiLabelUpcoming,
				CreatedAt:   now,
				CreatedBy:   actor,
				UpdatedAt:   now,
			})
		}
	}
	return emis
}

// Generator stores EMI schedules, at most one per loan.
type Generator struct {
	storage       store.Storage
	log           logrus.FieldLogger
	defaultTenure int
	now           func() time.Time
}

// NewGenerator creates a Generator that falls back to defaultTenure
// installments for loans without a tenure.
func NewGenerator(s store.Storage, log logrus.FieldLogger, defaultTenure int) *Generator {
	return &Generator{
		storage:       s,
		log:           log,
		defaultTenure: defaultTenure,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Generate creates the schedule of a loan in one transaction.
func (g *Generator) Generate(ctx context.Context, loanID uuid.UUID, actor string) ([]*models.Emi, error) {
	var emis []*models.Emi
	err := g.storage.InTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		emis, err = g.GenerateTx(ctx, tx, loan, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return emis, nil
}

// GenerateTx creates the schedule using tx and stamps the loan's generated
// marker. It returns ErrAlreadyGenerated when the marker is already set, and
// ErrNoMembers when the loan has no shares.
func (g *Generator) GenerateTx(ctx context.Context, tx store.Storage, loan *models.Loan, actor string) ([]*models.Emi, error) {
	if loan.ScheduleGeneratedAt != nil {
		return nil, fmt.Errorf("loan %s: %w", loan.Number, ErrAlreadyGenerated)
	}
	members, err := tx.ListLoanMembers(ctx, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan members: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("loan %s: %w", loan.Number, ErrNoMembers)
	}

	now := g.now()
	n := Installments(loan, g.defaultTenure)
	emis := Build(loan, members, n, actor, now)
	if err := tx.CreateEmis(ctx, emis); err != nil {
		return nil, err
	}

	loan.ScheduleGeneratedAt = &now
	loan.UpdatedAt = now
	loan.UpdatedBy = actor
	if err := tx.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"members":      len(members),
		"installments": n,
		"emi_amount":   emis[0].Amount.StringFixed(2),
	}).Info("EMI schedule generated")
	return emis, nil
}

// ForLoan returns a loan's schedule ordered by member, then due date.
func (g *Generator) ForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Emi, error) {
	if _, err := g.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return g.storage.ListEmis(ctx, store.EmiQuery{LoanIDs: []uuid.UUID{loanID}})
}

// Delete removes a loan's schedule and clears its generated marker so it can
// be generated again. A schedule that has collected money is kept and
// ErrHasPayments is returned: a paid EMI or a PAYMENT ledger row blocks it.
func (g *Generator) Delete(ctx context.Context, loanID uuid.UUID, actor string) (int64, error) {
	var deleted int64
	err := g.storage.InTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		paid, err := tx.ListEmis(ctx, store.EmiQuery{
			LoanIDs:  []uuid.UUID{loanID},
			Statuses: []models.EmiStatus{models.EmiStatusPaid},
		})
		if err != nil {
			return err
		}
		payments, err := tx.ListBilling(ctx, store.BillingQuery{
			LoanIDs: []uuid.UUID{loanID},
			Codes:   []models.BillingCode{models.BillingCodePayment},
		})
		if err != nil {
			return err
		}
		if len(paid) > 0 || len(payments) > 0 {
			return fmt.Errorf("loan %s: %w", loan.Number, ErrHasPayments)
		}
		deleted, err = tx.DeleteEmisForLoan(ctx, loanID)
		if err != nil {
			return err
		}
		loan.ScheduleGeneratedAt = nil
		loan.UpdatedAt = g.now()
		loan.UpdatedBy = actor
		return tx.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return 0, err
	}
	g.log.WithFields(logrus.Fields{"loan_id": loanID, "deleted": deleted}).Info("EMI schedule deleted")
	return deleted, nil
}
