package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/mcclellann/groupLoan/pkg/store/storetest"
	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFlatInstallment(t *testing.T) {
	tests := []struct {
		principal, interest string
		n                   int
		want                string
	}{
		{"12000", "0", 12, "1000"},
		{"10000", "1000", 12, "916.67"},
		{"1000", "0", 3, "333.33"},
		{"100.05", "0", 10, "10.01"},
		{"1200", "0", 0, "100"},
	}
	for _, tt := range tests {
		got := FlatInstallment(decimal.RequireFromString(tt.principal), decimal.RequireFromString(tt.interest), tt.n)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("FlatInstallment(%s, %s, %d) = %s, want %s", tt.principal, tt.interest, tt.n, got, tt.want)
		}
	}
}

func TestDueDates_Monthly(t *testing.T) {
	start := date(2024, 1, 1)
	loan := &models.Loan{StartDate: &start, RepaymentFrequency: models.FrequencyMonth}

	dates := DueDates(loan, 12, time.Now())
	if len(dates) != 12 {
		t.Fatalf("Expected 12 dates, got %d", len(dates))
	}
	for i, d := range dates {
		want := start.AddDate(0, 0, 30*(i+1))
		if !d.Equal(want) {
			t.Errorf("Installment %d: expected %s, got %s", i+1, want.Format("2006-01-02"), d.Format("2006-01-02"))
		}
	}
	if last := dates[11]; !last.Equal(date(2024, 12, 26)) {
		t.Errorf("Expected last due date 2024-12-26 (start+360), got %s", last.Format("2006-01-02"))
	}
}

func TestDueDates_Weekly(t *testing.T) {
	// 2024-01-01 is a Monday.
	start := date(2024, 1, 1)
	loan := &models.Loan{StartDate: &start, RepaymentFrequency: models.FrequencyWeek, EmiDay: " Thursday "}

	dates := DueDates(loan, 3, time.Now())
	want := []time.Time{date(2024, 1, 4), date(2024, 1, 11), date(2024, 1, 18)}
	for i := range want {
		if !dates[i].Equal(want[i]) {
			t.Errorf("Installment %d: expected %s, got %s", i+1, want[i].Format("2006-01-02"), dates[i].Format("2006-01-02"))
		}
	}

	loan.EmiDay = "monday"
	if first := DueDates(loan, 1, time.Now())[0]; !first.Equal(start) {
		t.Errorf("Expected first EMI on the start date when it matches, got %s", first.Format("2006-01-02"))
	}

	loan.EmiDay = "someday"
	if first := DueDates(loan, 1, time.Now())[0]; !first.Equal(start) {
		t.Errorf("Expected unknown weekday to start on the start date, got %s", first.Format("2006-01-02"))
	}
}

func TestDueDates_QuarterlyFallbackAndToday(t *testing.T) {
	start := date(2024, 1, 1)
	loan := &models.Loan{StartDate: &start, RepaymentFrequency: "fortnight"}
	dates := DueDates(loan, 2, time.Now())
	if !dates[0].Equal(start.AddDate(0, 0, 90)) || !dates[1].Equal(start.AddDate(0, 0, 180)) {
		t.Errorf("Expected 90-day steps, got %v", dates)
	}

	today := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)
	noStart := &models.Loan{RepaymentFrequency: models.FrequencyMonth}
	if first := DueDates(noStart, 1, today)[0]; !first.Equal(date(2024, 6, 9)) {
		t.Errorf("Expected today+30 days, got %s", first)
	}
}

func TestGenerate_CreatesOneRowPerMemberAndInstallment(t *testing.T) {
	s := storetest.New(t)
	loan, members := storetest.SeedLoan(t, s, 3, func(l *models.Loan) {
		l.Tenure = 6
		l.InterestAmount = decimal.NewFromInt(600)
	})
	g := NewGenerator(s, storetest.Logger(), DefaultTenure)
	ctx := context.Background()

	emis, err := g.Generate(ctx, loan.ID, "officer")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(emis) != 18 {
		t.Fatalf("Expected 18 EMIs, got %d", len(emis))
	}
	for _, e := range emis {
		if !e.Amount.Equal(decimal.NewFromInt(2100)) {
			t.Errorf("Expected amount 2100, got %s", e.Amount)
		}
		if e.Status != models.EmiStatusPending || e.Label != models.EmiLabelUpcoming || e.Delay != 0 {
			t.Errorf("Expected a fresh PENDING/UPCOMING EMI, got %s/%s delay %d", e.Status, e.Label, e.Delay)
		}
	}

	stored, err := g.ForLoan(ctx, loan.ID)
	if err != nil {
		t.Fatalf("ForLoan failed: %v", err)
	}
	if len(stored) != 18 {
		t.Errorf("Expected 18 stored EMIs, got %d", len(stored))
	}
	perMember := make(map[uuid.UUID]int)
	for _, e := range stored {
		perMember[e.MemberID]++
	}
	for _, lm := range members {
		if perMember[lm.MemberID] != 6 {
			t.Errorf("Expected 6 EMIs for member %s, got %d", lm.MemberID, perMember[lm.MemberID])
		}
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if fetched.ScheduleGeneratedAt == nil {
		t.Errorf("Expected the generated marker to be set")
	}
}

func TestGenerate_TwelveMonthLoan(t *testing.T) {
	s := storetest.New(t)
	loan, _ := storetest.SeedLoan(t, s, 1)
	g := NewGenerator(s, storetest.Logger(), DefaultTenure)

	emis, err := g.Generate(context.Background(), loan.ID, "officer")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(emis) != 12 {
		t.Fatalf("Expected 12 EMIs, got %d", len(emis))
	}
	start := date(2024, 1, 1)
	for i, e := range emis {
		if !e.Amount.Equal(decimal.NewFromInt(1000)) {
			t.Errorf("Expected 1000.00, got %s", e.Amount.StringFixed(2))
		}
		if want := start.AddDate(0, 0, 30*(i+1)); !e.DueDate.Equal(want) {
			t.Errorf("Installment %d: expected %s, got %s", i+1, want, e.DueDate)
		}
	}
}

func TestGenerate_Guarded(t *testing.T) {
	s := storetest.New(t)
	loan, _ := storetest.SeedLoan(t, s, 2)
	g := NewGenerator(s, storetest.Logger(), DefaultTenure)
	ctx := context.Background()

	if _, err := g.Generate(ctx, loan.ID, "officer"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := g.Generate(ctx, loan.ID, "officer"); !errors.Is(err, ErrAlreadyGenerated) {
		t.Fatalf("Expected ErrAlreadyGenerated, got %v", err)
	}
	emis, _ := g.ForLoan(ctx, loan.ID)
	if len(emis) != 24 {
		t.Errorf("Expected the schedule to stay at 24 rows, got %d", len(emis))
	}

	deleted, err := g.Delete(ctx, loan.ID, "officer")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if deleted != 24 {
		t.Errorf("Expected 24 rows deleted, got %d", deleted)
	}
	if _, err := g.Generate(ctx, loan.ID, "officer"); err != nil {
		t.Fatalf("Expected regeneration after delete to succeed, got %v", err)
	}
}

func TestBuild_IsNotIdempotent(t *testing.T) {
	s := storetest.New(t)
	loan, members := storetest.SeedLoan(t, s, 2, func(l *models.Loan) { l.Tenure = 4 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		emis := Build(loan, members, Installments(loan, DefaultTenure), "officer", time.Now().UTC())
		if err := s.CreateEmis(ctx, emis); err != nil {
			t.Fatalf("CreateEmis failed: %v", err)
		}
	}
	stored, err := s.ListEmis(ctx, store.EmiQuery{LoanIDs: []uuid.UUID{loan.ID}})
	if err != nil {
		t.Fatalf("ListEmis failed: %v", err)
	}
	if len(stored) != 2*2*4 {
		t.Errorf("Expected 2xNxT = 16 rows from two unguarded runs, got %d", len(stored))
	}
}

func TestGenerate_Errors(t *testing.T) {
	s := storetest.New(t)
	g := NewGenerator(s, storetest.Logger(), DefaultTenure)
	ctx := context.Background()

	if _, err := g.Generate(ctx, uuid.New(), "officer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	loan, _ := storetest.SeedLoan(t, s, 0)
	if _, err := g.Generate(ctx, loan.ID, "officer"); !errors.Is(err, ErrNoMembers) {
		t.Errorf("Expected ErrNoMembers, got %v", err)
	}
	fetched, _ := s.GetLoan(ctx, loan.ID)
	if fetched.ScheduleGeneratedAt != nil {
		t.Errorf("Expected no marker after a failed generation")
	}
}

func TestDelete_RefusesScheduleWithPayments(t *testing.T) {
	s := storetest.New(t)
	g := NewGenerator(s, storetest.Logger(), DefaultTenure)
	ctx := context.Background()

	paidLoan, _ := storetest.SeedLoan(t, s, 1)
	emis, err := g.Generate(ctx, paidLoan.ID, "officer")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	emis[0].Status = models.EmiStatusPaid
	emis[0].Label = models.EmiLabelPaid
	if err := s.UpdateEmi(ctx, emis[0]); err != nil {
		t.Fatalf("UpdateEmi failed: %v", err)
	}
	if _, err := g.Delete(ctx, paidLoan.ID, "officer"); !errors.Is(err, ErrHasPayments) {
		t.Errorf("Expected ErrHasPayments for a paid EMI, got %v", err)
	}

	// An overdue schedule with a payment on the ledger is kept as well.
	overdueLoan, members := storetest.SeedLoan(t, s, 1)
	if _, err := g.Generate(ctx, overdueLoan.ID, "officer"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := s.CreateBilling(ctx, &models.Billing{
		ID:        uuid.New(),
		LoanID:    overdueLoan.ID,
		MemberID:  members[0].MemberID,
		Amount:    decimal.NewFromInt(500),
		Code:      models.BillingCodePayment,
		Type:      models.EntryTypeCredit,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateBilling failed: %v", err)
	}
	if _, err := g.Delete(ctx, overdueLoan.ID, "officer"); !errors.Is(err, ErrHasPayments) {
		t.Errorf("Expected ErrHasPayments for a recorded payment, got %v", err)
	}

	for _, id := range []uuid.UUID{paidLoan.ID, overdueLoan.ID} {
		kept, _ := g.ForLoan(ctx, id)
		if len(kept) != 12 {
			t.Errorf("Expected the schedule to stay at 12 rows, got %d", len(kept))
		}
		loan, _ := s.GetLoan(ctx, id)
		if loan.ScheduleGeneratedAt == nil {
			t.Errorf("Expected the generated marker to stay set")
		}
	}
}

func TestDateOf(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	got := DateOf(time.Date(2024, 3, 1, 2, 0, 0, 0, ist))
	if !got.Equal(date(2024, 2, 29)) {
		t.Errorf("Expected 2024-02-29 UTC, got %s", got)
	}
}
