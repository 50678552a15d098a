package ledger

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

func countCodes(entries []*models.Billing) map[models.BillingCode]int {
	counts := make(map[models.BillingCode]int)
	for _, b := range entries {
		counts[b.Code]++
	}
	return counts
}

func TestRecordApproval_PostsPerMemberAndSkipsZeroFees(t *testing.T) {
	s := storetest.New(t)
	loan, _ := storetest.SeedLoan(t, s, 3, func(l *models.Loan) {
		l.ProcessingFees = decimal.NewFromInt(150)
		l.InterestAmount = decimal.NewFromInt(1200)
	})
	r := NewRecorder(s, storetest.Logger())

	posted, err := r.RecordApproval(context.Background(), loan.ID, "officer")
	if err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	if len(posted) != 9 {
		t.Fatalf("Expected 9 entries (3 members x 3 categories), got %d", len(posted))
	}

	counts := countCodes(posted)
	if counts[models.BillingCodeLoanAmount] != 3 || counts[models.BillingCodeProcessingFee] != 3 || counts[models.BillingCodeInterest] != 3 {
		t.Errorf("Unexpected code counts: %v", counts)
	}
	if counts[models.BillingCodeInsuranceFee] != 0 || counts[models.BillingCodeOtherFee] != 0 {
		t.Errorf("Expected zero-valued fees to be skipped, got %v", counts)
	}

	for _, b := range posted {
		switch b.Code {
		case models.BillingCodeLoanAmount:
			if b.Type != models.EntryTypeDebit || !b.Amount.Equal(decimal.NewFromInt(12000)) {
				t.Errorf("Expected LOAN_AMOUNT DEBIT 12000, got %s %s", b.Type, b.Amount)
			}
		case models.BillingCodeProcessingFee:
			if b.Type != models.EntryTypeCredit {
				t.Errorf("Expected PROCESSING_FEE CREDIT, got %s", b.Type)
			}
		}
		if b.CreatedBy != "officer" {
			t.Errorf("Expected creator officer, got %q", b.CreatedBy)
		}
		if b.MemberGroupID == nil || loan.MemberGroupID == nil || *b.MemberGroupID != *loan.MemberGroupID {
			t.Errorf("Expected entry to carry the loan's group")
		}
	}

	stored, err := r.EntriesForLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("EntriesForLoan failed: %v", err)
	}
	if len(stored) != 9 {
		t.Errorf("Expected 9 stored entries, got %d", len(stored))
	}
}

func TestRecordApproval_ContinuesPastFailedInsert(t *testing.T) {
	s := storetest.New(t)
	loan, members := storetest.SeedLoan(t, s, 2, func(l *models.Loan) {
		l.ProcessingFees = decimal.NewFromInt(100)
		l.InsuranceFees = decimal.NewFromInt(50)
		l.OtherFees = decimal.NewFromInt(25)
	})
	failing := &storetest.FailingStore{
		Storage:   s,
		FailCodes: map[models.BillingCode]bool{models.BillingCodeInsuranceFee: true},
	}
	r := NewRecorder(failing, storetest.Logger())

	posted, err := r.RecordApproval(context.Background(), loan.ID, "officer")
	if err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	counts := countCodes(posted)
	if counts[models.BillingCodeInsuranceFee] != 0 {
		t.Errorf("Expected no insurance entries, got %d", counts[models.BillingCodeInsuranceFee])
	}
	if counts[models.BillingCodeOtherFee] != 2 || counts[models.BillingCodeLoanAmount] != 2 {
		t.Errorf("Expected the remaining categories to be posted, got %v", counts)
	}

	entries, _ := r.EntriesForMember(context.Background(), loan.ID, members[1].MemberID)
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries for the second member, got %d", len(entries))
	}
}

func TestRecordApproval_LoanNotFound(t *testing.T) {
	s := storetest.New(t)
	r := NewRecorder(s, storetest.Logger())

	_, err := r.RecordApproval(context.Background(), uuid.New(), "officer")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRecordPayment_RollsBackWithTransaction(t *testing.T) {
	s := storetest.New(t)
	loan, members := storetest.SeedLoan(t, s, 1)
	r := NewRecorder(s, storetest.Logger())
	ctx := context.Background()

	rollback := errors.New("rollback")
	err := s.InTx(ctx, func(tx store.Storage) error {
		b, err := r.RecordPayment(ctx, tx, members[0], decimal.NewFromInt(1000), "collector")
		if err != nil {
			return err
		}
		if b.Code != models.BillingCodePayment || b.Type != models.EntryTypeCredit {
			t.Errorf("Expected PAYMENT CREDIT, got %s %s", b.Code, b.Type)
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("Expected rollback error, got %v", err)
	}

	entries, _ := r.EntriesForLoan(ctx, loan.ID)
	if len(entries) != 0 {
		t.Errorf("Expected no entries after rollback, got %d", len(entries))
	}

	if err := s.InTx(ctx, func(tx store.Storage) error {
		_, err := r.RecordPayment(ctx, tx, members[0], decimal.NewFromInt(1000), "collector")
		return err
	}); err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	collected, err := Collected(ctx, s, loan.ID, members[0].MemberID)
	if err != nil {
		t.Fatalf("Collected failed: %v", err)
	}
	if !collected.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected collected 1000, got %s", collected)
	}
}

func TestRecord_AppendsEntry(t *testing.T) {
	s := storetest.New(t)
	loan, members := storetest.SeedLoan(t, s, 1)
	r := NewRecorder(s, storetest.Logger())

	b, err := r.Record(context.Background(), Entry{
		LoanID:      loan.ID,
		MemberID:    members[0].MemberID,
		Amount:      decimal.RequireFromString("10.50"),
		Code:        models.BillingCodeOtherFee,
		Type:        models.EntryTypeCredit,
		Description: "Late fee",
		CreatedBy:   "officer",
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if b.ID == uuid.Nil || b.CreatedAt.IsZero() {
		t.Errorf("Expected id and timestamp to be set")
	}
	if got := Sum([]*models.Billing{b, b}); !got.Equal(decimal.NewFromInt(21)) {
		t.Errorf("Expected sum 21, got %s", got)
	}
}

func TestRecordApproval_RepeatedPostsNothingNew(t *testing.T) {
	s := storetest.New(t)
	loan, _ := storetest.SeedLoan(t, s, 3, func(l *models.Loan) {
		l.ProcessingFees = decimal.NewFromInt(150)
		l.InterestAmount = decimal.NewFromInt(1200)
	})
	r := NewRecorder(s, storetest.Logger())
	ctx := context.Background()

	if _, err := r.RecordApproval(ctx, loan.ID, "officer"); err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	again, err := r.RecordApproval(ctx, loan.ID, "officer")
	if err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected no new entries on a repeated approval, got %d", len(again))
	}
	stored, _ := r.EntriesForLoan(ctx, loan.ID)
	if len(stored) != 9 {
		t.Errorf("Expected entries to stay at 9, got %d", len(stored))
	}
}

func TestRecordApproval_RetryFillsFailedEntries(t *testing.T) {
	s := storetest.New(t)
	loan, _ := storetest.SeedLoan(t, s, 2, func(l *models.Loan) {
		l.InsuranceFees = decimal.NewFromInt(50)
	})
	ctx := context.Background()

	failing := &storetest.FailingStore{
		Storage:   s,
		FailCodes: map[models.BillingCode]bool{models.BillingCodeInsuranceFee: true},
	}
	if _, err := NewRecorder(failing, storetest.Logger()).RecordApproval(ctx, loan.ID, "officer"); err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}

	retried, err := NewRecorder(s, storetest.Logger()).RecordApproval(ctx, loan.ID, "officer")
	if err != nil {
		t.Fatalf("RecordApproval failed: %v", err)
	}
	counts := countCodes(retried)
	if len(retried) != 2 || counts[models.BillingCodeInsuranceFee] != 2 {
		t.Errorf("Expected the retry to post only the 2 insurance entries, got %v", counts)
	}
}

func TestRecordManual(t *testing.T) {
	s := storetest.New(t)
	now := time.Now().UTC()
	loan, members := storetest.SeedLoan(t, s, 1, func(l *models.Loan) {
		l.Status = models.LoanStatusApproved
		l.ScheduleGeneratedAt = &now
	})
	draft, draftMembers := storetest.SeedLoan(t, s, 1)
	r := NewRecorder(s, storetest.Logger())
	ctx := context.Background()

	entry := func(loanID, memberID uuid.UUID, code models.BillingCode) Entry {
		return Entry{
			LoanID:      loanID,
			MemberID:    memberID,
			Amount:      decimal.NewFromInt(50),
			Code:        code,
			Type:        models.EntryTypeCredit,
			Description: "Late fee",
			CreatedBy:   "officer",
		}
	}

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"payment", entry(loan.ID, members[0].MemberID, models.BillingCodePayment), ErrInvalidEntry},
		{"loan amount", entry(loan.ID, members[0].MemberID, models.BillingCodeLoanAmount), ErrInvalidEntry},
		{"unknown code", entry(loan.ID, members[0].MemberID, "BONUS"), ErrInvalidEntry},
		{"draft loan", entry(draft.ID, draftMembers[0].MemberID, models.BillingCodeOtherFee), ErrInvalidEntry},
		{"not a member", entry(loan.ID, uuid.New(), models.BillingCodeOtherFee), store.ErrNotFound},
		{"unknown loan", entry(uuid.New(), members[0].MemberID, models.BillingCodeOtherFee), store.ErrNotFound},
	}
	for _, tt := range tests {
		if _, err := r.RecordManual(ctx, tt.entry); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	bad := entry(loan.ID, members[0].MemberID, models.BillingCodeOtherFee)
	bad.Type = "REFUND"
	if _, err := r.RecordManual(ctx, bad); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Expected ErrInvalidEntry for an unknown type, got %v", err)
	}

	b, err := r.RecordManual(ctx, entry(loan.ID, members[0].MemberID, models.BillingCodeOtherFee))
	if err != nil {
		t.Fatalf("RecordManual failed: %v", err)
	}
	if b.MemberGroupID == nil || *b.MemberGroupID != members[0].MemberGroupID {
		t.Errorf("Expected the entry to carry the member's group")
	}
	stored, _ := r.EntriesForLoan(ctx, loan.ID)
	if len(stored) != 1 {
		t.Errorf("Expected only the accepted entry to be stored, got %d", len(stored))
	}
}
