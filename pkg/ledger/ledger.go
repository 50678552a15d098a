package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
	"github.com/mcclellann/groupLoan/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrInvalidEntry is returned for manual entries the ledger does not accept.
var ErrInvalidEntry = errors.New("invalid billing entry")

// Entry is the caller-supplied content of a billing row.
type Entry struct {
	LoanID        uuid.UUID
	MemberID      uuid.UUID
	MemberGroupID *uuid.UUID
	Amount        decimal.Decimal
	Code          models.BillingCode
	Type          models.EntryType
	Description   string
	CreatedBy     string
}

// Recorder appends billing entries. It never updates or removes them.
type Recorder struct {
	storage store.Storage
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewRecorder creates a Recorder over the given Storage implementation.
func NewRecorder(s store.Storage, log logrus.FieldLogger) *Recorder {
	return &Recorder{
		storage: s,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts a single entry, committed on its own.
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.Billing, error) {
	return r.insert(ctx, r.storage, e)
}

// RecordManual appends a staff-entered fee row, such as a late fee, for a
// member of an approved loan. Only fee and interest codes are accepted:
// LOAN_AMOUNT belongs to approval and PAYMENT to the payment processor, which
// keeps the member share in step with the ledger.
func (r *Recorder) RecordManual(ctx context.Context, e Entry) (*models.Billing, error) {
	if !e.Code.IsFee() {
		return nil, fmt.Errorf("%w: billing_code %q cannot be posted manually", ErrInvalidEntry, e.Code)
	}
	if e.Type != models.EntryTypeDebit && e.Type != models.EntryTypeCredit {
		return nil, fmt.Errorf("%w: type must be DEBIT or CREDIT", ErrInvalidEntry)
	}
	if !e.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}

	loan, err := r.storage.GetLoan(ctx, e.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Deleted {
		return nil, fmt.Errorf("loan %w", store.ErrNotFound)
	}
	if loan.ScheduleGeneratedAt == nil {
		return nil, fmt.Errorf("%w: loan %s is not approved", ErrInvalidEntry, loan.Number)
	}
	lm, err := r.storage.GetLoanMemberByMember(ctx, e.LoanID, e.MemberID)
	if err != nil {
		return nil, err
	}
	e.MemberGroupID = groupRef(lm.MemberGroupID)
	return r.Record(ctx, e)
}

// RecordPayment appends the PAYMENT/CREDIT row for a collected installment
// using tx, so it commits or rolls back with the rest of the payment.
func (r *Recorder) RecordPayment(ctx context.Context, tx store.Storage, lm *models.LoanMember, amount decimal.Decimal, actor string) (*models.Billing, error) {
	return r.insert(ctx, tx, Entry{
		LoanID:        lm.LoanID,
		MemberID:      lm.MemberID,
		MemberGroupID: groupRef(lm.MemberGroupID),
		Amount:        amount,
		Code:          models.BillingCodePayment,
		Type:          models.EntryTypeCredit,
		Description:   "Payment received",
		CreatedBy:     actor,
	})
}

// RecordApproval posts the approval entries of a loan: the member's share and
// every non-zero fee category, once per member. A member and category that
// already has a row is skipped, so a repeated approval posts nothing new and
// a retry only fills in what an earlier failure left out. Each entry commits
// on its own; a failed insert is logged and the remaining entries are still
// posted. The returned slice holds only the entries that were written.
func (r *Recorder) RecordApproval(ctx context.Context, loanID uuid.UUID, actor string) ([]*models.Billing, error) {
	loan, err := r.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	members, err := r.storage.ListLoanMembers(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan members: %w", err)
	}
	if len(members) == 0 {
		r.log.WithField("loan_id", loanID).Warn("No loan members found for approval postings")
		return nil, nil
	}

	existing, err := r.EntriesForLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing entries: %w", err)
	}
	type posting struct {
		member uuid.UUID
		code   models.BillingCode
	}
	done := make(map[posting]bool, len(existing))
	for _, b := range existing {
		done[posting{b.MemberID, b.Code}] = true
	}

	var posted []*models.Billing
	failed, skipped := 0, 0
	for _, lm := range members {
		for _, e := range approvalEntries(loan, lm, actor) {
			if done[posting{e.MemberID, e.Code}] {
				skipped++
				continue
			}
			b, err := r.Record(ctx, e)
			if err != nil {
				failed++
				r.log.WithFields(logrus.Fields{
					"loan_id":      loanID,
					"member_id":    lm.MemberID,
					"billing_code": e.Code,
				}).WithError(err).Error("Failed to post approval entry")
				continue
			}
			posted = append(posted, b)
		}
	}

	r.log.WithFields(logrus.Fields{
		"loan_id": loanID,
		"posted":  len(posted),
		"failed":  failed,
		"skipped": skipped,
	}).Info("Approval billing entries created")
	return posted, nil
}

func approvalEntries(loan *models.Loan, lm *models.LoanMember, actor string) []Entry {
	entry := func(amount decimal.Decimal, code models.BillingCode, typ models.EntryType, what string) Entry {
		return Entry{
			LoanID:        loan.ID,
			MemberID:      lm.MemberID,
			MemberGroupID: groupRef(lm.MemberGroupID),
			Amount:        amount,
			Code:          code,
			Type:          typ,
			Description:   fmt.Sprintf("%s for member %s", what, lm.Name),
			CreatedBy:     actor,
		}
	}

	entries := []Entry{entry(lm.Amount, models.BillingCodeLoanAmount, models.EntryTypeDebit, "Loan amount")}
	fees := []struct {
		amount decimal.Decimal
		code   models.BillingCode
		typ    models.EntryType
		what   string
	}{
		{loan.ProcessingFees, models.BillingCodeProcessingFee, models.EntryTypeCredit, "Processing fee"},
		{loan.InsuranceFees, models.BillingCodeInsuranceFee, models.EntryTypeDebit, "Insurance fee"},
		{loan.OtherFees, models.BillingCodeOtherFee, models.EntryTypeCredit, "Other fee"},
		{loan.InterestAmount, models.BillingCodeInterest, models.EntryTypeCredit, "Interest"},
	}
	for _, f := range fees {
		if !f.amount.IsPositive() {
			continue
		}
		entries = append(entries, entry(f.amount, f.code, f.typ, f.what))
	}
	return entries
}

// EntriesForLoan returns all billing rows of a loan, oldest first.
func (r *Recorder) EntriesForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Billing, error) {
	return r.storage.ListBilling(ctx, store.BillingQuery{LoanIDs: []uuid.UUID{loanID}})
}

// EntriesForMember returns the billing rows of one member within a loan.
func (r *Recorder) EntriesForMember(ctx context.Context, loanID, memberID uuid.UUID) ([]*models.Billing, error) {
	return r.storage.ListBilling(ctx, store.BillingQuery{LoanIDs: []uuid.UUID{loanID}, MemberID: &memberID})
}

// Collected sums the PAYMENT rows of one member within a loan.
func Collected(ctx context.Context, s store.Storage, loanID, memberID uuid.UUID) (decimal.Decimal, error) {
	rows, err := s.ListBilling(ctx, store.BillingQuery{
		LoanIDs:  []uuid.UUID{loanID},
		MemberID: &memberID,
		Codes:    []models.BillingCode{models.BillingCodePayment},
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	return Sum(rows), nil
}

// Sum adds up the amounts of the given rows.
func Sum(rows []*models.Billing) decimal.Decimal {
	total := decimal.Zero
	for _, b := range rows {
		total = total.Add(b.Amount)
	}
	return total
}

func groupRef(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (r *Recorder) insert(ctx context.Context, s store.Storage, e Entry) (*models.Billing, error) {
	b := &models.Billing{
		ID:            uuid.New(),
		LoanID:        e.LoanID,
		MemberID:      e.MemberID,
		MemberGroupID: e.MemberGroupID,
		Amount:        e.Amount,
		Code:          e.Code,
		Type:          e.Type,
		Description:   e.Description,
		CreatedAt:     r.now(),
		CreatedBy:     e.CreatedBy,
	}
	if err := s.CreateBilling(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to record %s entry: %w", e.Code, err)
	}
	return b, nil
}
