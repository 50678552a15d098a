package collection

import (
	"context"
	"errors"
	"fmt"
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
	ErrAlreadyPaid   = errors.New("emi already paid")
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// Payment is a single EMI collection. Advance and CreditOfficer are recorded
// in the log only.
type Payment struct {
	EmiID         uuid.UUID       `json:"emi_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidBy        string          `json:"paid_by"`
	Advance       decimal.Decimal `json:"advance"`
	CreditOfficer string          `json:"credit_officer"`
}

// Receipt is the outcome of a processed payment.
type Receipt struct {
	EmiID           uuid.UUID        `json:"id"`
	EmiStatus       models.EmiStatus `json:"emi_status"`
	Label           string           `json:"label"`
	MemberCollected decimal.Decimal  `json:"member_collected"`
	MemberPending   decimal.Decimal  `json:"member_pending"`
	BillingID       uuid.UUID        `json:"billing_id"`
}

// Processor applies payments to EMIs and keeps the member share balances in
// step with the ledger.
type Processor struct {
	storage store.Storage
	ledger  *ledger.Recorder
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewProcessor creates a Processor posting payments through l.
func NewProcessor(s store.Storage, l *ledger.Recorder, log logrus.FieldLogger) *Processor {
	return &Processor{
		storage: s,
		ledger:  l,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Pay marks the EMI paid, appends the PAYMENT entry and recomputes the member
// share from the member's PAYMENT entries, all in one transaction. Collected
// is never set directly; pending is the share amount less collected, floored
// at zero. Amounts different from the EMI amount are accepted.
func (p *Processor) Pay(ctx context.Context, pay Payment) (*Receipt, error) {
	if !pay.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var receipt *Receipt
	err := p.storage.InTx(ctx, func(tx store.Storage) error {
		emi, err := tx.GetEmi(ctx, pay.EmiID)
		if err != nil {
			return err
		}
		if emi.Status == models.EmiStatusPaid {
			return fmt.Errorf("emi %s: %w", emi.ID, ErrAlreadyPaid)
		}

		now := p.now()
		emi.Status = models.EmiStatusPaid
		emi.Label = models.EmiLabelPaid
		emi.UpdatedAt = now
		if err := tx.UpdateEmi(ctx, emi); err != nil {
			return err
		}

		lm, err := tx.GetLoanMemberByMember(ctx, emi.LoanID, emi.MemberID)
		if err != nil {
			return err
		}
		entry, err := p.ledger.RecordPayment(ctx, tx, lm, pay.Amount, pay.PaidBy)
		if err != nil {
			return err
		}

		collected, err := ledger.Collected(ctx, tx, lm.LoanID, lm.MemberID)
		if err != nil {
			return err
		}
		lm.Collected = collected
		lm.Pending = Pending(lm.Amount, collected)
		if err := tx.UpdateLoanMember(ctx, lm); err != nil {
			return err
		}

		receipt = &Receipt{
			EmiID:           emi.ID,
			EmiStatus:       emi.Status,
			Label:           emi.Label,
			MemberCollected: lm.Collected,
			MemberPending:   lm.Pending,
			BillingID:       entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"emi_id":         pay.EmiID,
		"amount":         pay.Amount.StringFixed(2),
		"paid_by":        pay.PaidBy,
		"advance":        pay.Advance.StringFixed(2),
		"credit_officer": pay.CreditOfficer,
		"pending":        receipt.MemberPending.StringFixed(2),
	}).Info("EMI payment processed")
	return receipt, nil
}

// Pending is what remains of a share after collections, never below zero.
func Pending(amount, collected decimal.Decimal) decimal.Decimal {
	pending := amount.Sub(collected)
	if pending.IsNegative() {
		return decimal.Zero
	}
	return pending
}

// MarkOverdue flags every unpaid EMI of an approved, non-deleted loan due
// before asOf's date as OVERDUE and records how many whole days late it is. It returns the number of EMIs
// changed.
func (p *Processor) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	today := schedule.DateOf(asOf)
	changed := 0
	err := p.storage.InTx(ctx, func(tx store.Storage) error {
		loans, err := tx.ListLoans(ctx, store.LoanQuery{Status: models.LoanStatusApproved})
		if err != nil {
			return err
		}
		if len(loans) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(loans))
		for _, l := range loans {
			ids = append(ids, l.ID)
		}
		emis, err := tx.ListEmis(ctx, store.EmiQuery{
			LoanIDs:   ids,
			Statuses:  []models.EmiStatus{models.EmiStatusPending, models.EmiStatusOverdue},
			DueBefore: &today,
		})
		if err != nil {
			return err
		}
		now := p.now()
		for _, e := range emis {
			delay := int(today.Sub(schedule.DateOf(e.DueDate)).Hours() / 24)
			if e.Status == models.EmiStatusOverdue && e.Label == models.EmiLabelOverdue && e.Delay == delay {
				continue
			}
			e.Status = models.EmiStatusOverdue
			e.Label = models.EmiLabelOverdue
			e.Delay = delay
			e.UpdatedAt = now
			if err := tx.UpdateEmi(ctx, e); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("overdue sweep failed: %w", err)
	}
	p.log.WithFields(logrus.Fields{"as_of": today.Format("2006-01-02"), "changed": changed}).Info("Overdue sweep finished")
	return changed, nil
}

