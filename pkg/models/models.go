package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusDraft    LoanStatus = "Draft"
	LoanStatusApproved LoanStatus = "Approved"
	LoanStatusRejected LoanStatus = "Rejected"
	LoanStatusClosed   LoanStatus = "Closed"
)

// Frequency is the repayment cadence of a loan. Anything other than week or
// month is scheduled quarterly.
type Frequency string

const (
	FrequencyWeek    Frequency = "week"
	FrequencyMonth   Frequency = "month"
	FrequencyQuarter Frequency = "quarter"
)

type Loan struct {
	ID                    uuid.UUID       `json:"id"`
	Number                string          `json:"loan_id"` // Business loan number shown to staff
	MemberGroupID         *uuid.UUID      `json:"member_group_id,omitempty"`
	ApplicationDate       *time.Time      `json:"application_date,omitempty"`
	Principal             decimal.Decimal `json:"loan_amount"` // Per-member principal
	LoanType              string          `json:"loan_type"`
	InterestRate          decimal.Decimal `json:"interest_rate"`   // Informational only
	InterestAmount        decimal.Decimal `json:"interest_amount"` // Flat interest added to the principal
	Tenure                int             `json:"loan_tenure"`     // Installment count
	MonthlyEmi            decimal.Decimal `json:"monthly_emi"`
	EmiDay                string          `json:"emi_day"` // Weekday name for weekly loans, free label otherwise
	StartDate             *time.Time      `json:"loan_start_date,omitempty"`
	RepaymentFrequency    Frequency       `json:"repayment_frequency"`
	ProcessingFees        decimal.Decimal `json:"processing_fees"`
	InsuranceFees         decimal.Decimal `json:"insurance_fees"`
	OtherFees             decimal.Decimal `json:"other_fees"`
	FieldOfficerID        string          `json:"field_officer_id"`
	CreditOfficerComments string          `json:"credit_officer_comments"`
	VerificationStatus    string          `json:"verification_status"`
	Status                LoanStatus      `json:"loan_status"`
	AssignTo              string          `json:"assign_to"` // Staff id of the collecting officer
	Active                bool            `json:"active"`
	Deleted               bool            `json:"deleted"`
	ScheduleGeneratedAt   *time.Time      `json:"schedule_generated_at,omitempty"` // Set once the EMI schedule exists
	CreatedAt             time.Time       `json:"created_at"`
	CreatedBy             string          `json:"created_by"`
	UpdatedAt             time.Time       `json:"updated_at"`
	UpdatedBy             string          `json:"updated_by"`
}

// LoanMember is one member's share of a loan. Collected and Pending are a
// cache of the member's PAYMENT ledger entries and are only rewritten by the
// payment processor.
type LoanMember struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	MemberGroupID uuid.UUID       `json:"member_group_id"`
	MemberID      uuid.UUID       `json:"member_id"`
	Name          string          `json:"name"`
	Place         string          `json:"place"`
	Phone         string          `json:"phone"`
	Amount        decimal.Decimal `json:"amount"`
	Collected     decimal.Decimal `json:"collected"`
	Pending       decimal.Decimal `json:"pending"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
}

type EmiStatus string

const (
	EmiStatusPending EmiStatus = "PENDING"
	EmiStatusPaid    EmiStatus = "PAID"
	EmiStatusOverdue EmiStatus = "OVERDUE"
)

const (
	EmiLabelUpcoming = "UPCOMING"
	EmiLabelPaid     = "PAID"
	EmiLabelOverdue  = "OVERDUE"
)

// Emi is a single scheduled installment for one member of a loan.
type Emi struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"loan_id"`
	MemberID    uuid.UUID       `json:"member_id"`
	Installment int             `json:"installment"`
	DueDate     time.Time       `json:"emi_date"`
	Amount      decimal.Decimal `json:"emi_amount"`
	Delay       int             `json:"emi_delay"` // Days late, set by the overdue sweep
	Status      EmiStatus       `json:"emi_status"`
	Label       string          `json:"label"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type BillingCode string

const (
	BillingCodeLoanAmount    BillingCode = "LOAN_AMOUNT"
	BillingCodeProcessingFee BillingCode = "PROCESSING_FEE"
	BillingCodeInsuranceFee  BillingCode = "INSURANCE_FEE"
	BillingCodeOtherFee      BillingCode = "OTHER_FEE"
	BillingCodeInterest      BillingCode = "INTEREST"
	BillingCodePayment       BillingCode = "PAYMENT"
)

// IsFee reports whether the code counts towards fee and interest totals.
func (c BillingCode) IsFee() bool {
	switch c {
	case BillingCodeProcessingFee, BillingCodeInsuranceFee, BillingCodeOtherFee, BillingCodeInterest:
		return true
	}
	return false
}

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// Billing is an append-only ledger row. It is never updated or deleted.
type Billing struct {
	ID            uuid.UUID       `json:"id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	MemberID      uuid.UUID       `json:"member_id"`
	MemberGroupID *uuid.UUID      `json:"member_group_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Code          BillingCode     `json:"billing_code"`
	Type          EntryType       `json:"type"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
}
