package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
)

const loanColumns = `id, loan_number, member_group_id, application_date, principal, loan_type, interest_rate, interest_amount, tenure, monthly_emi, emi_day, start_date, repayment_frequency, processing_fees, insurance_fees, other_fees, field_officer_id, credit_officer_comments, verification_status, loan_status, assign_to, active, deleted, schedule_generated_at, created_at, created_by, updated_at, updated_by`

// CreateLoan inserts a new loan into the database.
func (s *SQLStore) CreateLoan(ctx context.Context, l *models.Loan) error {
	_, err := s.exec(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.Number, nullUUID(l.MemberGroupID), nullTime(l.ApplicationDate), l.Principal, l.LoanType, l.InterestRate, l.InterestAmount,
		l.Tenure, l.MonthlyEmi, l.EmiDay, nullTime(l.StartDate), string(l.RepaymentFrequency), l.ProcessingFees, l.InsuranceFees, l.OtherFees,
		l.FieldOfficerID, l.CreditOfficerComments, l.VerificationStatus, string(l.Status), l.AssignTo, l.Active, l.Deleted,
		nullTime(l.ScheduleGeneratedAt), utc(l.CreatedAt), l.CreatedBy, utc(l.UpdatedAt), l.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID, deleted or not.
func (s *SQLStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.queryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	l, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("loan")
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

// UpdateLoan rewrites every mutable column of an existing loan.
func (s *SQLStore) UpdateLoan(ctx context.Context, l *models.Loan) error {
	return s.execOne(ctx, "loan",
		`UPDATE loans SET loan_number = ?, member_group_id = ?, application_date = ?, principal = ?, loan_type = ?, interest_rate = ?, interest_amount = ?,
		tenure = ?, monthly_emi = ?, emi_day = ?, start_date = ?, repayment_frequency = ?, processing_fees = ?, insurance_fees = ?, other_fees = ?,
		field_officer_id = ?, credit_officer_comments = ?, verification_status = ?, loan_status = ?, assign_to = ?, active = ?, deleted = ?,
		schedule_generated_at = ?, updated_at = ?, updated_by = ? WHERE id = ?`,
		l.Number, nullUUID(l.MemberGroupID), nullTime(l.ApplicationDate), l.Principal, l.LoanType, l.InterestRate, l.InterestAmount,
		l.Tenure, l.MonthlyEmi, l.EmiDay, nullTime(l.StartDate), string(l.RepaymentFrequency), l.ProcessingFees, l.InsuranceFees, l.OtherFees,
		l.FieldOfficerID, l.CreditOfficerComments, l.VerificationStatus, string(l.Status), l.AssignTo, l.Active, l.Deleted,
		nullTime(l.ScheduleGeneratedAt), utc(l.UpdatedAt), l.UpdatedBy, l.ID.String(),
	)
}

// ListLoans returns loans newest first.
func (s *SQLStore) ListLoans(ctx context.Context, q LoanQuery) ([]*models.Loan, error) {
	var w where
	whereIn(&w, "id", q.IDs)
	whereIn(&w, "emi_day", q.EmiDays)
	whereIn(&w, "assign_to", q.AssignTo)
	if q.GroupID != nil {
		w.add("member_group_id = ?", q.GroupID.String())
	}
	if q.Status != "" {
		w.add("loan_status = ?", string(q.Status))
	}
	if q.NumberContains != "" {
		w.add("LOWER(loan_number) LIKE ?", "%"+strings.ToLower(q.NumberContains)+"%")
	}
	if q.CreatedFrom != nil {
		w.add("created_at >= ?", q.CreatedFrom.UTC())
	}
	if q.CreatedTo != nil {
		w.add("created_at < ?", q.CreatedTo.UTC())
	}
	if !q.IncludeDeleted {
		w.add("deleted = ?", false)
	}
	query, args := page(`SELECT `+loanColumns+` FROM loans`+w.String()+` ORDER BY created_at DESC, id`, w.args, q.Offset, q.Limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var l models.Loan
	var groupID uuid.NullUUID
	var applied, start, generated sql.NullTime
	var frequency, status string
	err := row.Scan(&l.ID, &l.Number, &groupID, &applied, &l.Principal, &l.LoanType, &l.InterestRate, &l.InterestAmount,
		&l.Tenure, &l.MonthlyEmi, &l.EmiDay, &start, &frequency, &l.ProcessingFees, &l.InsuranceFees, &l.OtherFees,
		&l.FieldOfficerID, &l.CreditOfficerComments, &l.VerificationStatus, &status, &l.AssignTo, &l.Active, &l.Deleted,
		&generated, &l.CreatedAt, &l.CreatedBy, &l.UpdatedAt, &l.UpdatedBy)
	if err != nil {
		return nil, err
	}
	l.MemberGroupID = uuidPtr(groupID)
	l.ApplicationDate = timePtr(applied)
	l.StartDate = timePtr(start)
	l.ScheduleGeneratedAt = timePtr(generated)
	l.RepaymentFrequency = models.Frequency(frequency)
	l.Status = models.LoanStatus(status)
	l.CreatedAt = utc(l.CreatedAt)
	l.UpdatedAt = utc(l.UpdatedAt)
	return &l, nil
}

const loanMemberColumns = `id, loan_id, member_group_id, member_id, name, place, phone, amount, collected, pending, version, created_at, created_by`

// CreateLoanMembers inserts the member shares of a loan.
func (s *SQLStore) CreateLoanMembers(ctx context.Context, members []*models.LoanMember) error {
	for _, m := range members {
		_, err := s.exec(ctx,
			`INSERT INTO loan_members (`+loanMemberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID.String(), m.LoanID.String(), m.MemberGroupID.String(), m.MemberID.String(), m.Name, m.Place, m.Phone,
			m.Amount, m.Collected, m.Pending, m.Version, utc(m.CreatedAt), m.CreatedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to create loan member %s: %w", m.MemberID, err)
		}
	}
	return nil
}

// ListLoanMembers returns the shares of the given loans in insertion order.
func (s *SQLStore) ListLoanMembers(ctx context.Context, loanIDs ...uuid.UUID) ([]*models.LoanMember, error) {
	if len(loanIDs) == 0 {
		return nil, nil
	}
	var w where
	whereIn(&w, "loan_id", loanIDs)
	rows, err := s.query(ctx, `SELECT `+loanMemberColumns+` FROM loan_members`+w.String()+` ORDER BY loan_id, created_at, name, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan members: %w", err)
	}
	defer rows.Close()

	var members []*models.LoanMember
	for rows.Next() {
		m, err := scanLoanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return members, nil
}

// GetLoanMemberByMember returns the share a member holds in a loan.
func (s *SQLStore) GetLoanMemberByMember(ctx context.Context, loanID, memberID uuid.UUID) (*models.LoanMember, error) {
	row := s.queryRow(ctx, `SELECT `+loanMemberColumns+` FROM loan_members WHERE loan_id = ? AND member_id = ?`, loanID.String(), memberID.String())
	m, err := scanLoanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("loan member")
		}
		return nil, fmt.Errorf("failed to get loan member: %w", err)
	}
	return m, nil
}

// UpdateLoanMember is an optimistic write: it only succeeds when the stored
// version equals member.Version, and bumps it on success.
func (s *SQLStore) UpdateLoanMember(ctx context.Context, m *models.LoanMember) error {
	result, err := s.exec(ctx,
		`UPDATE loan_members SET name = ?, place = ?, phone = ?, amount = ?, collected = ?, pending = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		m.Name, m.Place, m.Phone, m.Amount, m.Collected, m.Pending, m.ID.String(), m.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists int
		err := s.queryRow(ctx, `SELECT COUNT(*) FROM loan_members WHERE id = ?`, m.ID.String()).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check loan member: %w", err)
		}
		if exists == 0 {
			return notFound("loan member")
		}
		return fmt.Errorf("loan member %s: %w", m.ID, ErrStaleVersion)
	}
	m.Version++
	return nil
}

func scanLoanMember(row scanner) (*models.LoanMember, error) {
	var m models.LoanMember
	err := row.Scan(&m.ID, &m.LoanID, &m.MemberGroupID, &m.MemberID, &m.Name, &m.Place, &m.Phone,
		&m.Amount, &m.Collected, &m.Pending, &m.Version, &m.CreatedAt, &m.CreatedBy)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = utc(m.CreatedAt)
	return &m, nil
}
