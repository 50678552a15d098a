package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/groupLoan/pkg/models"
)

const emiColumns = `id, loan_id, member_id, installment, emi_date, emi_amount, emi_delay, emi_status, label, created_at, created_by, updated_at`

// CreateEmis inserts schedule rows. It does not check for an existing
// schedule; callers that need that guard run it inside InTx.
func (s *SQLStore) CreateEmis(ctx context.Context, emis []*models.Emi) error {
	for _, e := range emis {
		_, err := s.exec(ctx,
			`INSERT INTO loan_member_emis (`+emiColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.LoanID.String(), e.MemberID.String(), e.Installment, utc(e.DueDate), e.Amount, e.Delay,
			string(e.Status), e.Label, utc(e.CreatedAt), e.CreatedBy, utc(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to create emi %d for member %s: %w", e.Installment, e.MemberID, err)
		}
	}
	return nil
}

// GetEmi returns one installment by id.
func (s *SQLStore) GetEmi(ctx context.Context, id uuid.UUID) (*models.Emi, error) {
	row := s.queryRow(ctx, `SELECT `+emiColumns+` FROM loan_member_emis WHERE id = ?`, id.String())
	e, err := scanEmi(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("emi")
		}
		return nil, fmt.Errorf("failed to get emi: %w", err)
	}
	return e, nil
}

// UpdateEmi rewrites the mutable fields of an installment.
func (s *SQLStore) UpdateEmi(ctx context.Context, e *models.Emi) error {
	return s.execOne(ctx, "emi",
		`UPDATE loan_member_emis SET emi_date = ?, emi_amount = ?, emi_delay = ?, emi_status = ?, label = ?, updated_at = ? WHERE id = ?`,
		utc(e.DueDate), e.Amount, e.Delay, string(e.Status), e.Label, utc(e.UpdatedAt), e.ID.String(),
	)
}

// ListEmis returns schedule rows ordered by member, due date and installment.
func (s *SQLStore) ListEmis(ctx context.Context, q EmiQuery) ([]*models.Emi, error) {
	var w where
	whereIn(&w, "loan_id", q.LoanIDs)
	whereIn(&w, "emi_status", q.Statuses)
	if q.MemberID != nil {
		w.add("member_id = ?", q.MemberID.String())
	}
	if q.DueBefore != nil {
		w.add("emi_date < ?", q.DueBefore.UTC())
	}

	rows, err := s.query(ctx, `SELECT `+emiColumns+` FROM loan_member_emis`+w.String()+` ORDER BY loan_id, member_id, emi_date, installment`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emis: %w", err)
	}
	defer rows.Close()

	var emis []*models.Emi
	for rows.Next() {
		e, err := scanEmi(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emi row: %w", err)
		}
		emis = append(emis, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return emis, nil
}

// DeleteEmisForLoan removes a loan's whole schedule and reports how many rows
// went.
func (s *SQLStore) DeleteEmisForLoan(ctx context.Context, loanID uuid.UUID) (int64, error) {
	result, err := s.exec(ctx, `DELETE FROM loan_member_emis WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return 0, fmt.Errorf("failed to delete emis: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

func scanEmi(row scanner) (*models.Emi, error) {
	var e models.Emi
	var status string
	err := row.Scan(&e.ID, &e.LoanID, &e.MemberID, &e.Installment, &e.DueDate, &e.Amount, &e.Delay, &status, &e.Label, &e.CreatedAt, &e.CreatedBy, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = models.EmiStatus(status)
	e.DueDate = utc(e.DueDate)
	e.CreatedAt = utc(e.CreatedAt)
	e.UpdatedAt = utc(e.UpdatedAt)
	return &e, nil
}

const billingColumns = `id, loan_id, member_id, member_group_id, amount, billing_code, type, description, created_at, created_by`

// CreateBilling appends a ledger row. Rows are never updated or deleted.
func (s *SQLStore) CreateBilling(ctx context.Context, b *models.Billing) error {
	_, err := s.exec(ctx,
		`INSERT INTO billing (`+billingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.LoanID.String(), b.MemberID.String(), nullUUID(b.MemberGroupID), b.Amount,
		string(b.Code), string(b.Type), b.Description, utc(b.CreatedAt), b.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create billing entry: %w", err)
	}
	return nil
}

// ListBilling returns ledger rows oldest first.
func (s *SQLStore) ListBilling(ctx context.Context, q BillingQuery) ([]*models.Billing, error) {
	var w where
	whereIn(&w, "loan_id", q.LoanIDs)
	whereIn(&w, "billing_code", q.Codes)
	if q.MemberID != nil {
		w.add("member_id = ?", q.MemberID.String())
	}

	rows, err := s.query(ctx, `SELECT `+billingColumns+` FROM billing`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.Billing
	for rows.Next() {
		var b models.Billing
		var groupID uuid.NullUUID
		var code, typ string
		if err := rows.Scan(&b.ID, &b.LoanID, &b.MemberID, &groupID, &b.Amount, &code, &typ, &b.Description, &b.CreatedAt, &b.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan billing row: %w", err)
		}
		b.MemberGroupID = uuidPtr(groupID)
		b.Code = models.BillingCode(code)
		b.Type = models.EntryType(typ)
		b.CreatedAt = utc(b.CreatedAt)
		entries = append(entries, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}
