package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names in the exported workbook, in order.
const (
	SheetMetrics     = "Metrics"
	SheetLoans       = "Loans"
	SheetMembers     = "Members"
	SheetEmis        = "EMIs"
	SheetCollections = "Collections"
)

type sheet struct {
	name   string
	header []interface{}
	rows   [][]interface{}
}

// WriteWorkbook renders d as an xlsx workbook with one sheet per section.
func WriteWorkbook(w io.Writer, d *Data) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, sh := range sheets(d) {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return fmt.Errorf("failed to rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", sh.name, err)
		}

		if err := f.SetSheetRow(sh.name, "A1", &sh.header); err != nil {
			return fmt.Errorf("failed to write %s header: %w", sh.name, err)
		}
		last, _ := excelize.CoordinatesToCellName(len(sh.header), 1)
		if err := f.SetCellStyle(sh.name, "A1", last, bold); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sh.name, err)
		}
		for r, row := range sh.rows {
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", sh.name, r+1, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Amounts are written as fixed two-place strings so the sheet shows exactly
// what the API returns.
func sheets(d *Data) []sheet {
	m := d.Metrics
	metrics := sheet{
		name:   SheetMetrics,
		header: []interface{}{"Metric", "Value"},
		rows: [][]interface{}{
			{"Total Loan Amount", m.TotalLoanAmount.StringFixed(2)},
			{"Total Collected", m.TotalCollected.StringFixed(2)},
			{"Total Pending", m.TotalPending.StringFixed(2)},
			{"Total Interest & Fees", m.TotalInterestFees.StringFixed(2)},
			{"Total Loans", m.TotalLoans},
			{"Total Member Groups", m.TotalMemberGroups},
			{"Total Members", m.TotalMembers},
		},
	}

	loans := sheet{
		name:   SheetLoans,
		header: []interface{}{"#", "Loan ID", "Group", "Members", "Loan Amount", "Interest", "Collected", "Pending", "Overdue", "EMI Day", "Status"},
	}
	for _, s := range d.Summary {
		loans.rows = append(loans.rows, []interface{}{
			s.ID, s.LoanNumber, s.GroupName, s.Members, s.LoanAmount,
			s.InterestAmount.StringFixed(2), s.CollectedAmount.StringFixed(2),
			s.PendingAmount.StringFixed(2), s.OverdueAmount.StringFixed(2),
			s.EmiDay, s.Status,
		})
	}

	members := sheet{
		name:   SheetMembers,
		header: []interface{}{"#", "Member", "Loan ID", "Group", "Total EMI", "Paid", "Pending"},
	}
	for _, u := range d.Users {
		members.rows = append(members.rows, []interface{}{
			u.ID, u.UserName, u.LoanNumber, u.GroupName,
			u.TotalEmi.StringFixed(2), u.PaidEmi.StringFixed(2), u.PendingEmi.StringFixed(2),
		})
	}

	emis := sheet{
		name:   SheetEmis,
		header: []interface{}{"Loan ID", "Member", "Due Date", "Amount", "Status"},
	}
	for _, e := range d.Emis {
		for _, det := range e.EmiDetails {
			emis.rows = append(emis.rows, []interface{}{
				e.LoanNumber, e.UserName, det.EmiDate, det.EmiAmount.StringFixed(2), string(det.EmiStatus),
			})
		}
	}

	collections := sheet{
		name:   SheetCollections,
		header: []interface{}{"#", "Loan ID", "Group", "Loan Amount", "Collected", "Pending", "Next EMI Date", "Next EMI Amount"},
	}
	for _, c := range d.Collections {
		collections.rows = append(collections.rows, []interface{}{
			c.ID, c.LoanNumber, c.GroupName, c.LoanAmount.StringFixed(2),
			c.CollectedAmount.StringFixed(2), c.PendingAmount.StringFixed(2),
			c.NextEmiDate, c.NextEmiAmount.StringFixed(2),
		})
	}

	return []sheet{metrics, loans, members, emis, collections}
}
