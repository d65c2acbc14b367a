// Package export renders monthly ledger statements.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/tarang-school/pay-api/internal/models"
)

// Statement is the rendered view of one student's billing month.
type Statement struct {
	StudentName string
	SSN         string
	Month       string // YYYY-MM
	Price       decimal.Decimal
	Paid        decimal.Decimal
	Outstanding decimal.Decimal
	DueDate     string
	Lines       []models.StatementLine
}

// StatementRenderer produces PDF and CSV statement documents.
type StatementRenderer struct{}

// NewStatementRenderer constructs a StatementRenderer.
func NewStatementRenderer() *StatementRenderer {
	return &StatementRenderer{}
}

// RenderPDF lays out the statement as a single-page A4 document with a
// summary block followed by the transaction table.
func (r *StatementRenderer) RenderPDF(st Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, fmt.Sprintf("PAYMENT STATEMENT %s", st.Month), "", 1, "C", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Arial", "", 10)
	summary := [][2]string{
		{"Student", st.StudentName},
		{"Identity number", st.SSN},
		{"Monthly fee", st.Price.StringFixed(2)},
		{"Paid this month", st.Paid.StringFixed(2)},
		{"Outstanding", st.Outstanding.StringFixed(2)},
		{"Due date", st.DueDate},
	}
	for _, row := range summary {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 7, row[0], "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, row[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(5)

	headers := []string{"Date", "Transaction", "Status", "Amount"}
	widths := []float64{40, 80, 30, 40}
	pdf.SetFont("Arial", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	if len(st.Lines) == 0 {
		pdf.CellFormat(190, 7, "No payments recorded this month", "1", 1, "C", false, 0, "")
	}
	for _, line := range st.Lines {
		pdf.CellFormat(widths[0], 7, line.Date, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 7, line.ID, "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[2], 7, line.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 7, line.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render statement pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderCSV emits the transaction table with a trailing summary row.
func (r *StatementRenderer) RenderCSV(st Statement) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	if err := w.Write([]string{"date", "transaction_id", "status", "amount"}); err != nil {
		return nil, fmt.Errorf("write statement csv header: %w", err)
	}
	for _, line := range st.Lines {
		if err := w.Write([]string{line.Date, line.ID, line.Status, line.Amount.StringFixed(2)}); err != nil {
			return nil, fmt.Errorf("write statement csv row: %w", err)
		}
	}
	if err := w.Write([]string{"", "", "outstanding", st.Outstanding.StringFixed(2)}); err != nil {
		return nil, fmt.Errorf("write statement csv summary: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush statement csv: %w", err)
	}
	return buf.Bytes(), nil
}
