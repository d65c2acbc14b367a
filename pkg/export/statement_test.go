package export

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tarang-school/pay-api/internal/models"
)

func sampleStatement() Statement {
	return Statement{
		StudentName: "Maja Larsson",
		SSN:         "800101-1231",
		Month:       "2025-08",
		Price:       decimal.NewFromInt(1500),
		Paid:        decimal.NewFromInt(500),
		Outstanding: decimal.NewFromInt(1000),
		DueDate:     "2025-08-01",
		Lines: []models.StatementLine{
			{Date: "2025-08-03", ID: "swish-1", Status: "PAID", Amount: decimal.NewFromInt(500)},
		},
	}
}

func TestRenderPDF(t *testing.T) {
	renderer := NewStatementRenderer()
	data, err := renderer.RenderPDF(sampleStatement())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data[:5]), "%PDF-"))
}

func TestRenderPDFNoLines(t *testing.T) {
	renderer := NewStatementRenderer()
	st := sampleStatement()
	st.Lines = nil
	data, err := renderer.RenderPDF(st)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

func TestRenderCSV(t *testing.T) {
	renderer := NewStatementRenderer()
	data, err := renderer.RenderCSV(sampleStatement())
	require.NoError(t, err)

	out := string(data)
	require.Contains(t, out, "date,transaction_id,status,amount")
	require.Contains(t, out, "2025-08-03,swish-1,PAID,500.00")
	require.Contains(t, out, "outstanding,1000.00")
}
