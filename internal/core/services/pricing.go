package services

import (
	"fmt"
	"strings"

	"github.com/manthysbr/tracegraph/internal/core/domain"
)

// Default fallback pricing for response models no table entry matches,
// USD per million tokens.
const (
	defaultInputPerMTok  = 0.50
	defaultOutputPerMTok = 1.50
)

// DefaultPricingTable returns the built-in model pricing table. New
// model families are added here (or via config), never as branching
// logic elsewhere.
func DefaultPricingTable() []domain.ModelPricing {
	return []domain.ModelPricing{
		{Match: "flash", InputPerMTok: 0.15, OutputPerMTok: 0.60},
		{Match: "2.5-pro", InputPerMTok: 1.25, OutputPerMTok: 10.00},
		{Match: "1.5-pro", InputPerMTok: 1.25, OutputPerMTok: 5.00},
	}
}

// CostModel maps token counts and a response model identifier to an
// estimated USD cost. It is deterministic and side-effect-free.
type CostModel struct {
	table    []domain.ModelPricing
	fallback domain.ModelPricing
}

// NewCostModel builds a cost model from the given pricing table. An
// empty table falls back to the built-in one.
func NewCostModel(table []domain.ModelPricing) *CostModel {
	if len(table) == 0 {
		table = DefaultPricingTable()
	}
	return &CostModel{
		table:    table,
		fallback: domain.ModelPricing{InputPerMTok: defaultInputPerMTok, OutputPerMTok: defaultOutputPerMTok},
	}
}

// Estimate returns input_tokens * input_price + output_tokens * output_price
// for the first table entry whose Match substring occurs in responseModel,
// or the default fallback pair when none matches.
func (m *CostModel) Estimate(inputTokens, outputTokens int64, responseModel string) float64 {
	p := m.lookup(responseModel)
	return float64(inputTokens)*p.InputPerMTok/1e6 + float64(outputTokens)*p.OutputPerMTok/1e6
}

func (m *CostModel) lookup(responseModel string) domain.ModelPricing {
	lower := strings.ToLower(responseModel)
	for _, p := range m.table {
		if strings.Contains(lower, strings.ToLower(p.Match)) {
			return p
		}
	}
	return m.fallback
}

// SQLExpr renders the pricing table as a SQL CASE expression over the
// given token and model columns. The aggregation queries embed this
// expression, so query-side cost estimates come from the exact table
// Estimate uses and the two cannot disagree.
func (m *CostModel) SQLExpr(inputCol, outputCol, modelCol string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, p := range m.table {
		fmt.Fprintf(&b, " WHEN %s ILIKE '%%%s%%' THEN %s * %g + %s * %g",
			modelCol, escapeSQLLiteral(p.Match),
			inputCol, p.InputPerMTok/1e6,
			outputCol, p.OutputPerMTok/1e6)
	}
	fmt.Fprintf(&b, " ELSE %s * %g + %s * %g END",
		inputCol, m.fallback.InputPerMTok/1e6,
		outputCol, m.fallback.OutputPerMTok/1e6)
	return b.String()
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
