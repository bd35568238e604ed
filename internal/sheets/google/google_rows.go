package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundledger/internal/core"
	ports "fundledger/internal/sheets"

	"github.com/shopspring/decimal"
)

// Summary block labels, in sheet order.
const (
	labelGenerated       = "Generated"
	labelCollection      = "Collection"
	labelExpense         = "Expense"
	labelNet             = "Net balance"
	labelDriftCollection = "Drift collection"
	labelDriftExpense    = "Drift expense"

	summaryLen = 6
)

var (
	transactionHeader = []any{"Date", "Submitted", "Transaction", "User", "Amount", "Method", "Fund", "Reference"}
	expenseHeader     = []any{"Date", "Recorded", "Expense", "Amount", "Reason", "Proof"}
)

// reportRows lays out the summary block, then approved transactions, then
// expenses, each section separated by a blank row.
func reportRows(r ports.Report) [][]any {
	rows := make([][]any, 0, summaryLen+len(r.Transactions)+len(r.Expenses)+6)
	rows = append(rows,
		[]any{labelGenerated, r.GeneratedAt.UTC().Format(time.RFC3339)},
		[]any{labelCollection, r.Totals.Collection.String()},
		[]any{labelExpense, r.Totals.Expense.String()},
		[]any{labelNet, r.Totals.NetBalance().String()},
		[]any{labelDriftCollection, r.Drift.Collection.String()},
		[]any{labelDriftExpense, r.Drift.Expense.String()},
		[]any{},
		[]any{"Approved transactions"},
		transactionHeader,
	)
	for _, t := range r.Transactions {
		rows = append(rows, []any{
			t.Date.String(),
			t.Timestamp.UTC().Format(time.RFC3339),
			t.ID,
			t.UserID,
			t.Amount.String(),
			t.Method,
			t.FundType,
			t.ExternalRef,
		})
	}
	rows = append(rows, []any{}, []any{"Expenses"}, expenseHeader)
	for _, e := range r.Expenses {
		rows = append(rows, []any{
			e.Date.String(),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.ID,
			e.Amount.String(),
			e.Reason,
			e.ProofRef,
		})
	}
	return rows
}

// parseSummary reads the collection and expense rows of the summary block.
// Labels are matched case-insensitively so hand edits to the sheet survive.
func parseSummary(values [][]any) (core.Totals, error) {
	var t core.Totals
	var seenCollection, seenExpense bool
	for _, row := range values {
		cols := toStrings(row)
		if len(cols) < 2 {
			continue
		}
		switch {
		case strings.EqualFold(cols[0], labelCollection):
			cents, ok := parseCents(cols[1])
			if !ok {
				return core.Totals{}, fmt.Errorf("unparseable collection %q", cols[1])
			}
			t.Collection, seenCollection = core.Money{Cents: cents}, true
		case strings.EqualFold(cols[0], labelExpense):
			cents, ok := parseCents(cols[1])
			if !ok {
				return core.Totals{}, fmt.Errorf("unparseable expense %q", cols[1])
			}
			t.Expense, seenExpense = core.Money{Cents: cents}, true
		}
	}
	if !seenCollection || !seenExpense {
		return core.Totals{}, fmt.Errorf("summary block incomplete: collection=%v expense=%v", seenCollection, seenExpense)
	}
	return t, nil
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// parseCents accepts signed decimal text with a dot or comma separator.
func parseCents(s string) (int64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), true
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
