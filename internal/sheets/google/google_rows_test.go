package google

import (
	"testing"
	"time"

	"fundledger/internal/core"
	ports "fundledger/internal/sheets"
)

func sampleReport() ports.Report {
	at := time.Date(2025, 7, 3, 10, 0, 0, 0, time.UTC)
	return ports.Report{
		GeneratedAt: at,
		Totals:      core.Totals{Collection: core.Money{Cents: 125050}, Expense: core.Money{Cents: 30000}},
		Drift:       core.Totals{Collection: core.Money{Cents: -20}},
		Transactions: []core.Transaction{
			{ID: "t2", UserID: "u1", Amount: core.Money{Cents: 25050}, Method: "bank", FundType: "zakat",
				ExternalRef: "REF-9", Date: core.NewDate(2025, 7, 2), Status: core.TxApproved, Timestamp: at.Add(-time.Hour)},
			{ID: "t1", UserID: "u2", Amount: core.Money{Cents: 100000}, Date: core.NewDate(2025, 7, 1),
				Status: core.TxApproved, Timestamp: at.Add(-2 * time.Hour)},
		},
		Expenses: []core.Expense{
			{ID: "e1", Amount: core.Money{Cents: 30000}, Reason: "rent", Date: core.NewDate(2025, 7, 1), Timestamp: at},
		},
	}
}

func TestReportRows(t *testing.T) {
	rows := reportRows(sampleReport())

	wantSummary := [][]any{
		{labelGenerated, "2025-07-03T10:00:00Z"},
		{labelCollection, "1250.50"},
		{labelExpense, "300.00"},
		{labelNet, "950.50"},
		{labelDriftCollection, "-0.20"},
		{labelDriftExpense, "0.00"},
	}
	for i, want := range wantSummary {
		if len(rows[i]) != 2 || rows[i][0] != want[0] || rows[i][1] != want[1] {
			t.Errorf("row %d = %v, want %v", i, rows[i], want)
		}
	}

	// summary, blank, title, header, 2 tx, blank, title, header, 1 expense
	if len(rows) != summaryLen+3+2+3+1 {
		t.Fatalf("len(rows) = %d", len(rows))
	}
	first := rows[summaryLen+3]
	if first[2] != "t2" || first[4] != "250.50" || first[7] != "REF-9" || first[0] != "2025-07-02" {
		t.Errorf("first transaction row = %v", first)
	}
	last := rows[len(rows)-1]
	if last[2] != "e1" || last[3] != "300.00" || last[4] != "rent" {
		t.Errorf("expense row = %v", last)
	}
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name    string
		values  [][]any
		want    core.Totals
		wantErr bool
	}{
		{
			name:   "round trip of written rows",
			values: reportRows(sampleReport())[:summaryLen],
			want:   core.Totals{Collection: core.Money{Cents: 125050}, Expense: core.Money{Cents: 30000}},
		},
		{
			name: "unformatted numbers and comma decimals",
			values: [][]any{
				{"collection", 1250.5},
				{"EXPENSE", "300,00"},
			},
			want: core.Totals{Collection: core.Money{Cents: 125050}, Expense: core.Money{Cents: 30000}},
		},
		{
			name:    "missing expense",
			values:  [][]any{{labelCollection, "1.00"}},
			wantErr: true,
		},
		{
			name:    "garbage amount",
			values:  [][]any{{labelCollection, "n/a"}, {labelExpense, "0"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSummary(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSummary() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseSummary() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Ledger", "2025 Ledger"},
		{" Ledger ", "2025 Ledger"},
		{"2024 Ledger", "2024 Ledger"},
		{"", ""},
		{"12345", "2025 12345"},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2025); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
