// Package sheets defines the outbound reporting ports.
package sheets

import (
	"context"
	"time"

	"fundledger/internal/core"
)

// Report is a point-in-time summary produced after reconciliation.
type Report struct {
	GeneratedAt  time.Time
	Totals       core.Totals
	Drift        core.Totals
	Transactions []core.Transaction // approved, newest first
	Expenses     []core.Expense
}

// Ports for outbound adapters.
type (
	// ReportSink receives reconciliation reports.
	ReportSink interface {
		Export(ctx context.Context, r Report) error
	}
)
