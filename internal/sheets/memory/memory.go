// Package memory is an in-process ReportSink that keeps the latest reports.
package memory

import (
	"context"
	"sync"

	"fundledger/internal/sheets"
)

const keep = 16

type Sink struct {
	mu      sync.Mutex
	reports []sheets.Report
}

var _ sheets.ReportSink = (*Sink)(nil)

func New() *Sink {
	return &Sink{}
}

// Export stores r, dropping the oldest report beyond the retention window.
func (s *Sink) Export(_ context.Context, r sheets.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	if len(s.reports) > keep {
		s.reports = s.reports[len(s.reports)-keep:]
	}
	return nil
}

// Latest returns the most recent report, if any.
func (s *Sink) Latest() (sheets.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) == 0 {
		return sheets.Report{}, false
	}
	return s.reports[len(s.reports)-1], true
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
