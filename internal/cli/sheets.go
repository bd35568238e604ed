package cli

import (
	"context"
	"fmt"

	"fundledger/internal/config"
	applog "fundledger/internal/log"
	ports "fundledger/internal/sheets"
	gsheet "fundledger/internal/sheets/google"
)

// NewSheetsClient returns nil without error when no spreadsheet is
// configured.
func NewSheetsClient(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*gsheet.Client, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Info("Sheets export disabled")
		return nil, nil
	}
	c, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init sheets client: %w", err)
	}
	logger.Info("Sheets export enabled", "sheet", cfg.GoogleSheetName)
	return c, nil
}

// ReportSink adapts c so a disabled export is a nil interface.
func ReportSink(c *gsheet.Client) ports.ReportSink {
	if c == nil {
		return nil
	}
	return c
}
