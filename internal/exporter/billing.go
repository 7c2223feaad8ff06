// Package exporter renders billing data into files an operations team
// can hand to finance: xlsx workbooks and plain CSV ledgers.
package exporter

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"poscore/internal/entitlement"
)

const billingSheet = "Billing Summary"

// WriteBillingWorkbook renders a billing summary as an xlsx workbook
// with a header block and one row per license.
func WriteBillingWorkbook(w io.Writer, summary *entitlement.BillingSummary) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	idx, err := f.NewSheet(billingSheet)
	if err != nil {
		return fmt.Errorf("create billing sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1") //nolint:errcheck

	header := [][]any{
		{"Client Instance", summary.ClientInstanceID},
		{"Client Status", string(summary.ClientStatus)},
		{"Generated At", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Total Purchased", summary.TotalPurchased},
		{"Total Consumed", summary.TotalConsumed},
		{"Total Remaining", summary.TotalRemaining},
	}
	for i, row := range header {
		cell := "A" + strconv.Itoa(i+1)
		if err := f.SetSheetRow(billingSheet, cell, &row); err != nil {
			return fmt.Errorf("write header row %d: %w", i+1, err)
		}
	}

	columns := []any{"License ID", "License Key", "Status", "Max Credits", "Current Credits", "Expires At"}
	if err := f.SetSheetRow(billingSheet, "A8", &columns); err != nil {
		return fmt.Errorf("write column header: %w", err)
	}
	for i, lic := range summary.Licenses {
		row := []any{
			lic.LicenseID,
			lic.LicenseKey,
			string(lic.Status),
			lic.MaxCredits,
			lic.CurrentCredits,
			lic.ExpiresAt.Format("2006-01-02"),
		}
		cell := "A" + strconv.Itoa(9+i)
		if err := f.SetSheetRow(billingSheet, cell, &row); err != nil {
			return fmt.Errorf("write license row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
