package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"poscore/internal/entitlement"
)

var ledgerHeader = []string{
	"id", "entry_type", "action", "amount",
	"balance_before", "balance_after",
	"reference_id", "idempotency_key", "created_at",
}

// WriteLedgerCSV renders ledger entries as CSV, one row per entry,
// oldest first as they come from storage. A UTF-8 BOM keeps Excel from
// mangling the output.
func WriteLedgerCSV(w io.Writer, entries []*entitlement.LedgerEntry) error {
	if _, err := w.Write([]byte("\xEF\xBB\xBF")); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID,
			string(e.EntryType),
			e.Action,
			strconv.Itoa(e.Amount),
			strconv.Itoa(e.BalanceBefore),
			strconv.Itoa(e.BalanceAfter),
			e.ReferenceID,
			e.IdempotencyKey,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write entry %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
