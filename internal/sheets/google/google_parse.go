package google

import (
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
	ports "fintrack/internal/sheets"
)

// parseJournal converts a values matrix (as returned by Sheets API) into
// journal rows. A header row and rows that do not parse are skipped.
func parseJournal(values [][]any) []ports.JournalRow {
	var out []ports.JournalRow
	for _, raw := range values {
		cols := toStrings(raw)
		if len(cols) < 7 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, cols[0])
		if err != nil {
			// header or hand-edited row
			continue
		}
		amount, err := core.ParseMoney(cols[5])
		if err != nil {
			continue
		}
		row := ports.JournalRow{
			Timestamp:     ts,
			Event:         cols[1],
			TransactionID: cols[2],
			Account:       cols[3],
			Type:          core.TransactionType(cols[4]),
			Amount:        amount,
			Payee:         safeGet(cols, 7),
			Category:      safeGet(cols, 8),
		}
		if d, err := core.ParseDate(cols[6]); err == nil {
			row.Date = d
		}
		out = append(out, row)
	}
	return out
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
