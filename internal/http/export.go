package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xuri/excelize/v2"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
)

const (
	exportSheet = "Transactions"
	xlsxType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var exportHeader = []any{"Date", "Account", "Type", "Amount", "Currency", "Category", "Payee", "Notes", "Transfer"}

// handleExport streams the filtered transactions as an XLSX workbook. The
// history window applies exactly as for the list.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := s.listFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	f.Limit, f.Offset = 0, 0
	txs, err := s.engine.ListTransactions(ctx, f)
	if err != nil {
		respondError(w, r, err)
		return
	}

	book, err := buildWorkbook(txs)
	if err != nil {
		respondError(w, r, fmt.Errorf("build workbook: %w", err))
		return
	}
	defer book.Close()

	name := fmt.Sprintf("transactions-%s.xlsx", s.now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	if err := writeWorkbook(book, w); err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Export write failed",
			applog.FieldError, err,
			applog.FieldOperation, applog.OpExport)
		return
	}
	applog.FromContext(ctx).InfoContext(ctx, "Transactions exported",
		applog.FieldCount, len(txs),
		applog.FieldOperation, applog.OpExport)
}

func buildWorkbook(txs []core.TransactionDetail) (*excelize.File, error) {
	book := excelize.NewFile()
	if err := book.SetSheetName("Sheet1", exportSheet); err != nil {
		book.Close()
		return nil, err
	}
	if err := book.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		book.Close()
		return nil, err
	}
	bold, err := book.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = book.SetRowStyle(exportSheet, 1, 1, bold)
	}

	for i, t := range txs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			book.Close()
			return nil, err
		}
		row := exportRow(t)
		if err := book.SetSheetRow(exportSheet, cell, &row); err != nil {
			book.Close()
			return nil, err
		}
	}
	_ = book.SetColWidth(exportSheet, "A", "A", 12)
	_ = book.SetColWidth(exportSheet, "B", "B", 20)
	_ = book.SetColWidth(exportSheet, "G", "H", 30)
	return book, nil
}

func exportRow(t core.TransactionDetail) []any {
	var account, currency, category string
	if t.Account != nil {
		account, currency = t.Account.Name, t.Account.Currency
	}
	if t.Category != nil {
		category = t.Category.Name
	}
	transfer := ""
	if t.IsTransferLeg() {
		transfer = "yes"
	}
	return []any{
		t.Date.String(),
		cellText(account),
		string(t.Type),
		t.Amount.Decimal().InexactFloat64(),
		currency,
		cellText(category),
		cellText(t.Payee),
		cellText(t.Notes),
		transfer,
	}
}

// cellText keeps user text from being read as a spreadsheet formula.
func cellText(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func writeWorkbook(book *excelize.File, w io.Writer) error {
	_, err := book.WriteTo(w)
	return err
}
