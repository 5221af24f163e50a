package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	applog "fintrack/internal/log"
	ports "fintrack/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base sheet name without year (e.g. "Journal"); the row's year is prefixed.
	sheetBase string
	logger    *applog.Logger
}

// Ensure interface conformance
var (
	_ ports.JournalWriter = (*Client)(nil)
	_ ports.JournalReader = (*Client)(nil)
)

// Options configures the journal exporter.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options, logger *applog.Logger) (*Client, error) {
	if logger == nil {
		logger = applog.Discard()
	}
	logger = logger.WithComponent(applog.ComponentSheets)

	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	base := strings.TrimSpace(opts.SheetName)
	if base == "" {
		base = "Journal"
	}

	creds, err := credentialsJSON(opts)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets journal ready",
		"spreadsheet_id", spreadsheetID,
		"sheet", base)

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
		logger:        logger,
	}, nil
}

// credentialsJSON prefers inline JSON over a file path.
func credentialsJSON(opts Options) ([]byte, error) {
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		return []byte(opts.CredentialsJSON), nil
	case strings.TrimSpace(opts.CredentialsFile) != "":
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// Append writes rows to the year-prefixed journal sheet of each row's year.
// It returns the updated range of the last write.
func (c *Client) Append(ctx context.Context, rows ...ports.JournalRow) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if len(rows) == 0 {
		return "", nil
	}

	var ref string
	for _, group := range groupByYear(rows) {
		sheet := c.sheetName(group.year)
		values := make([][]any, 0, len(group.rows))
		for _, r := range group.rows {
			values = append(values, r.Values())
		}

		rng := fmt.Sprintf("%s!A:I", sheet)
		resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
		}
		if resp.Updates != nil {
			ref = resp.Updates.UpdatedRange
		}
		c.logger.DebugContext(ctx, "Journal rows appended",
			applog.FieldCount, len(values),
			applog.FieldSheetsRef, ref)
	}
	return ref, nil
}

// ListJournal reads back the journal rows of one year.
func (c *Client) ListJournal(ctx context.Context, year int) ([]ports.JournalRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:I", c.sheetName(year))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseJournal(resp.Values), nil
}

func (c *Client) sheetName(year int) string {
	return yearPrefixedName(c.sheetBase, year)
}

type yearRows struct {
	year int
	rows []ports.JournalRow
}

// groupByYear keeps the input order within each year; years ascend.
func groupByYear(rows []ports.JournalRow) []yearRows {
	byYear := map[int][]ports.JournalRow{}
	for _, r := range rows {
		byYear[r.Year()] = append(byYear[r.Year()], r)
	}
	out := make([]yearRows, 0, len(byYear))
	for y, rs := range byYear {
		out = append(out, yearRows{year: y, rows: rs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].year < out[j].year })
	return out
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
