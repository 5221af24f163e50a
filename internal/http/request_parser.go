package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const (
	maxBodyBytes = 1 << 20
	maxPageSize  = 500
)

// errBadRequest marks malformed requests; it maps to 400, not 422.
var errBadRequest = errors.New("bad request")

var textPolicy = bluemonday.StrictPolicy()

// sanitize strips markup and control characters from free text. Entities
// produced by the policy are decoded again since responses are JSON.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitize(*s)
	return &v
}

// decodeJSON reads one JSON object into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxBodyBytes)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: body is empty", errBadRequest)
		case errors.Is(err, core.ErrValidation):
			return err
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// parseTransactionFilter reads the list filters from the query string.
func parseTransactionFilter(q url.Values, userID string) (storage.TransactionFilter, error) {
	f := storage.TransactionFilter{
		UserID:     userID,
		AccountID:  strings.TrimSpace(q.Get("account_id")),
		CategoryID: strings.TrimSpace(q.Get("category_id")),
		Payee:      sanitize(q.Get("payee")),
	}

	if v := strings.TrimSpace(q.Get("type")); v != "" {
		t, err := core.ParseTransactionType(v)
		if err != nil {
			return f, err
		}
		if t == core.Transfer {
			return f, core.Invalid("filter transfers by account instead of type")
		}
		f.Type = t
	}

	for _, p := range []struct {
		key string
		dst *core.Date
	}{{"from", &f.From}, {"to", &f.To}} {
		v := strings.TrimSpace(q.Get(p.key))
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return f, core.Invalid("%s must be a YYYY-MM-DD date", p.key)
		}
		*p.dst = d
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From.Time) {
		return f, core.Invalid("to must not be before from")
	}

	var err error
	if f.Limit, err = intParam(q, "limit", 0, maxPageSize); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset", 0, -1); err != nil {
		return f, err
	}
	return f, nil
}

// intParam parses a non-negative integer parameter; max < 0 means no cap.
func intParam(q url.Values, key string, def, max int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.Invalid("%s must be a non-negative integer", key)
	}
	if max >= 0 && n > max {
		n = max
	}
	return n, nil
}
