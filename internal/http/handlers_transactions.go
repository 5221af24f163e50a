package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/policy"
	"fintrack/internal/storage"
)

type transactionRequest struct {
	AccountID           string     `json:"account_id"`
	CategoryID          *string    `json:"category_id"`
	LinkedTransactionID *string    `json:"linked_transaction_id"`
	Type                string     `json:"type"`
	Amount              core.Money `json:"amount"`
	Date                core.Date  `json:"date"`
	Payee               string     `json:"payee"`
	Notes               string     `json:"notes"`
	IsDuplicateFlagged  bool       `json:"is_duplicate_flagged"`
}

type transactionPatchRequest struct {
	AccountID           *string     `json:"account_id"`
	CategoryID          *string     `json:"category_id"`
	ClearCategory       bool        `json:"clear_category"`
	Type                *string     `json:"type"`
	Amount              *core.Money `json:"amount"`
	Date                *core.Date  `json:"date"`
	Payee               *string     `json:"payee"`
	Notes               *string     `json:"notes"`
	IsDuplicateFlagged  *bool       `json:"is_duplicate_flagged"`
	LinkedTransactionID *string     `json:"linked_transaction_id"`
	Unlink              bool        `json:"unlink"`
}

type transferRequest struct {
	FromAccountID string     `json:"from_account_id"`
	ToAccountID   string     `json:"to_account_id"`
	Amount        core.Money `json:"amount"`
	Date          core.Date  `json:"date"`
	Notes         string     `json:"notes"`
}

type bulkCategorizeRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
	CategoryID     string   `json:"category_id"`
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

// listFilter parses the query and applies the actor's history window.
func (s *Server) listFilter(r *http.Request) (storage.TransactionFilter, error) {
	actor := mustActor(r)
	f, err := parseTransactionFilter(r.URL.Query(), actor.UserID)
	if err != nil {
		return f, err
	}
	f.From = policy.ClampFrom(actor, s.now(), f.From)
	return f, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := s.listFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	txs, err := s.engine.ListTransactions(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, txs)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := s.listFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	f.Limit, f.Offset = 0, 0
	txs, err := s.engine.ListTransactions(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, core.Summarize(txs))
}

// authorizeAccount checks the actor may write to the account.
func (s *Server) authorizeAccount(r *http.Request, id string) error {
	a, err := s.engine.GetAccount(r.Context(), id)
	if err != nil {
		return err
	}
	return policy.Authorize(policy.CanUpdate(mustActor(r), a), "use", "account", id)
}

func (s *Server) authorizeCategory(r *http.Request, id string) error {
	c, err := s.engine.GetCategory(r.Context(), id)
	if err != nil {
		return err
	}
	return policy.Authorize(policy.CanView(mustActor(r), c), "use", "category", id)
}

func (s *Server) authorizeTransaction(r *http.Request, id, action string, check func(policy.Actor, any) bool) (core.TransactionDetail, error) {
	d, err := s.engine.GetTransaction(r.Context(), id)
	if err != nil {
		return d, err
	}
	return d, policy.Authorize(check(mustActor(r), d), action, "transaction", id)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	typ, err := core.ParseTransactionType(req.Type)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if req.AccountID == "" {
		respondError(w, r, core.Invalid("account_id is required"))
		return
	}
	if err := s.authorizeAccount(r, req.AccountID); err != nil {
		respondError(w, r, err)
		return
	}
	if req.CategoryID != nil {
		if err := s.authorizeCategory(r, *req.CategoryID); err != nil {
			respondError(w, r, err)
			return
		}
	}
	if req.LinkedTransactionID != nil {
		if _, err := s.authorizeTransaction(r, *req.LinkedTransactionID, "link", policy.CanUpdate); err != nil {
			respondError(w, r, err)
			return
		}
	}
	if req.Date.IsZero() {
		req.Date = s.today()
	}

	d, err := s.engine.CreateTransaction(r.Context(), ledger.TransactionInput{
		AccountID:           req.AccountID,
		CategoryID:          req.CategoryID,
		LinkedTransactionID: req.LinkedTransactionID,
		Type:                typ,
		Amount:              req.Amount,
		Date:                req.Date,
		Payee:               sanitize(req.Payee),
		Notes:               sanitize(req.Notes),
		IsDuplicateFlagged:  req.IsDuplicateFlagged,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, d)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	in := ledger.TransferInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Date:          req.Date,
		Notes:         sanitize(req.Notes),
	}
	if in.Date.IsZero() {
		in.Date = s.today()
	}
	// Shape errors first so a same-account transfer is a 422, not a 403.
	if err := in.Validate(); err != nil {
		respondError(w, r, err)
		return
	}
	for _, id := range []string{in.FromAccountID, in.ToAccountID} {
		if err := s.authorizeAccount(r, id); err != nil {
			respondError(w, r, err)
			return
		}
	}

	pair, err := s.engine.CreateTransfer(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, pair)
}

func (s *Server) handleBulkCategorize(w http.ResponseWriter, r *http.Request) {
	var req bulkCategorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.CategoryID != "" {
		if err := s.authorizeCategory(r, req.CategoryID); err != nil {
			respondError(w, r, err)
			return
		}
	}

	n, err := s.engine.BulkCategorize(r.Context(), mustActor(r).UserID, req.TransactionIDs, req.CategoryID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"updated_count": n})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	d, err := s.authorizeTransaction(r, chi.URLParam(r, "id"), "view", policy.CanView)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, d)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	d, err := s.authorizeTransaction(r, chi.URLParam(r, "id"), "update", policy.CanUpdate)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req transactionPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	patch := ledger.TransactionPatch{
		AccountID:           req.AccountID,
		CategoryID:          req.CategoryID,
		ClearCategory:       req.ClearCategory,
		Amount:              req.Amount,
		Date:                req.Date,
		Payee:               sanitizePtr(req.Payee),
		Notes:               sanitizePtr(req.Notes),
		IsDuplicateFlagged:  req.IsDuplicateFlagged,
		LinkedTransactionID: req.LinkedTransactionID,
		Unlink:              req.Unlink,
	}
	if req.Type != nil {
		typ, err := core.ParseTransactionType(*req.Type)
		if err != nil {
			respondError(w, r, err)
			return
		}
		patch.Type = &typ
	}

	checks := []func() error{}
	if req.AccountID != nil && *req.AccountID != d.AccountID {
		checks = append(checks, func() error { return s.authorizeAccount(r, *req.AccountID) })
	}
	if req.CategoryID != nil {
		checks = append(checks, func() error { return s.authorizeCategory(r, *req.CategoryID) })
	}
	if req.LinkedTransactionID != nil {
		checks = append(checks, func() error {
			_, err := s.authorizeTransaction(r, *req.LinkedTransactionID, "link", policy.CanUpdate)
			return err
		})
	}
	for _, check := range checks {
		if err := check(); err != nil {
			respondError(w, r, err)
			return
		}
	}

	updated, err := s.engine.UpdateTransaction(r.Context(), d.ID, patch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	d, err := s.authorizeTransaction(r, chi.URLParam(r, "id"), "delete", policy.CanDelete)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.engine.DeleteTransaction(r.Context(), d.ID); err != nil {
		respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "transaction deleted")
}
