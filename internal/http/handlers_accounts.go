package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	"fintrack/internal/policy"
)

type accountRequest struct {
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Currency       string     `json:"currency"`
	IsAsset        *bool      `json:"is_asset"`
	InitialBalance core.Money `json:"initial_balance"`
}

type accountPatchRequest struct {
	Name     *string `json:"name"`
	Type     *string `json:"type"`
	Currency *string `json:"currency"`
	IsAsset  *bool   `json:"is_asset"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	accounts, err := s.engine.ListAccounts(r.Context(), actor.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, accounts)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := mustActor(r)

	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	count, err := s.engine.CountAccounts(ctx, actor.UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := policy.CheckAccountQuota(actor, count); err != nil {
		applog.FromContext(ctx).InfoContext(ctx, "Account quota reached",
			applog.FieldCount, count)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	a, err := s.engine.CreateAccount(ctx, actor.UserID, ledger.AccountInput{
		Name:           sanitize(req.Name),
		Type:           core.AccountType(req.Type),
		Currency:       req.Currency,
		IsAsset:        req.IsAsset,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, a)
}

// loadAccount fetches the path account and applies check; it writes the
// error response and returns false when the request cannot proceed.
func (s *Server) loadAccount(w http.ResponseWriter, r *http.Request, action string, check func(policy.Actor, any) bool) (core.Account, bool) {
	id := chi.URLParam(r, "id")
	a, err := s.engine.GetAccount(r.Context(), id)
	if err == nil {
		err = policy.Authorize(check(mustActor(r), a), action, "account", id)
	}
	if err != nil {
		respondError(w, r, err)
		return core.Account{}, false
	}
	return a, true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAccount(w, r, "view", policy.CanView)
	if !ok {
		return
	}
	respond(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAccount(w, r, "update", policy.CanUpdate)
	if !ok {
		return
	}

	var req accountPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	patch := ledger.AccountPatch{
		Name:     sanitizePtr(req.Name),
		Currency: req.Currency,
		IsAsset:  req.IsAsset,
	}
	if req.Type != nil {
		t := core.AccountType(*req.Type)
		patch.Type = &t
	}

	updated, err := s.engine.UpdateAccount(r.Context(), a.ID, patch)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAccount(w, r, "delete", policy.CanDelete)
	if !ok {
		return
	}
	if err := s.engine.DeleteAccount(r.Context(), a.ID); err != nil {
		respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "account deleted")
}

func (s *Server) handleRecalculateAccount(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAccount(w, r, "update", policy.CanUpdate)
	if !ok {
		return
	}
	updated, err := s.engine.RecalculateAccountBalance(r.Context(), a.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

// mustActor returns the authenticated actor. Routes under /api/v1 always
// run behind the identity middleware.
func mustActor(r *http.Request) policy.Actor {
	a, ok := actorFrom(r.Context())
	if !ok {
		panic("http: handler reached without an authenticated actor")
	}
	return a
}
