package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
	"fintrack/internal/policy"
)

type categoryRequest struct {
	Name         string  `json:"name"`
	Icon         string  `json:"icon"`
	ParentID     *string `json:"parent_id"`
	DisplayOrder *int    `json:"display_order"`
}

type categoryPatchRequest struct {
	Name         *string `json:"name"`
	Icon         *string `json:"icon"`
	ParentID     *string `json:"parent_id"`
	ClearParent  bool    `json:"clear_parent"`
	DisplayOrder *int    `json:"display_order"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	tree, err := s.engine.ListCategories(r.Context(), mustActor(r).UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, tree)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ParentID != nil {
		if _, ok := s.checkCategory(w, r, *req.ParentID, "use", policy.CanView); !ok {
			return
		}
	}

	c, err := s.engine.CreateCategory(r.Context(), actor.UserID, ledger.CategoryInput{
		Name:         sanitize(req.Name),
		Icon:         sanitize(req.Icon),
		ParentID:     req.ParentID,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, c)
}

func (s *Server) checkCategory(w http.ResponseWriter, r *http.Request, id, action string, check func(policy.Actor, any) bool) (core.Category, bool) {
	c, err := s.engine.GetCategory(r.Context(), id)
	if err == nil {
		err = policy.Authorize(check(mustActor(r), c), action, "category", id)
	}
	if err != nil {
		respondError(w, r, err)
		return core.Category{}, false
	}
	return c, true
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.checkCategory(w, r, chi.URLParam(r, "id"), "view", policy.CanView)
	if !ok {
		return
	}
	respond(w, http.StatusOK, c)
}

// writeCheck lets system categories through to the ledger, which reports
// the business rule they break; user categories need ownership.
func writeCheck(check func(policy.Actor, any) bool) func(policy.Actor, any) bool {
	return func(a policy.Actor, entity any) bool {
		if c, ok := entity.(core.Category); ok && c.IsSystem {
			return policy.CanView(a, c)
		}
		return check(a, entity)
	}
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.checkCategory(w, r, chi.URLParam(r, "id"), "update", writeCheck(policy.CanUpdate))
	if !ok {
		return
	}
	var req categoryPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ParentID != nil {
		if _, ok := s.checkCategory(w, r, *req.ParentID, "use", policy.CanView); !ok {
			return
		}
	}

	updated, err := s.engine.UpdateCategory(r.Context(), c.ID, ledger.CategoryPatch{
		Name:         sanitizePtr(req.Name),
		Icon:         sanitizePtr(req.Icon),
		ParentID:     req.ParentID,
		ClearParent:  req.ClearParent,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

// Protected categories pass the ownership check here; the ledger refuses
// them as a rule violation.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.checkCategory(w, r, chi.URLParam(r, "id"), "delete", writeCheck(policy.CanUpdate))
	if !ok {
		return
	}
	if err := s.engine.DeleteCategory(r.Context(), c.ID); err != nil {
		respondError(w, r, err)
		return
	}
	respondMessage(w, http.StatusOK, "category deleted")
}
