package ledger

import (
	"context"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// CategoryInput creates a user category.
type CategoryInput struct {
	Name         string
	Icon         string
	ParentID     *string
	DisplayOrder *int
}

// CategoryPatch changes a user category. Nil fields are kept.
type CategoryPatch struct {
	Name         *string
	Icon         *string
	ParentID     *string
	ClearParent  bool
	DisplayOrder *int
}

// CreateCategory adds a category owned by ownerID. Parents must be top-level
// categories the owner can see; names are unique per owner.
func (e *Engine) CreateCategory(ctx context.Context, ownerID string, in CategoryInput) (core.Category, error) {
	c := core.Category{
		UserID:   &ownerID,
		ParentID: in.ParentID,
		Name:     in.Name,
		Icon:     in.Icon,
	}
	if in.DisplayOrder != nil {
		c.DisplayOrder = *in.DisplayOrder
	}
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}

	var out core.Category
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		if c.ParentID != nil {
			if err := checkParent(ctx, q, *c.ParentID, ownerID); err != nil {
				return err
			}
		}
		taken, err := q.CategoryNameTaken(ctx, ownerID, c.Name, "")
		if err != nil {
			return err
		}
		if taken {
			return core.ErrDuplicateCategory
		}
		if in.DisplayOrder == nil {
			top, err := q.MaxDisplayOrder(ctx, ownerID)
			if err != nil {
				return err
			}
			c.DisplayOrder = top + 1
		}

		if out, err = q.InsertCategory(ctx, c); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventCategoryCreated, out.ID, out)
	})
	if err != nil {
		return core.Category{}, err
	}

	e.logger.InfoContext(ctx, "Category created",
		applog.FieldCategoryID, out.ID,
		applog.FieldUserID, ownerID,
		applog.FieldOperation, applog.OpCreate)
	return out, nil
}

// checkParent enforces the two-level hierarchy: the parent must exist, be
// visible to ownerID and be top-level itself.
func checkParent(ctx context.Context, q *storage.Queries, parentID, ownerID string) error {
	parent, err := visibleCategory(ctx, q, parentID, ownerID)
	if err != nil {
		return err
	}
	if parent.ParentID != nil {
		return core.ErrCategoryDepth
	}
	return nil
}

// UpdateCategory changes a user category. System categories are immutable.
func (e *Engine) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (core.Category, error) {
	var out core.Category
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if c.IsSystem || c.UserID == nil {
			return core.RuleViolation("system categories cannot be modified")
		}
		ownerID := *c.UserID

		if patch.Name != nil && *patch.Name != c.Name {
			taken, err := q.CategoryNameTaken(ctx, ownerID, *patch.Name, c.ID)
			if err != nil {
				return err
			}
			if taken {
				return core.ErrDuplicateCategory
			}
			c.Name = *patch.Name
		}
		if patch.Icon != nil {
			c.Icon = *patch.Icon
		}
		if patch.DisplayOrder != nil {
			c.DisplayOrder = *patch.DisplayOrder
		}

		switch {
		case patch.ClearParent:
			c.ParentID = nil
		case patch.ParentID != nil && (c.ParentID == nil || *c.ParentID != *patch.ParentID):
			if *patch.ParentID == c.ID {
				return core.Invalid("a category cannot be its own parent")
			}
			if err := checkParent(ctx, q, *patch.ParentID, ownerID); err != nil {
				return err
			}
			children, err := q.CountChildCategories(ctx, c.ID)
			if err != nil {
				return err
			}
			if children > 0 {
				return core.ErrCategoryDepth
			}
			c.ParentID = patch.ParentID
		}

		if err := c.Validate(); err != nil {
			return err
		}
		if err := q.UpdateCategory(ctx, c); err != nil {
			return err
		}
		if out, err = q.GetCategory(ctx, c.ID); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventCategoryUpdated, out.ID, out)
	})
	if err != nil {
		return core.Category{}, err
	}

	e.logger.InfoContext(ctx, "Category updated",
		applog.FieldCategoryID, out.ID,
		applog.FieldOperation, applog.OpUpdate)
	return out, nil
}

// DeleteCategory moves every transaction of the category and of its
// children to the system Uncategorized category, then deletes the category
// together with its children. No transaction is left pointing at a deleted
// category.
func (e *Engine) DeleteCategory(ctx context.Context, id string) error {
	var moved int64
	err := e.store.WithTx(ctx, func(q *storage.Queries) error {
		c, err := q.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if c.IsSystem {
			return core.RuleViolation("system categories cannot be deleted")
		}
		if c.IsProtected {
			return core.RuleViolation("protected categories cannot be deleted")
		}

		unc, err := e.registry.Lookup(ctx, q, core.CategoryUncategorized)
		if err != nil {
			return err
		}

		n, err := q.ReassignCategory(ctx, []string{c.ID}, unc.ID)
		if err != nil {
			return err
		}
		moved += n

		children, err := q.ListChildCategories(ctx, c.ID)
		if err != nil {
			return err
		}
		childIDs := make([]string, 0, len(children))
		for _, ch := range children {
			childIDs = append(childIDs, ch.ID)
		}
		if n, err = q.ReassignCategory(ctx, childIDs, unc.ID); err != nil {
			return err
		}
		moved += n

		if err := q.DeleteCategory(ctx, c.ID); err != nil {
			return err
		}
		return q.AppendEvent(ctx, core.EventCategoryDeleted, c.ID, map[string]any{
			"category":         c,
			"deleted_children": childIDs,
			"reassigned_to":    unc.ID,
			"reassigned_count": moved,
		})
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Category deleted",
		applog.FieldCategoryID, id,
		applog.FieldCount, moved,
		applog.FieldOperation, applog.OpDelete)
	return nil
}

// GetCategory returns a category with its children attached.
func (e *Engine) GetCategory(ctx context.Context, id string) (core.Category, error) {
	c, err := e.store.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	children, err := e.store.ListChildCategories(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	c.Children = children
	return c, nil
}

// ListCategories returns the top-level categories visible to ownerID, system
// and owned, each with its children, ordered by display order then name.
func (e *Engine) ListCategories(ctx context.Context, ownerID string) ([]core.Category, error) {
	all, err := e.store.ListVisibleCategories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return BuildTree(all), nil
}

// BuildTree nests children under their parents, keeping input order.
// Children whose parent is not in cats are dropped.
func BuildTree(cats []core.Category) []core.Category {
	children := make(map[string][]core.Category)
	for _, c := range cats {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c)
		}
	}
	var roots []core.Category
	for _, c := range cats {
		if c.ParentID == nil {
			c.Children = children[c.ID]
			roots = append(roots, c)
		}
	}
	return roots
}
