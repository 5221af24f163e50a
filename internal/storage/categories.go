package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
)

const categoryColumns = `id, user_id, parent_id, name, icon, is_system, is_protected, display_order, created_at, updated_at`

func scanCategory(row rowScanner) (core.Category, error) {
	var (
		c             core.Category
		owner, parent sql.NullString
	)
	if err := row.Scan(&c.ID, &owner, &parent, &c.Name, &c.Icon, &c.IsSystem, &c.IsProtected, &c.DisplayOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return core.Category{}, err
	}
	c.UserID = stringPtr(owner)
	c.ParentID = stringPtr(parent)
	return c, nil
}

func (q *Queries) scanCategories(ctx context.Context, query string, args ...any) ([]core.Category, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) InsertCategory(ctx context.Context, c core.Category) (core.Category, error) {
	now := time.Now().UTC()
	c.ID = NewID()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := q.exec(ctx, `INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullString(c.UserID), nullString(c.ParentID), c.Name, c.Icon, c.IsSystem, c.IsProtected, c.DisplayOrder, now, now)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (q *Queries) GetCategory(ctx context.Context, id string) (core.Category, error) {
	c, err := scanCategory(q.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		return core.Category{}, notFound(err, "category", id)
	}
	return c, nil
}

// ListVisibleCategories returns system categories and those owned by userID,
// ordered by display order then name.
func (q *Queries) ListVisibleCategories(ctx context.Context, userID string) ([]core.Category, error) {
	out, err := q.scanCategories(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE is_system = ? OR user_id = ?
		ORDER BY display_order, name`, true, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return out, nil
}

// ListChildCategories returns the direct children of parentID.
func (q *Queries) ListChildCategories(ctx context.Context, parentID string) ([]core.Category, error) {
	out, err := q.scanCategories(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE parent_id = ? ORDER BY display_order, name`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child categories: %w", err)
	}
	return out, nil
}

// FindSystemCategory looks up a top-level system category by name.
func (q *Queries) FindSystemCategory(ctx context.Context, name string) (core.Category, bool, error) {
	c, err := scanCategory(q.queryRow(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE name = ? AND is_system = ? AND user_id IS NULL AND parent_id IS NULL
		ORDER BY created_at LIMIT 1`, name, true))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, false, nil
	}
	if err != nil {
		return core.Category{}, false, fmt.Errorf("find system category %s: %w", name, err)
	}
	return c, true, nil
}

// CategoryNameTaken reports whether userID already owns a category named
// name, ignoring the row excludeID.
func (q *Queries) CategoryNameTaken(ctx context.Context, userID, name, excludeID string) (bool, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM categories
		WHERE user_id = ? AND LOWER(name) = LOWER(?) AND id <> ?`, userID, name, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check category name: %w", err)
	}
	return n > 0, nil
}

// MaxDisplayOrder returns the highest display order among userID's
// categories, or -1 when there are none.
func (q *Queries) MaxDisplayOrder(ctx context.Context, userID string) (int, error) {
	var top sql.NullInt64
	if err := q.queryRow(ctx, `SELECT MAX(display_order) FROM categories WHERE user_id = ?`, userID).Scan(&top); err != nil {
		return 0, fmt.Errorf("max display order: %w", err)
	}
	if !top.Valid {
		return -1, nil
	}
	return int(top.Int64), nil
}

func (q *Queries) CountChildCategories(ctx context.Context, parentID string) (int, error) {
	var n int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM categories WHERE parent_id = ?`, parentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count child categories: %w", err)
	}
	return n, nil
}

func (q *Queries) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := q.exec(ctx, `UPDATE categories SET parent_id = ?, name = ?, icon = ?, display_order = ?, updated_at = ? WHERE id = ?`,
		nullString(c.ParentID), c.Name, c.Icon, c.DisplayOrder, time.Now().UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("category", c.ID)
	}
	return nil
}

// DeleteCategory removes the row; child categories cascade.
func (q *Queries) DeleteCategory(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if rowsAffected(res) == 0 {
		return core.NotFound("category", id)
	}
	return nil
}
