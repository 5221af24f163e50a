package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const DefaultRegistryTTL = 30 * time.Minute

// Registry resolves system categories by name. Their ids are generated per
// deployment, so resolved ids are cached and re-checked on use.
type Registry struct {
	ids *cache.Cache
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ids: cache.New(ttl, 2*ttl)}
}

// Lookup returns the named system category, or a configuration error when
// the installation does not have it.
func (r *Registry) Lookup(ctx context.Context, q *storage.Queries, name string) (core.Category, error) {
	c, ok, err := r.find(ctx, q, name)
	if err != nil {
		return core.Category{}, err
	}
	if !ok {
		return core.Category{}, core.Misconfigured("system category %q is missing", name)
	}
	return c, nil
}

// FindOrCreate returns the system category named like tmpl, inserting tmpl
// as a system category when none exists yet.
func (r *Registry) FindOrCreate(ctx context.Context, q *storage.Queries, tmpl core.Category) (core.Category, error) {
	c, ok, err := r.find(ctx, q, tmpl.Name)
	if err != nil || ok {
		return c, err
	}
	tmpl.UserID = nil
	tmpl.ParentID = nil
	tmpl.IsSystem = true
	c, err = q.InsertCategory(ctx, tmpl)
	if err != nil {
		return core.Category{}, err
	}
	r.ids.SetDefault(tmpl.Name, c.ID)
	return c, nil
}

// Forget drops a cached id.
func (r *Registry) Forget(name string) {
	r.ids.Delete(name)
}

func (r *Registry) find(ctx context.Context, q *storage.Queries, name string) (core.Category, bool, error) {
	if v, ok := r.ids.Get(name); ok {
		c, err := q.GetCategory(ctx, v.(string))
		switch {
		case err == nil && c.IsSystem && c.Name == name:
			return c, true, nil
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return core.Category{}, false, err
		}
		// Stale entry, e.g. cached inside a unit of work that rolled back.
		r.ids.Delete(name)
	}

	c, ok, err := q.FindSystemCategory(ctx, name)
	if err != nil || !ok {
		return core.Category{}, false, err
	}
	r.ids.SetDefault(name, c.ID)
	return c, true, nil
}

func openingBalanceCategory() core.Category {
	return core.Category{
		Name:         core.CategoryOpeningBalance,
		Icon:         "flag",
		DisplayOrder: 999,
	}
}
