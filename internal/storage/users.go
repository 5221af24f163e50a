package storage

import (
	"context"
	"fmt"
	"time"

	"fintrack/internal/core"
)

// UpsertUser records an authenticated identity so accounts have an owner row.
// Email and tier follow the latest token.
func (q *Queries) UpsertUser(ctx context.Context, u core.User) error {
	if u.Tier == "" {
		u.Tier = core.FreeTier
	}
	_, err := q.exec(ctx, `INSERT INTO users (id, email, subscription_tier, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, subscription_tier = excluded.subscription_tier`,
		u.ID, u.Email, string(u.Tier), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	var (
		u    core.User
		tier string
	)
	err := q.queryRow(ctx, `SELECT id, email, subscription_tier, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &tier, &u.CreatedAt)
	if err != nil {
		return core.User{}, notFound(err, "user", id)
	}
	u.Tier = core.Tier(tier)
	return u, nil
}
