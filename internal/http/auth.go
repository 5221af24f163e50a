package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/policy"
)

// Claims are the identity claims this API reads. Tokens are issued
// elsewhere; sub carries the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Tier  string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// UserRegistrar records users seen in tokens.
type UserRegistrar interface {
	EnsureUser(ctx context.Context, u core.User) error
}

type authenticator struct {
	secret []byte
	users  UserRegistrar
	seen   *cache.Cache
	logger *applog.Logger
}

func newAuthenticator(secret []byte, users UserRegistrar, ttl time.Duration, logger *applog.Logger) *authenticator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &authenticator{
		secret: secret,
		users:  users,
		seen:   cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

type actorKey struct{}

func withActor(ctx context.Context, a policy.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFrom(ctx context.Context) (policy.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(policy.Actor)
	return a, ok
}

// middleware verifies the bearer token, records the user and stores the
// actor in the request context.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims, err := a.parse(r.Header.Get("Authorization"))
		if err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Rejected bearer token",
				applog.FieldError, err,
				applog.FieldErrorType, applog.ErrorTypeAuth)
			w.Header().Set("WWW-Authenticate", `Bearer realm="fintrack"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}

		actor := policy.Actor{UserID: claims.Subject, Tier: core.FreeTier}
		if core.Tier(strings.ToLower(claims.Tier)) == core.PremiumTier {
			actor.Tier = core.PremiumTier
		}

		// One upsert per user and tier per cache period.
		key := actor.UserID + "|" + string(actor.Tier) + "|" + claims.Email
		if _, ok := a.seen.Get(key); !ok {
			if err := a.users.EnsureUser(ctx, core.User{ID: actor.UserID, Email: claims.Email, Tier: actor.Tier}); err != nil {
				respondError(w, r, err)
				return
			}
			a.seen.SetDefault(key, struct{}{})
		}

		logger := applog.FromContext(ctx).With(applog.FieldUserID, actor.UserID)
		ctx = applog.NewContext(withActor(ctx, actor), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *authenticator) parse(header string) (*Claims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, jwt.ErrTokenMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
