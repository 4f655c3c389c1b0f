package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"librarycatalog/internal/catalog"
)

const bearerPrefix = "bearer "

// UserFinder is the lookup the guard needs from the store.
type UserFinder interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*catalog.User, error)
}

// Guard resolves the Authorization header of a request to a user.
type Guard struct {
	signer *Signer
	users  UserFinder
	log    zerolog.Logger
}

func NewGuard(signer *Signer, users UserFinder, log zerolog.Logger) *Guard {
	return &Guard{signer: signer, users: users, log: log.With().Str("component", "auth").Logger()}
}

// ResolveIdentity fails closed: an absent, malformed or unverifiable credential, or
// one whose user no longer matches, yields nil.
func (g *Guard) ResolveIdentity(ctx context.Context, header string) *catalog.User {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		g.log.Debug().Msg("authorization header without bearer prefix")
		return nil
	}
	claims, err := g.signer.Verify(strings.TrimSpace(header[len(bearerPrefix):]))
	if err != nil {
		g.log.Debug().Err(err).Msg("credential rejected")
		return nil
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		g.log.Debug().Err(err).Msg("credential user id malformed")
		return nil
	}
	user, err := g.users.FindUserByID(ctx, id)
	if err != nil {
		g.log.Debug().Err(err).Str("user_id", claims.UserID).Msg("credential user lookup failed")
		return nil
	}
	if user.Username != claims.Username {
		g.log.Debug().Str("user_id", claims.UserID).Msg("credential username mismatch")
		return nil
	}
	return user
}
