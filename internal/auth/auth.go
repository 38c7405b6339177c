// Package auth defines the narrow collaborator the hub and API boundary
// use to turn an opaque bearer token into a types.Principal (Verifier),
// plus local/test stand-ins: Static, a fixed token table; Memory, an
// in-process table that Issue/Revoke write to; and bcrypt password
// helpers backing the register/login endpoints. None of it is a
// production identity provider (spec.md §1 Non-goals).
package auth

import (
	"context"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/types"
)

// Verifier turns an opaque bearer token into a Principal.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (types.Principal, error)
}

// Static is a Verifier backed by a fixed token->Principal table, useful
// for local runs and tests where a full identity provider is out of
// scope.
type Static struct {
	tokens map[string]types.Principal
}

// NewStatic builds a Static verifier from a token->Principal table.
func NewStatic(tokens map[string]types.Principal) *Static {
	cp := make(map[string]types.Principal, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &Static{tokens: cp}
}

func (s *Static) VerifyToken(ctx context.Context, token string) (types.Principal, error) {
	p, ok := s.tokens[token]
	if !ok {
		return types.Principal{}, apierr.New(apierr.Unauthorized, "invalid token")
	}
	return p, nil
}

var _ Verifier = (*Static)(nil)
