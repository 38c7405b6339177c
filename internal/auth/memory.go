package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/types"
)

// Issuer mints and revokes opaque bearer tokens. Not part of Verifier:
// a production identity provider issues tokens out of band and this core
// never needs to. Memory exists only so /api/auth/register|login have
// something to hand back in local/test runs (spec.md §1 still places the
// real primitive out of scope).
type Issuer interface {
	Issue(p types.Principal) string
	Revoke(token string)
}

// Memory is a mutable, process-local Verifier+Issuer: register/login
// mint a token into an in-memory table, VerifyToken looks it back up.
// Generalizes Static (a fixed, read-only table) to a table the API
// boundary can write to, same Verifier contract.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]types.Principal
}

// NewMemory builds an empty token store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]types.Principal)}
}

// Issue mints a fresh opaque token bound to p and stores it.
func (m *Memory) Issue(p types.Principal) string {
	token := uuid.NewString()
	m.mu.Lock()
	m.tokens[token] = p
	m.mu.Unlock()
	return token
}

// Revoke forgets a token, if present.
func (m *Memory) Revoke(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

func (m *Memory) VerifyToken(ctx context.Context, token string) (types.Principal, error) {
	m.mu.RLock()
	p, ok := m.tokens[token]
	m.mu.RUnlock()
	if !ok {
		return types.Principal{}, apierr.New(apierr.Unauthorized, "invalid token")
	}
	return p, nil
}

var _ Verifier = (*Memory)(nil)
var _ Issuer = (*Memory)(nil)

// HashPassword and CheckPassword are the local/test stand-in for the
// password-hashing half of the auth collaborator (spec.md §1: "the core
// only consumes a verifyToken(opaque) -> principal | null capability" —
// everything here exists so the register/login demo endpoints have
// something to call, not as a production identity provider).
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
