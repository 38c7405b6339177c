package api

import (
	"context"
	"encoding/json"
	"net/http"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/types"
)

type principalCtxKey struct{}

func contextWithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

func principalFrom(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(types.Principal)
	return p, ok
}

// requireAuth verifies the bearer token and stashes the resulting
// Principal in the request context; handlers read it with principalFrom.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, apierr.New(apierr.Unauthorized, "missing bearer token"))
			return
		}
		p, err := s.deps.Verifier.VerifyToken(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithPrincipal(r.Context(), p)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError classifies err via apierr and writes the §6.2 {error: ...}
// wire shape at the matching HTTP status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(err), apierr.ToBody(err))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Wrap(apierr.Invalid, "malformed request body", err)
	}
	return nil
}
