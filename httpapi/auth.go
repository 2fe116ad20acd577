package httpapi

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeControl is required by mutating endpoints when auth is enabled.
const ScopeControl = "control"

type claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// authMiddleware verifies an HMAC-signed bearer token and requires the
// given scope. With auth disabled it passes requests through untouched.
type authMiddleware struct {
	enabled bool
	secret  []byte
	issuer  string
}

func (a authMiddleware) require(scope string, next http.HandlerFunc) http.HandlerFunc {
	if !a.enabled {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "bearer token required")
			return
		}

		parsed, err := a.parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid token")
			return
		}
		if !slices.Contains(parsed.Scopes, scope) {
			writeError(w, http.StatusForbidden, CodeForbidden, fmt.Sprintf("scope %q required", scope))
			return
		}

		next(w, r)
	}
}

func (a authMiddleware) parse(token string) (*claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	out := &claims{}
	if _, err := jwt.ParseWithClaims(token, out, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
