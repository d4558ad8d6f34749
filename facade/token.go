package facade

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// accessTokenHeader is the request header carrying the access token.
// A body field "token" is accepted as a fallback; the header wins when
// both are present.
const accessTokenHeader = "X-Access-Token"

// TokenSet is a static access-token allow-list. A capability check, not an
// identity system: tokens have no expiry and no scopes.
type TokenSet struct {
	tokens map[string]struct{}
}

// NewTokenSet builds the allow-list. Empty strings are ignored.
func NewTokenSet(tokens []string) *TokenSet {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &TokenSet{tokens: set}
}

// Valid reports whether the presented token exactly matches a configured
// token. Case-sensitive, no trimming; absent and empty tokens are invalid.
func (t *TokenSet) Valid(token string) bool {
	_, ok := t.tokens[token]
	return ok
}

// presentedToken extracts the access token from the header or, failing that,
// from a JSON body field "token". The body is restored so the handler can
// decode it again.
func presentedToken(r *http.Request) string {
	if tok := r.Header.Get(accessTokenHeader); tok != "" {
		return tok
	}
	if r.Body == nil {
		return ""
	}
	data, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Token
}

// requireToken guards protected routes: 401 and no further action when the
// token is absent, empty, or unrecognized.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.Valid(presentedToken(r)) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
