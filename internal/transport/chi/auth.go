package chi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// exemptPaths bypass authentication so probes and scrapers need no key.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware guards every non-exempt route with a static API key
// set. With no non-empty keys configured it is a pass-through.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(digests) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, msg := bearerToken(r.Header.Get("Authorization"))
			if msg == "" && !knownKey(digests, token) {
				msg = "invalid api key"
			}
			if msg != "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="policyrag"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, msg)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token, or returns a client-facing reason.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "authorization header must use Bearer scheme"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty bearer token"
	}
	return token, ""
}

// knownKey compares digests in constant time and checks every key.
func knownKey(digests [][sha256.Size]byte, token string) bool {
	d := sha256.Sum256([]byte(token))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(digests[i][:], d[:])
	}
	return found == 1
}
