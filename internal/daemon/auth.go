package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"stagewright/internal/api"
)

// authMiddleware rejects requests without the configured bearer token. An
// empty token disables the check.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	expected := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="stagewright"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: api.Error{Kind: "unauthorized", Message: "missing or invalid bearer token"}})
			return
		}
		next(w, r)
	}
}
