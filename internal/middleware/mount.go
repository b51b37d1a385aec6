package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kamipay/relay/internal/contextkeys"
	"github.com/kamipay/relay/internal/domain"
	"github.com/kamipay/relay/internal/handler"
)

// MountVerifier checks a QR mount token.
type MountVerifier interface {
	Verify(token string) (domain.QRMount, error)
}

// MountToken verifies the QR mount token passed as ?token= or as a bearer
// header and stores the container data in the request context.
func MountToken(tokens MountVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
				if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
					token = parts[1]
				}
			}
			if token == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "mount token required"})
				return
			}

			mount, err := tokens.Verify(token)
			if err != nil {
				handler.Error(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.QRMount, mount)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MountFromContext returns the container data stored by MountToken.
func MountFromContext(ctx context.Context) (domain.QRMount, bool) {
	m, ok := ctx.Value(contextkeys.QRMount).(domain.QRMount)
	return m, ok
}
