package auth

import (
	"errors"
	"net/http"

	"github.com/lumapay/lumapay/internal/platform/httpx"
	"github.com/lumapay/lumapay/internal/shared"
)

// Credential headers consumed by the identity middleware.
const (
	HeaderKeyID  = "X-Api-Key"
	HeaderSecret = "X-Api-Secret"
)

// Middleware resolves the caller from credential headers and stores the
// identity on the request context.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := r.Header.Get(HeaderKeyID)
			secret := r.Header.Get(HeaderSecret)

			identity, err := service.Resolve(r.Context(), keyID, secret)
			if err != nil {
				if errors.Is(err, shared.ErrInvalidCredentials) {
					httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid api credentials")
					return
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}

			ctx := shared.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
