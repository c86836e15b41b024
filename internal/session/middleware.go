package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/platform/requestctx"
)

type contextKey string

const sessionKey contextKey = "finitefield.org/storefront/session"

// Store abstracts the manager for middleware integration.
type Store interface {
	Load(*http.Request) (*Session, error)
	New() *Session
	NeedsRefresh(*Session) bool
	Save(http.ResponseWriter, *Session) error
	Destroy(http.ResponseWriter)
}

// Middleware attaches the visitor's session to the request context and writes
// the cookie before the handler runs, so handlers may stream their response.
func Middleware(store Store) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context())
			sess, err := store.Load(r)
			switch {
			case errors.Is(err, ErrExpired):
				logger.Debug("session expired: resetting")
				sess = store.New()
			case err != nil || sess == nil:
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			if store.NeedsRefresh(sess) {
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			ctx = requestctx.WithVisitorID(ctx, sess.VisitorID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the session attached to this request.
func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(sessionKey).(*Session)
	return sess, ok && sess != nil
}
