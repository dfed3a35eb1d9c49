package middleware

import (
	"fmt"
	"net/http"

	"github.com/tishop/marketplace-backend/api/responses"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/logger"
)

// Recoverer turns a handler panic into a 500 envelope. It runs inside
// RequestID so the body still carries the request reference, and tags the log
// line with the route and acting seller or admin.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				if logg != nil {
					fields := map[string]any{
						"panic":  fmt.Sprint(rec),
						"method": r.Method,
						"path":   r.URL.Path,
					}
					if role := RoleFromContext(ctx); role != "" {
						fields["actor_role"] = role
						fields["actor_id"] = ActorIDFromContext(ctx).String()
					}
					ctx = logg.WithFields(ctx, fields)
				}
				err := fmt.Errorf("panic: %v", rec)
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
