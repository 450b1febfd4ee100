package middleware

import (
	"net/http"

	"github.com/estatelink/estatelink-backend/api/responses"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
)

// RequireMediaMutation gates write operations on the listing gallery.
// Viewers can read everything but never touch storage.
func RequireMediaMutation(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := enums.MemberRole(RoleFromContext(r.Context()))
			if !role.CanMutateMedia() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "media mutation requires editor access"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
