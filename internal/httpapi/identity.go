package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomdray/library/internal/library"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

// identity resolves the authenticated caller from the headers the gateway
// injects after token verification. This service performs no credential
// checks of its own; it trusts the resolved {user_id, role} pair.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawID := r.Header.Get("X-User-ID")
		rawRole := r.Header.Get("X-User-Role")
		if rawID == "" || rawRole == "" {
			writeErr(w, http.StatusUnauthorized, "missing identity", "unauthorized")
			return
		}
		userID, err := uuid.Parse(rawID)
		if err != nil || userID == uuid.Nil {
			writeErr(w, http.StatusUnauthorized, "invalid identity", "unauthorized")
			return
		}
		role := library.Role(rawRole)
		if !role.Valid() {
			writeErr(w, http.StatusUnauthorized, "invalid role", "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyActor, library.Actor{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireStaff rejects member calls to librarian/admin endpoints.
func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).Role.Staff() {
			writeErr(w, http.StatusForbidden, "staff only", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom returns the caller identity stored by the identity middleware.
func actorFrom(r *http.Request) library.Actor {
	a, _ := r.Context().Value(ctxKeyActor).(library.Actor)
	return a
}
