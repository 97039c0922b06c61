package server

import (
	"context"
	"net/http"

	"github.com/playperu/adventure/internal/adventure"
)

type ctxKey int

const (
	ctxKeyProfile ctxKey = iota
	ctxKeyAdmin
)

func profileMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := profileToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing profile token")
				return
			}

			profile, err := store.ProfileFromToken(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid profile token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyProfile, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminAuthMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(adminCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			sess, err := store.AdminFromSession(r.Context(), cookie.Value)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAdmin, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func profileFrom(r *http.Request) adventure.Profile {
	return r.Context().Value(ctxKeyProfile).(adventure.Profile)
}

func adminFrom(r *http.Request) adminSession {
	return r.Context().Value(ctxKeyAdmin).(adminSession)
}
