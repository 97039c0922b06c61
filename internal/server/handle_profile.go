package server

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// ProfileRequest is the request body for POST /api/profile.
type ProfileRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type ProfileResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	CreatedAt string `json:"createdAt"`
	Token     string `json:"token,omitempty"`
}

const maxUsernameLen = 40

func handleCreateProfile(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProfileRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		req.AvatarURL = strings.TrimSpace(req.AvatarURL)
		if req.Username == "" {
			writeError(w, http.StatusBadRequest, "username is required")
			return
		}
		if len(req.Username) > maxUsernameLen {
			writeError(w, http.StatusBadRequest, "username is too long")
			return
		}

		profile, token, err := store.CreateProfile(r.Context(), req.Username, req.AvatarURL)
		if errors.Is(err, ErrConflict) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, ProfileResponse{
			ID:        profile.ID,
			Username:  profile.Username,
			AvatarURL: profile.AvatarURL,
			CreatedAt: profile.CreatedAt.Format(time.RFC3339),
			Token:     token,
		})
	}
}

func handleGetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := profileFrom(r)
		writeJSON(w, http.StatusOK, ProfileResponse{
			ID:        profile.ID,
			Username:  profile.Username,
			AvatarURL: profile.AvatarURL,
			CreatedAt: profile.CreatedAt.Format(time.RFC3339),
		})
	}
}
