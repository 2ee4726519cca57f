package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/magicmatch/internal/auth"
)

var errNoSession = errors.New("no session cookie")

// EnsurePlayer returns the player bound to the request's session cookie. If
// there is no valid session, a fresh player ID is minted and a cookie is set.
func EnsurePlayer(w http.ResponseWriter, r *http.Request) (uuid.UUID, error) {
	if playerID, err := sessionPlayer(r); err == nil {
		return playerID, nil
	}

	playerID := uuid.New()
	token, err := auth.CreateJWT(playerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create session token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	return playerID, nil
}

// sessionPlayer authenticates the request's session cookie without issuing one.
func sessionPlayer(r *http.Request) (uuid.UUID, error) {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil || cookie.Value == "" {
		return uuid.Nil, errNoSession
	}
	return auth.AuthenticateJWT(cookie.Value)
}
