package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/lending-service/cmd/api/book"
)

type userContextKey struct{}

/* Returns the user authenticated for the request, if any. */
func UserFromContext(ctx context.Context) (book.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(book.User)
	return user, ok
}

/* Rejects the request with 401 unless it carries a valid bearer token. Runs before anything reads the request. */
func (h *BookHandler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		user, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", book.ErrResponseCredentialsNotProvided
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", book.ErrResponseTokenInvalid
	}
	return parts[1], nil
}

type TokenEntry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Access string `json:"access"`
}

/* Exchanges username and password for an access token. */
func (h *BookHandler) token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var entry TokenEntry
	if err := decodeBody(w, r, &entry); err != nil {
		h.handleError(w, r, err)
		return
	}
	if entry.Username == "" || entry.Password == "" {
		h.handleError(w, r, book.ErrResponseUserEntryBlankFields)
		return
	}

	access, err := h.auth.Login(r.Context(), entry.Username, entry.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, TokenResponse{Access: access})
}
