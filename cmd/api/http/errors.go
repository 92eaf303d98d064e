package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/lending-service/cmd/api/book"
)

/* Maps an error from any layer to its status code and writes it as an ErrResponse. */
func (h *BookHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)

	attrs := []any{"method", r.Method, "path", r.URL.Path, "status", status, "error", err}
	if user, ok := UserFromContext(r.Context()); ok {
		attrs = append(attrs, "user_id", user.ID)
	}
	switch {
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed", attrs...)
	default:
		h.logger.Info("request rejected", attrs...)
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	responseJSON(w, status, body)
}

func errorStatus(err error) (int, book.ErrResponse) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, book.ErrResponseRequestTimeout
	}

	var errR book.ErrResponse
	if !errors.As(err, &errR) {
		return http.StatusInternalServerError, book.ErrResponseInternal
	}

	switch {
	case errors.Is(errR, book.ErrResponseBookNotFound),
		errors.Is(errR, book.ErrResponseBorrowRecordNotFound),
		errors.Is(errR, book.ErrResponseUserNotFound):
		return http.StatusNotFound, errR
	case errors.Is(errR, book.ErrResponseCredentialsNotProvided),
		errors.Is(errR, book.ErrResponseTokenInvalid),
		errors.Is(errR, book.ErrResponseLoginFailed):
		return http.StatusUnauthorized, errR
	case errors.Is(errR, book.ErrResponseEntryTooLarge):
		return http.StatusRequestEntityTooLarge, errR
	case errors.Is(errR, book.ErrResponseInternal):
		return http.StatusInternalServerError, errR
	default:
		return http.StatusBadRequest, errR
	}
}
