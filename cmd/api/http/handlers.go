package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lending-service/cmd/api/book"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const MaxBodyBytes = 1 << 20

//go:generate mockgen -source=handlers.go -destination=mocks/handlers.go -package=mocks

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (book.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

type BookHandler struct {
	bookService book.ServiceAPI
	auth        Authenticator
	logger      *slog.Logger
}

func NewBookHandler(bookService book.ServiceAPI, auth Authenticator, logger *slog.Logger) *BookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookHandler{bookService: bookService, auth: auth, logger: logger}
}

/* Addresses a call to "/books/" or "/books/(expected id here)/" according to the requested action.  */
func (h *BookHandler) books(w http.ResponseWriter, r *http.Request) {
	rawID, isItem := resourcePath(r.URL.Path, "/books")
	method := r.Method
	if !isItem {
		switch method {
		case http.MethodGet:
			h.listBooks(w, r)
		case http.MethodPost:
			h.createBook(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch method {
	case http.MethodGet:
		h.getBookById(w, r, rawID)
	case http.MethodPut:
		h.updateBook(w, r, rawID)
	case http.MethodDelete:
		h.deleteBook(w, r, rawID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type BookEntry struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Available *bool  `json:"available"`
}

/* Validates the entry, then stores the entry as a new book. */
func (h *BookHandler) createBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry BookEntry
	if err := decodeBody(w, r, &bookEntry); err != nil {
		h.handleError(w, r, err)
		return
	}

	storedBook, err := h.bookService.CreateBook(r.Context(), book.CreateBookRequest{
		Title:     bookEntry.Title,
		Author:    bookEntry.Author,
		Available: bookEntry.Available,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusCreated, bookToResponse(storedBook))
}

/* Validates the entry, then replaces the asked book. */
func (h *BookHandler) updateBook(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var bookEntry BookEntry
	if err := decodeBody(w, r, &bookEntry); err != nil {
		h.handleError(w, r, err)
		return
	}

	updatedBook, err := h.bookService.UpdateBook(r.Context(), book.UpdateBookRequest{
		ID:        id,
		Title:     bookEntry.Title,
		Author:    bookEntry.Author,
		Available: bookEntry.Available,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(updatedBook))
}

/* Returns the book with that specific ID. */
func (h *BookHandler) getBookById(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	returnedBook, err := h.bookService.GetBook(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(returnedBook))
}

func (h *BookHandler) deleteBook(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.bookService.DeleteBook(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

/* Returns a list of the stored books. */
func (h *BookHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	available, err := boolParam(query, "available")
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	books, err := h.bookService.ListBooks(r.Context(), book.ListBooksRequest{
		Title:     query.Get("title"),
		Available: available,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	results := make([]BookResponse, 0, len(books))
	for _, b := range books {
		results = append(results, bookToResponse(b))
	}
	responseJSON(w, http.StatusOK, results)
}

type BookResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Available bool      `json:"available"`
}

/*Copy the fields of a book object to an http layer struct with json tags*/
func bookToResponse(b book.Book) BookResponse {
	return BookResponse{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		Available: b.Available,
	}
}

// resourcePath splits "/prefix/{id}/" into the raw id. isItem is false for the collection itself.
func resourcePath(path, prefix string) (rawID string, isItem bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", false
	}
	return rest, true
}

/* Isolates the ID from the URL. */
func isolateId(rawID string) (uuid.UUID, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, book.ErrResponseIdInvalidFormat
	}
	return id, nil
}

func boolParam(query url.Values, key string) (*bool, error) {
	raw := query.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, book.ErrResponseQueryInvalid.WithDetail(" " + key + " must be true or false")
	}
	return &v, nil
}

func uuidParam(query url.Values, key string) (*uuid.UUID, error) {
	raw := query.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := uuid.Parse(raw)
	if err != nil {
		return nil, book.ErrResponseQueryInvalid.WithDetail(" " + key + " must be an id")
	}
	return &v, nil
}

/* Bounds every request to the configured timeout. */
func (h *BookHandler) withTimeout(timeout time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

/*Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		slog.Error("encoding response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}

/* Reads the whole body, refusing anything past MaxBodyBytes. */
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, book.ErrResponseEntryTooLarge
		}
		return nil, book.ErrResponseEntryInvalidJSON.WithDetail(err.Error())
	}
	return body, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, entry any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, entry); err != nil {
		return book.ErrResponseEntryInvalidJSON.WithDetail(err.Error())
	}
	return nil
}
