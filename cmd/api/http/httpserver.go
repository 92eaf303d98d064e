package http

import (
	"fmt"
	"net/http"
	"time"
)

const DefaultRequestTimeout = 5 * time.Second

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
}

func NewServer(config ServerConfig, h *BookHandler) *http.Server {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", ping)
	mux.HandleFunc("/token/", h.withTimeout(timeout, h.token))
	mux.HandleFunc("/books", h.withTimeout(timeout, h.requireAuth(h.books)))
	mux.HandleFunc("/books/", h.withTimeout(timeout, h.requireAuth(h.books)))
	mux.HandleFunc("/borrow-records", h.withTimeout(timeout, h.requireAuth(h.borrowRecords)))
	mux.HandleFunc("/borrow-records/", h.withTimeout(timeout, h.requireAuth(h.borrowRecords)))

	server := http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &server
}

/* Tests the http server connection.  */
func ping(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}
