package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lending-service/cmd/api/book"
)

/* Addresses a call to "/borrow-records/" or "/borrow-records/(expected id here)/" according to the requested action.  */
func (h *BookHandler) borrowRecords(w http.ResponseWriter, r *http.Request) {
	rawID, isItem := resourcePath(r.URL.Path, "/borrow-records")
	method := r.Method
	if !isItem {
		switch method {
		case http.MethodGet:
			h.listBorrowRecords(w, r)
		case http.MethodPost:
			h.borrowBook(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch method {
	case http.MethodGet:
		h.getBorrowRecordById(w, r, rawID)
	case http.MethodPut:
		h.updateBorrowRecord(w, r, rawID)
	case http.MethodDelete:
		h.deleteBorrowRecord(w, r, rawID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type BorrowRecordEntry struct {
	Book       uuid.UUID `json:"book"`
	Borrower   uuid.UUID `json:"borrower"`
	ReturnDate *string   `json:"return_date"`
}

/* Borrows the book, answering 400 when it is already checked out. */
func (h *BookHandler) borrowBook(w http.ResponseWriter, r *http.Request) {
	var entry BorrowRecordEntry
	if err := decodeBody(w, r, &entry); err != nil {
		h.handleError(w, r, err)
		return
	}

	record, err := h.bookService.BorrowBook(r.Context(), book.BorrowRequest{
		BookID:     entry.Book,
		BorrowerID: entry.Borrower,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusCreated, recordToResponse(record))
}

/*
Replaces the record. Only the presence of return_date in the body matters for the book's
availability, so the body is also read as a raw map to tell "null" from "absent".
*/
func (h *BookHandler) updateBorrowRecord(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var entry BorrowRecordEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		h.handleError(w, r, book.ErrResponseEntryInvalidJSON.WithDetail(err.Error()))
		return
	}
	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		h.handleError(w, r, book.ErrResponseEntryInvalidJSON.WithDetail(err.Error()))
		return
	}

	req := book.UpdateBorrowRecordRequest{
		ID:         id,
		BookID:     entry.Book,
		BorrowerID: entry.Borrower,
	}
	if _, ok := fields["return_date"]; ok {
		req.ReturnDateSet = true
		if entry.ReturnDate != nil {
			returnDate, err := time.Parse(book.DateLayout, *entry.ReturnDate)
			if err != nil {
				h.handleError(w, r, book.ErrResponseDateInvalidFormat)
				return
			}
			req.ReturnDate = &returnDate
		}
	}

	updated, err := h.bookService.UpdateBorrowRecord(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, recordToResponse(updated))
}

func (h *BookHandler) getBorrowRecordById(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	record, err := h.bookService.GetBorrowRecord(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	responseJSON(w, http.StatusOK, recordToResponse(record))
}

func (h *BookHandler) deleteBorrowRecord(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := isolateId(rawID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.bookService.DeleteBorrowRecord(r.Context(), id); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BookHandler) listBorrowRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	bookID, err := uuidParam(query, "book")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	borrowerID, err := uuidParam(query, "borrower")
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	open, err := boolParam(query, "open")
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	records, err := h.bookService.ListBorrowRecords(r.Context(), book.ListBorrowRecordsRequest{
		BookID:     bookID,
		BorrowerID: borrowerID,
		Open:       open,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	results := make([]BorrowRecordResponse, 0, len(records))
	for _, record := range records {
		results = append(results, recordToResponse(record))
	}
	responseJSON(w, http.StatusOK, results)
}

type BorrowRecordResponse struct {
	ID         uuid.UUID `json:"id"`
	Book       uuid.UUID `json:"book"`
	Borrower   uuid.UUID `json:"borrower"`
	BorrowDate string    `json:"borrow_date"`
	ReturnDate *string   `json:"return_date"`
}

/*Copy the fields of a borrow record to an http layer struct with json tags*/
func recordToResponse(record book.BorrowRecord) BorrowRecordResponse {
	response := BorrowRecordResponse{
		ID:         record.ID,
		Book:       record.BookID,
		Borrower:   record.BorrowerID,
		BorrowDate: record.BorrowDate.Format(book.DateLayout),
	}
	if record.ReturnDate != nil {
		returnDate := record.ReturnDate.Format(book.DateLayout)
		response.ReturnDate = &returnDate
	}
	return response
}
