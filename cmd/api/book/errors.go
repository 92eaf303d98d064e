package book

import (
	"fmt"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

// Is matches on the code so that an ErrResponse carrying extra detail in its
// message still satisfies errors.Is against the sentinel it was built from.
func (e ErrResponse) Is(target error) bool {
	t, ok := target.(ErrResponse)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

/* Returns a copy of the sentinel with the detail appended to its message. */
func (e ErrResponse) WithDetail(detail string) ErrResponse {
	return ErrResponse{Code: e.Code, Message: e.Message + detail}
}

var ErrResponseBookEntryBlankFields = ErrResponse{100, "all the fields - title and author - must be filled correctly."}
var ErrResponseBookNotFound = ErrResponse{101, "book not found"}
var ErrResponseEntryInvalidJSON = ErrResponse{102, "invalid json request."}
var ErrResponseIdInvalidFormat = ErrResponse{103, "the endpoint is not a valid format ID."}
var ErrResponseBookNotAvailable = ErrResponse{104, "Book is not available."}
var ErrResponseBorrowRecordNotFound = ErrResponse{105, "borrow record not found"}
var ErrResponseBorrowEntryBlankFields = ErrResponse{106, "all the fields - book and borrower - must be filled correctly."}
var ErrResponseReferencedBookNotFound = ErrResponse{107, "referenced book does not exist."}
var ErrResponseReferencedBorrowerNotFound = ErrResponse{108, "referenced borrower does not exist."}
var ErrResponseRequestTimeout = ErrResponse{109, "context deadline exceeded"}
var ErrResponseDateInvalidFormat = ErrResponse{110, "dates must be formatted as YYYY-MM-DD."}
var ErrResponseBookEntryTooLong = ErrResponse{111, "title must have at most 200 characters and author at most 100."}
var ErrResponseQueryInvalid = ErrResponse{112, "invalid query parameter."}
var ErrResponseEntryTooLarge = ErrResponse{113, "request body must have at most 1 MiB."}
var ErrResponseCredentialsNotProvided = ErrResponse{120, "authentication credentials were not provided."}
var ErrResponseTokenInvalid = ErrResponse{121, "given token not valid."}
var ErrResponseLoginFailed = ErrResponse{122, "no active account found with the given credentials."}
var ErrResponseUsernameTaken = ErrResponse{123, "username already taken."}
var ErrResponseUserNotFound = ErrResponse{124, "user not found"}
var ErrResponseUserEntryBlankFields = ErrResponse{125, "all the fields - username and password - must be filled correctly."}
var ErrResponseInternal = ErrResponse{199, "internal server error"}

type ErrNotificationFailed struct {
	statusCode int
}

func (e ErrNotificationFailed) Error() string {
	return fmt.Sprintf("ntfy wrong response - want: 200 OK, got: %d", e.statusCode)
}

func NewErrNotificationFailed(statusCode int) ErrNotificationFailed {
	return ErrNotificationFailed{statusCode: statusCode}
}
