package book

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

type BorrowRecord struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	BorrowerID uuid.UUID
	BorrowDate time.Time
	ReturnDate *time.Time
	CreatedAt  time.Time
}

/* A record is open while the book has not been given back. */
func (r BorrowRecord) Open() bool {
	return r.ReturnDate == nil
}

type BorrowRequest struct {
	BookID     uuid.UUID
	BorrowerID uuid.UUID
}

type UpdateBorrowRecordRequest struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	BorrowerID uuid.UUID
	// ReturnDateSet reports whether return_date was part of the payload at all.
	ReturnDateSet bool
	ReturnDate    *time.Time
}

type ListBorrowRecordsRequest struct {
	BookID     *uuid.UUID
	BorrowerID *uuid.UUID
	Open       *bool
}

/* Truncates a timestamp to its calendar day in UTC. */
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) GetBorrowRecord(ctx context.Context, id uuid.UUID) (BorrowRecord, error) {
	return s.repo.GetBorrowRecordByID(ctx, id)
}

func (s *Service) ListBorrowRecords(ctx context.Context, req ListBorrowRecordsRequest) ([]BorrowRecord, error) {
	return s.repo.ListBorrowRecords(ctx, req)
}

/* Checks the book out to the borrower and opens a new borrow record. */
func (s *Service) BorrowBook(ctx context.Context, req BorrowRequest) (BorrowRecord, error) {
	if req.BookID == uuid.Nil || req.BorrowerID == uuid.Nil {
		return BorrowRecord{}, ErrResponseBorrowEntryBlankFields
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return BorrowRecord{}, err
	}
	defer tx.Rollback()

	borrower, err := txRepo.GetUserByID(ctx, req.BorrowerID)
	if err != nil {
		return BorrowRecord{}, referenceErr(err)
	}

	// The availability check and the flip happen as one compare-and-set.
	checkedOut, err := txRepo.CheckoutBook(ctx, req.BookID)
	if err != nil {
		return BorrowRecord{}, referenceErr(err)
	}

	now := s.now()
	created, err := txRepo.CreateBorrowRecord(ctx, BorrowRecord{
		ID:         uuid.New(),
		BookID:     req.BookID,
		BorrowerID: req.BorrowerID,
		BorrowDate: DateOf(now),
		CreatedAt:  now,
	})
	if err != nil {
		return BorrowRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return BorrowRecord{}, fmt.Errorf("committing borrow: %w", err)
	}

	s.logger.Info("book borrowed", "book_id", checkedOut.ID, "borrower_id", borrower.ID, "record_id", created.ID)
	s.notify("book_borrowed", func(ctx context.Context) error {
		return s.ntfy.BookBorrowed(ctx, checkedOut.Title, borrower.Username)
	})
	return created, nil
}

/*
Replaces book, borrower and return date of a record. Whenever the return date is part
of the request, whatever its value, the book the record pointed to becomes available again.
*/
func (s *Service) UpdateBorrowRecord(ctx context.Context, req UpdateBorrowRecordRequest) (BorrowRecord, error) {
	if req.BookID == uuid.Nil || req.BorrowerID == uuid.Nil {
		return BorrowRecord{}, ErrResponseBorrowEntryBlankFields
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return BorrowRecord{}, err
	}
	defer tx.Rollback()

	stored, err := txRepo.GetBorrowRecordByID(ctx, req.ID)
	if err != nil {
		return BorrowRecord{}, err
	}

	if req.BookID != stored.BookID {
		if _, err := txRepo.GetBookByID(ctx, req.BookID); err != nil {
			return BorrowRecord{}, referenceErr(err)
		}
	}
	if req.BorrowerID != stored.BorrowerID {
		if _, err := txRepo.GetUserByID(ctx, req.BorrowerID); err != nil {
			return BorrowRecord{}, referenceErr(err)
		}
	}

	var returned Book
	if req.ReturnDateSet {
		returned, err = txRepo.SetBookAvailability(ctx, stored.BookID, true)
		if err != nil {
			return BorrowRecord{}, err
		}
		stored.ReturnDate = nil
		if req.ReturnDate != nil {
			day := DateOf(*req.ReturnDate)
			stored.ReturnDate = &day
		}
	}
	stored.BookID = req.BookID
	stored.BorrowerID = req.BorrowerID

	updated, err := txRepo.UpdateBorrowRecord(ctx, stored)
	if err != nil {
		return BorrowRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return BorrowRecord{}, fmt.Errorf("committing borrow record update: %w", err)
	}

	if req.ReturnDateSet {
		s.logger.Info("book returned", "book_id", returned.ID, "record_id", updated.ID)
		s.notify("book_returned", func(ctx context.Context) error {
			return s.ntfy.BookReturned(ctx, returned.Title)
		})
	}
	return updated, nil
}

/* Removes the record. Only with RestoreOnDelete does an open record give its book back. */
func (s *Service) DeleteBorrowRecord(ctx context.Context, id uuid.UUID) error {
	if !s.restoreOnDelete {
		_, err := s.repo.DeleteBorrowRecord(ctx, id)
		return err
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	deleted, err := txRepo.DeleteBorrowRecord(ctx, id)
	if err != nil {
		return err
	}
	if deleted.Open() {
		if _, err := txRepo.SetBookAvailability(ctx, deleted.BookID, true); err != nil && !errors.Is(err, ErrResponseBookNotFound) {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing borrow record deletion: %w", err)
	}
	return nil
}

// referenceErr turns a missing referenced entity into a validation error of the request body.
func referenceErr(err error) error {
	switch {
	case errors.Is(err, ErrResponseBookNotFound):
		return ErrResponseReferencedBookNotFound
	case errors.Is(err, ErrResponseUserNotFound):
		return ErrResponseReferencedBorrowerNotFound
	default:
		return err
	}
}
