package book_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lending-service/cmd/api/book"
	bookmock "github.com/lending-service/cmd/api/book/mocks"
	"github.com/matryer/is"
	gomock "go.uber.org/mock/gomock"
)

func TestBorrowBook(t *testing.T) {

	t.Run("checks the book out and opens a record", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mockNtfy := bookmock.NewMockNotifier(ctrl)
		mS := book.NewService(mockRepo, mockNtfy, serviceConfig)

		borrower := book.User{ID: uuid.New(), Username: "reader"}
		b := book.Book{ID: uuid.New(), Title: "Dune", Author: "Frank Herbert"}

		tx := expectTx(mockRepo)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), borrower.ID).Return(borrower, nil)
		mockRepo.EXPECT().CheckoutBook(gomock.Any(), b.ID).Return(b, nil)
		mockRepo.EXPECT().CreateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, r book.BorrowRecord) (book.BorrowRecord, error) {
			is.True(r.ID != uuid.Nil)
			is.Equal(r.BookID, b.ID)
			is.Equal(r.BorrowerID, borrower.ID)
			is.Equal(r.BorrowDate, book.DateOf(time.Now()))
			is.True(r.Open())
			return r, nil
		})
		mockNtfy.EXPECT().BookBorrowed(gomock.Any(), b.Title, borrower.Username).Return(nil)

		record, err := mS.BorrowBook(ctx, book.BorrowRequest{BookID: b.ID, BorrowerID: borrower.ID})
		mS.Close()
		is.NoErr(err)
		is.Equal(record.BookID, b.ID)
		is.True(record.ReturnDate == nil)
		is.True(tx.committed)
	})

	t.Run("book already borrowed", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mockNtfy := bookmock.NewMockNotifier(ctrl)
		mS := book.NewService(mockRepo, mockNtfy, serviceConfig)

		borrower := book.User{ID: uuid.New(), Username: "reader"}

		tx := expectTx(mockRepo)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), borrower.ID).Return(borrower, nil)
		mockRepo.EXPECT().CheckoutBook(gomock.Any(), gomock.Any()).Return(book.Book{}, book.ErrResponseBookNotAvailable)

		_, err := mS.BorrowBook(ctx, book.BorrowRequest{BookID: uuid.New(), BorrowerID: borrower.ID})
		mS.Close()
		is.True(errors.Is(err, book.ErrResponseBookNotAvailable))
		is.Equal(err.Error(), "Book is not available.")
		is.True(tx.rolledBack)
	})

	t.Run("missing references are request errors", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		expectTx(mockRepo)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), gomock.Any()).Return(book.User{}, book.ErrResponseUserNotFound)
		_, err := mS.BorrowBook(ctx, book.BorrowRequest{BookID: uuid.New(), BorrowerID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseReferencedBorrowerNotFound))

		expectTx(mockRepo)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), gomock.Any()).Return(book.User{ID: uuid.New()}, nil)
		mockRepo.EXPECT().CheckoutBook(gomock.Any(), gomock.Any()).Return(book.Book{}, book.ErrResponseBookNotFound)
		_, err = mS.BorrowBook(ctx, book.BorrowRequest{BookID: uuid.New(), BorrowerID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseReferencedBookNotFound))
	})

	t.Run("blank fields", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		_, err := mS.BorrowBook(ctx, book.BorrowRequest{BookID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseBorrowEntryBlankFields))
	})

	t.Run("a failing notification does not fail the borrow", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mockNtfy := bookmock.NewMockNotifier(ctrl)
		mS := book.NewService(mockRepo, mockNtfy, serviceConfig)

		expectTx(mockRepo)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), gomock.Any()).Return(book.User{ID: uuid.New()}, nil)
		mockRepo.EXPECT().CheckoutBook(gomock.Any(), gomock.Any()).Return(book.Book{ID: uuid.New()}, nil)
		mockRepo.EXPECT().CreateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, r book.BorrowRecord) (book.BorrowRecord, error) {
			return r, nil
		})
		mockNtfy.EXPECT().BookBorrowed(gomock.Any(), gomock.Any(), gomock.Any()).Return(book.NewErrNotificationFailed(500))

		_, err := mS.BorrowBook(ctx, book.BorrowRequest{BookID: uuid.New(), BorrowerID: uuid.New()})
		mS.Close()
		is.NoErr(err)
	})
}

func TestUpdateBorrowRecord(t *testing.T) {
	newStored := func() book.BorrowRecord {
		return book.BorrowRecord{
			ID:         uuid.New(),
			BookID:     uuid.New(),
			BorrowerID: uuid.New(),
			BorrowDate: book.DateOf(time.Now()),
			CreatedAt:  time.Now().UTC(),
		}
	}
	echo := func(ctx context.Context, r book.BorrowRecord) (book.BorrowRecord, error) {
		return r, nil
	}

	t.Run("a return date gives the book back", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mockNtfy := bookmock.NewMockNotifier(ctrl)
		mS := book.NewService(mockRepo, mockNtfy, serviceConfig)

		stored := newStored()
		returnDate := time.Date(2024, 7, 23, 0, 0, 0, 0, time.UTC)

		tx := expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().SetBookAvailability(gomock.Any(), stored.BookID, true).Return(book.Book{ID: stored.BookID, Title: "Dune", Available: true}, nil)
		mockRepo.EXPECT().UpdateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(echo)
		mockNtfy.EXPECT().BookReturned(gomock.Any(), "Dune").Return(nil)

		updated, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{
			ID:            stored.ID,
			BookID:        stored.BookID,
			BorrowerID:    stored.BorrowerID,
			ReturnDateSet: true,
			ReturnDate:    &returnDate,
		})
		mS.Close()
		is.NoErr(err)
		is.Equal(*updated.ReturnDate, returnDate)
		is.Equal(updated.BorrowDate, stored.BorrowDate)
		is.True(tx.committed)
	})

	t.Run("a null return date still gives the book back", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		stored := newStored()
		closedOn := book.DateOf(time.Now())
		stored.ReturnDate = &closedOn

		expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().SetBookAvailability(gomock.Any(), stored.BookID, true).Return(book.Book{ID: stored.BookID, Available: true}, nil)
		mockRepo.EXPECT().UpdateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(echo)

		updated, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{
			ID:            stored.ID,
			BookID:        stored.BookID,
			BorrowerID:    stored.BorrowerID,
			ReturnDateSet: true,
		})
		is.NoErr(err)
		is.True(updated.Open())
	})

	t.Run("without a return date the book is left alone", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		stored := newStored()
		newBorrower := uuid.New()

		expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().GetUserByID(gomock.Any(), newBorrower).Return(book.User{ID: newBorrower}, nil)
		mockRepo.EXPECT().UpdateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(echo)

		updated, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{
			ID:         stored.ID,
			BookID:     stored.BookID,
			BorrowerID: newBorrower,
		})
		is.NoErr(err)
		is.Equal(updated.BorrowerID, newBorrower)
		is.True(updated.Open())
	})

	t.Run("returning while moving to another book frees the previous one", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		stored := newStored()
		otherBook := uuid.New()

		expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().GetBookByID(gomock.Any(), otherBook).Return(book.Book{ID: otherBook}, nil)
		mockRepo.EXPECT().SetBookAvailability(gomock.Any(), stored.BookID, true).Return(book.Book{ID: stored.BookID, Available: true}, nil)
		mockRepo.EXPECT().UpdateBorrowRecord(gomock.Any(), gomock.Any()).DoAndReturn(echo)

		updated, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{
			ID:            stored.ID,
			BookID:        otherBook,
			BorrowerID:    stored.BorrowerID,
			ReturnDateSet: true,
		})
		is.NoErr(err)
		is.Equal(updated.BookID, otherBook)
	})

	t.Run("record not found", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		tx := expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), gomock.Any()).Return(book.BorrowRecord{}, book.ErrResponseBorrowRecordNotFound)

		_, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{ID: uuid.New(), BookID: uuid.New(), BorrowerID: uuid.New()})
		is.True(errors.Is(err, book.ErrResponseBorrowRecordNotFound))
		is.True(tx.rolledBack)
	})

	t.Run("unknown new book", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		stored := newStored()

		expectTx(mockRepo)
		mockRepo.EXPECT().GetBorrowRecordByID(gomock.Any(), stored.ID).Return(stored, nil)
		mockRepo.EXPECT().GetBookByID(gomock.Any(), gomock.Any()).Return(book.Book{}, book.ErrResponseBookNotFound)

		_, err := mS.UpdateBorrowRecord(ctx, book.UpdateBorrowRecordRequest{ID: stored.ID, BookID: uuid.New(), BorrowerID: stored.BorrowerID})
		is.True(errors.Is(err, book.ErrResponseReferencedBookNotFound))
	})
}

func TestDeleteBorrowRecord(t *testing.T) {
	t.Run("leaves the book as it was by default", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		id := uuid.New()
		mockRepo.EXPECT().DeleteBorrowRecord(gomock.Any(), id).Return(book.BorrowRecord{ID: id, BookID: uuid.New()}, nil)

		is.NoErr(mS.DeleteBorrowRecord(ctx, id))
	})

	t.Run("restores an open record's book when configured", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, book.ServiceConfig{RestoreOnDelete: true})

		deleted := book.BorrowRecord{ID: uuid.New(), BookID: uuid.New()}
		tx := expectTx(mockRepo)
		mockRepo.EXPECT().DeleteBorrowRecord(gomock.Any(), deleted.ID).Return(deleted, nil)
		mockRepo.EXPECT().SetBookAvailability(gomock.Any(), deleted.BookID, true).Return(book.Book{ID: deleted.BookID, Available: true}, nil)

		is.NoErr(mS.DeleteBorrowRecord(ctx, deleted.ID))
		is.True(tx.committed)
	})

	t.Run("a closed record restores nothing", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, book.ServiceConfig{RestoreOnDelete: true})

		returned := book.DateOf(time.Now())
		deleted := book.BorrowRecord{ID: uuid.New(), BookID: uuid.New(), ReturnDate: &returned}
		expectTx(mockRepo)
		mockRepo.EXPECT().DeleteBorrowRecord(gomock.Any(), deleted.ID).Return(deleted, nil)

		is.NoErr(mS.DeleteBorrowRecord(ctx, deleted.ID))
	})

	t.Run("not found", func(t *testing.T) {
		is := is.New(t)
		ctrl := gomock.NewController(t)
		mockRepo := bookmock.NewMockRepository(ctrl)
		mS := book.NewService(mockRepo, nil, serviceConfig)

		mockRepo.EXPECT().DeleteBorrowRecord(gomock.Any(), gomock.Any()).Return(book.BorrowRecord{}, book.ErrResponseBorrowRecordNotFound)

		err := mS.DeleteBorrowRecord(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBorrowRecordNotFound))
	})
}
