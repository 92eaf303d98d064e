package inmemory_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lending-service/cmd/api/book"
	"github.com/lending-service/cmd/api/inmemory"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

func newStore() *inmemory.InMemoryStore {
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}
	return store
}

func TestCreateBook(t *testing.T) {
	store := newStore()

	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A new book", true)

		newBook, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		compareBooks(is, newBook, b)
	})
}

func TestGetBookByID(t *testing.T) {
	store := newStore()

	t.Run("gets a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book to be fetched", true)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		compareBooks(is, fetched, b)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		fetched, err := store.GetBookByID(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
		compareBooks(is, fetched, book.Book{})
	})
}

func TestListBooks(t *testing.T) {
	store := newStore()

	first := newBook("Dune", true)
	second := newBook("Dune Messiah", false)
	third := newBook("Neuromancer", true)
	second.CreatedAt, third.CreatedAt = first.CreatedAt, first.CreatedAt
	for _, b := range []book.Book{first, second, third} {
		if _, err := store.CreateBook(ctx, b); err != nil {
			log.Fatalln(err)
		}
	}

	t.Run("lists all books in creation order", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{})
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.Equal(books[0].ID, first.ID)
		is.Equal(books[1].ID, second.ID)
		is.Equal(books[2].ID, third.ID)
	})

	t.Run("keeps insertion order among many books created in the same millisecond", func(t *testing.T) {
		is := is.New(t)
		store := newStore()

		now := time.Now().UTC().Round(time.Millisecond)
		var ids []uuid.UUID
		for i := 0; i < 50; i++ {
			b := newBook(fmt.Sprintf("Book %02d", i), true)
			b.CreatedAt, b.UpdatedAt = now, now
			_, err := store.CreateBook(ctx, b)
			is.NoErr(err)
			ids = append(ids, b.ID)
		}
		// updates must not move a book in the list
		_, err := store.SetBookAvailability(ctx, ids[0], false)
		is.NoErr(err)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{})
		is.NoErr(err)
		is.Equal(len(books), len(ids))
		for i, b := range books {
			is.Equal(b.ID, ids[i])
		}
	})

	t.Run("filters by title ignoring case", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx, book.ListBooksRequest{Title: "dune"})
		is.NoErr(err)
		is.Equal(len(books), 2)
	})

	t.Run("filters by availability", func(t *testing.T) {
		is := is.New(t)

		available := false
		books, err := store.ListBooks(ctx, book.ListBooksRequest{Available: &available})
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].ID, second.ID)
	})
}

func TestUpdateBook(t *testing.T) {
	store := newStore()

	t.Run("updates title and author keeping availability", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book to be updated", false)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		b.Title = "An updated book"
		b.Author = "Someone Else"
		b.Available = true //The store must ignore this field.
		b.UpdatedAt = b.UpdatedAt.Add(time.Minute)

		updated, err := store.UpdateBook(ctx, b)
		is.NoErr(err)
		is.Equal(updated.Title, "An updated book")
		is.Equal(updated.Author, "Someone Else")
		is.Equal(updated.Available, false)
		is.Equal(updated.UpdatedAt, b.UpdatedAt)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.UpdateBook(ctx, newBook("ghost", true))
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestCheckoutBook(t *testing.T) {
	store := newStore()

	t.Run("checks out an available book only once", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book to be borrowed", true)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		checkedOut, err := store.CheckoutBook(ctx, b.ID)
		is.NoErr(err)
		is.Equal(checkedOut.Available, false)

		_, err = store.CheckoutBook(ctx, b.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotAvailable))
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CheckoutBook(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})

	t.Run("concurrent checkouts of one book have a single winner", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A disputed book", true)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		const contenders = 20
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, losses := 0, 0
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.CheckoutBook(ctx, b.ID)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if errors.Is(err, book.ErrResponseBookNotAvailable) {
					losses++
				}
			}()
		}
		wg.Wait()

		is.Equal(wins, 1)
		is.Equal(losses, contenders-1)
	})
}

func TestSetBookAvailability(t *testing.T) {
	store := newStore()

	t.Run("sets the availability flag", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book to be returned", false)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		updated, err := store.SetBookAvailability(ctx, b.ID, true)
		is.NoErr(err)
		is.Equal(updated.Available, true)

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(fetched.Available, true)
	})
}

func TestDeleteBook(t *testing.T) {
	store := newStore()

	t.Run("deletes a book and its borrow records", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book to be deleted", true)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		r := newRecord(b.ID, uuid.New())
		_, err = store.CreateBorrowRecord(ctx, r)
		is.NoErr(err)

		err = store.DeleteBook(ctx, b.ID)
		is.NoErr(err)

		_, err = store.GetBookByID(ctx, b.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
		_, err = store.GetBorrowRecordByID(ctx, r.ID)
		is.True(errors.Is(err, book.ErrResponseBorrowRecordNotFound))

		books, err := store.ListBooks(ctx, book.ListBooksRequest{})
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("expected not found error", func(t *testing.T) {
		is := is.New(t)

		err := store.DeleteBook(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func TestBorrowRecords(t *testing.T) {
	store := newStore()
	bookID := uuid.New()
	borrowerID := uuid.New()

	t.Run("creates and gets a borrow record", func(t *testing.T) {
		is := is.New(t)

		r := newRecord(bookID, borrowerID)
		created, err := store.CreateBorrowRecord(ctx, r)
		is.NoErr(err)
		is.Equal(created, r)

		fetched, err := store.GetBorrowRecordByID(ctx, r.ID)
		is.NoErr(err)
		is.Equal(fetched, r)
		is.True(fetched.Open())
	})

	t.Run("updates the return date keeping the borrow date", func(t *testing.T) {
		is := is.New(t)

		r := newRecord(bookID, borrowerID)
		_, err := store.CreateBorrowRecord(ctx, r)
		is.NoErr(err)

		returnDate := time.Date(2024, 7, 23, 0, 0, 0, 0, time.UTC)
		changed := r
		changed.ReturnDate = &returnDate
		changed.BorrowDate = returnDate.AddDate(0, -1, 0) //The store must ignore this field.

		updated, err := store.UpdateBorrowRecord(ctx, changed)
		is.NoErr(err)
		is.Equal(*updated.ReturnDate, returnDate)
		is.Equal(updated.BorrowDate, r.BorrowDate)
		is.True(!updated.Open())

		returnDate = returnDate.AddDate(1, 0, 0) //Mutating the caller's value must not reach the store.
		fetched, err := store.GetBorrowRecordByID(ctx, r.ID)
		is.NoErr(err)
		is.Equal(*fetched.ReturnDate, time.Date(2024, 7, 23, 0, 0, 0, 0, time.UTC))
	})

	t.Run("lists borrow records with filters", func(t *testing.T) {
		is := is.New(t)

		all, err := store.ListBorrowRecords(ctx, book.ListBorrowRecordsRequest{})
		is.NoErr(err)
		is.Equal(len(all), 2)

		open := true
		openOnes, err := store.ListBorrowRecords(ctx, book.ListBorrowRecordsRequest{BookID: &bookID, Open: &open})
		is.NoErr(err)
		is.Equal(len(openOnes), 1)

		other := uuid.New()
		none, err := store.ListBorrowRecords(ctx, book.ListBorrowRecordsRequest{BorrowerID: &other})
		is.NoErr(err)
		is.Equal(len(none), 0)
	})

	t.Run("deletes a borrow record", func(t *testing.T) {
		is := is.New(t)

		r := newRecord(bookID, borrowerID)
		_, err := store.CreateBorrowRecord(ctx, r)
		is.NoErr(err)

		deleted, err := store.DeleteBorrowRecord(ctx, r.ID)
		is.NoErr(err)
		is.Equal(deleted.ID, r.ID)

		_, err = store.DeleteBorrowRecord(ctx, r.ID)
		is.True(errors.Is(err, book.ErrResponseBorrowRecordNotFound))
	})

	t.Run("expected not found error on update", func(t *testing.T) {
		is := is.New(t)

		_, err := store.UpdateBorrowRecord(ctx, newRecord(bookID, borrowerID))
		is.True(errors.Is(err, book.ErrResponseBorrowRecordNotFound))
	})
}

func TestListBorrowRecordsOrder(t *testing.T) {
	store := newStore()
	bookID := uuid.New()
	borrowerID := uuid.New()

	now := time.Now().UTC().Round(time.Millisecond)
	var ids []uuid.UUID
	for i := 0; i < 50; i++ {
		r := newRecord(bookID, borrowerID)
		r.CreatedAt = now
		if _, err := store.CreateBorrowRecord(ctx, r); err != nil {
			log.Fatalln(err)
		}
		ids = append(ids, r.ID)
	}

	for name, req := range map[string]book.ListBorrowRecordsRequest{
		"unfiltered":  {},
		"by book":     {BookID: &bookID},
		"by borrower": {BorrowerID: &borrowerID},
	} {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)

			records, err := store.ListBorrowRecords(ctx, req)
			is.NoErr(err)
			is.Equal(len(records), len(ids))
			for i, r := range records {
				is.Equal(r.ID, ids[i])
			}
		})
	}
}

func TestUsers(t *testing.T) {
	store := newStore()

	t.Run("creates a user and finds it by id and username", func(t *testing.T) {
		is := is.New(t)

		u := book.User{ID: uuid.New(), Username: "reader", PasswordHash: "hash", CreatedAt: time.Now().UTC().Round(time.Millisecond)}
		_, err := store.CreateUser(ctx, u)
		is.NoErr(err)

		byID, err := store.GetUserByID(ctx, u.ID)
		is.NoErr(err)
		is.Equal(byID, u)

		byName, err := store.GetUserByUsername(ctx, "reader")
		is.NoErr(err)
		is.Equal(byName, u)
	})

	t.Run("expected username taken error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CreateUser(ctx, book.User{ID: uuid.New(), Username: "reader"})
		is.True(errors.Is(err, book.ErrResponseUsernameTaken))
	})

	t.Run("expected user not found error", func(t *testing.T) {
		is := is.New(t)

		_, err := store.GetUserByID(ctx, uuid.New())
		is.True(errors.Is(err, book.ErrResponseUserNotFound))
	})
}

func TestBeginTx(t *testing.T) {
	store := newStore()

	t.Run("commits every write made inside the transaction", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A transactional book", true)
		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		_, err = txRepo.CreateBook(ctx, b)
		is.NoErr(err)
		_, err = txRepo.CheckoutBook(ctx, b.ID)
		is.NoErr(err)
		is.NoErr(tx.Commit())
		is.NoErr(tx.Rollback()) //Rolling back a committed transaction changes nothing.

		fetched, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(fetched.Available, false)
	})

	t.Run("rolls back every write made inside the transaction", func(t *testing.T) {
		is := is.New(t)

		b := newBook("A book that never was", true)
		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		_, err = txRepo.CreateBook(ctx, b)
		is.NoErr(err)
		is.NoErr(tx.Rollback())

		_, err = store.GetBookByID(ctx, b.ID)
		is.True(errors.Is(err, book.ErrResponseBookNotFound))
	})
}

func newBook(title string, available bool) book.Book {
	now := time.Now().UTC().Round(time.Millisecond)
	return book.Book{
		ID:        uuid.New(),
		Title:     title,
		Author:    "Test Author",
		Available: available,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newRecord(bookID, borrowerID uuid.UUID) book.BorrowRecord {
	now := time.Now().UTC().Round(time.Millisecond)
	return book.BorrowRecord{
		ID:         uuid.New(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		BorrowDate: book.DateOf(now),
		CreatedAt:  now,
	}
}

func compareBooks(is *is.I, got, want book.Book) {
	is.Helper()
	is.Equal(got.ID, want.ID)
	is.Equal(got.Title, want.Title)
	is.Equal(got.Author, want.Author)
	is.Equal(got.Available, want.Available)
	is.Equal(got.CreatedAt, want.CreatedAt)
	is.Equal(got.UpdatedAt, want.UpdatedAt)
}
