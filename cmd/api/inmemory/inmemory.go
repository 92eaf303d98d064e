package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/lending-service/cmd/api/book"
	"go.uber.org/atomic"
)

const (
	tableBook         = "book"
	tableBorrowRecord = "borrow_record"
	tableUser         = "user"
)

type InMemoryStore struct {
	db  *memdb.MemDB
	exc *memdb.Txn
	// seq numbers inserted rows, lists come back in that order.
	seq *atomic.Uint64
}

func NewInMemoryStore() (*InMemoryStore, error) {
	// Define the schema
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableBook: {
				Name: tableBook,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"seq": {
						Name:    "seq",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Seq"},
					},
				},
			},
			tableBorrowRecord: {
				Name: tableBorrowRecord,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"seq": {
						Name:    "seq",
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Seq"},
					},
					"book_id": {
						Name:    "book_id",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "BookID"},
					},
					"borrower_id": {
						Name:    "borrower_id",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "BorrowerID"},
					},
				},
			},
			tableUser: {
				Name: tableUser,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"username": {
						Name:    "username",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Username"},
					},
				},
			},
		},
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db, seq: atomic.NewUint64(0)}, nil
}

// -- Adapted rows --
// memdb indexes on strings, so ids are kept in their string form.

type AdaptedBook struct {
	ID        string
	Seq       uint64
	Title     string
	Author    string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func adaptBookIdToString(b book.Book) AdaptedBook {
	return AdaptedBook{
		ID:        b.ID.String(),
		Title:     b.Title,
		Author:    b.Author,
		Available: b.Available,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func adaptBookIdToUUID(adptBook AdaptedBook) book.Book {
	return book.Book{
		ID:        uuid.MustParse(adptBook.ID),
		Title:     adptBook.Title,
		Author:    adptBook.Author,
		Available: adptBook.Available,
		CreatedAt: adptBook.CreatedAt,
		UpdatedAt: adptBook.UpdatedAt,
	}
}

type AdaptedBorrowRecord struct {
	ID         string
	Seq        uint64
	BookID     string
	BorrowerID string
	BorrowDate time.Time
	ReturnDate *time.Time
	CreatedAt  time.Time
}

func adaptRecordIdToString(r book.BorrowRecord) AdaptedBorrowRecord {
	return AdaptedBorrowRecord{
		ID:         r.ID.String(),
		BookID:     r.BookID.String(),
		BorrowerID: r.BorrowerID.String(),
		BorrowDate: r.BorrowDate,
		ReturnDate: copyTime(r.ReturnDate),
		CreatedAt:  r.CreatedAt,
	}
}

func adaptRecordIdToUUID(r AdaptedBorrowRecord) book.BorrowRecord {
	return book.BorrowRecord{
		ID:         uuid.MustParse(r.ID),
		BookID:     uuid.MustParse(r.BookID),
		BorrowerID: uuid.MustParse(r.BorrowerID),
		BorrowDate: r.BorrowDate,
		ReturnDate: copyTime(r.ReturnDate),
		CreatedAt:  r.CreatedAt,
	}
}

// Stored objects must never share memory with the caller.
func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type AdaptedUser struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func adaptUserIdToString(u book.User) AdaptedUser {
	return AdaptedUser{
		ID:           u.ID.String(),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func adaptUserIdToUUID(u AdaptedUser) book.User {
	return book.User{
		ID:           uuid.MustParse(u.ID),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

// -- Books --

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	txn, done := store.txn(true)
	defer done()

	row := adaptBookIdToString(bookEntry)
	row.Seq = store.seq.Inc()
	if err := txn.Insert(tableBook, row); err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	raw, err := txn.First(tableBook, "id", bookEntry.ID.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", book.ErrResponseBookNotFound)
	}

	store.commit(txn)
	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func (store *InMemoryStore) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	txn, done := store.txn(false)
	defer done()

	raw, err := txn.First(tableBook, "id", id.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("searching book by ID: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("searching book by ID: %w", book.ErrResponseBookNotFound)
	}

	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func (store *InMemoryStore) ListBooks(ctx context.Context, req book.ListBooksRequest) ([]book.Book, error) {
	txn, done := store.txn(false)
	defer done()

	it, err := txn.Get(tableBook, "seq")
	if err != nil {
		return []book.Book{}, fmt.Errorf("listing books from db: %w", err)
	}

	title := strings.ToLower(req.Title)
	books := []book.Book{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b := obj.(AdaptedBook)
		if title != "" && !strings.Contains(strings.ToLower(b.Title), title) {
			continue
		}
		if req.Available != nil && b.Available != *req.Available {
			continue
		}
		books = append(books, adaptBookIdToUUID(b))
	}
	return books, nil
}

/* Replaces title and author. Availability is only changed through SetBookAvailability and CheckoutBook. */
func (store *InMemoryStore) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBook, "id", bookEntry.ID.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", book.ErrResponseBookNotFound)
	}

	updatedBook := raw.(AdaptedBook)
	updatedBook.Title = bookEntry.Title
	updatedBook.Author = bookEntry.Author
	//CreatedAt will not change
	updatedBook.UpdatedAt = bookEntry.UpdatedAt

	if err := txn.Insert(tableBook, updatedBook); err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToUUID(updatedBook), nil
}

func (store *InMemoryStore) SetBookAvailability(ctx context.Context, id uuid.UUID, available bool) (book.Book, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBook, "id", id.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("setting book availability on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("setting book availability on db: %w", book.ErrResponseBookNotFound)
	}

	updatedBook := raw.(AdaptedBook)
	updatedBook.Available = available
	updatedBook.UpdatedAt = time.Now().UTC().Round(time.Millisecond)

	if err := txn.Insert(tableBook, updatedBook); err != nil {
		return book.Book{}, fmt.Errorf("setting book availability on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToUUID(updatedBook), nil
}

/* Flips an available book to unavailable. memdb allows a single writer, so the check and the write cannot interleave with another checkout. */
func (store *InMemoryStore) CheckoutBook(ctx context.Context, id uuid.UUID) (book.Book, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBook, "id", id.String())
	if err != nil {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", err)
	}
	if raw == nil {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", book.ErrResponseBookNotFound)
	}

	checkedOut := raw.(AdaptedBook)
	if !checkedOut.Available {
		return book.Book{}, book.ErrResponseBookNotAvailable
	}
	checkedOut.Available = false
	checkedOut.UpdatedAt = time.Now().UTC().Round(time.Millisecond)

	if err := txn.Insert(tableBook, checkedOut); err != nil {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", err)
	}

	store.commit(txn)
	return adaptBookIdToUUID(checkedOut), nil
}

/* Deletes the book together with every borrow record pointing to it. */
func (store *InMemoryStore) DeleteBook(ctx context.Context, id uuid.UUID) error {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBook, "id", id.String())
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("deleting book from db: %w", book.ErrResponseBookNotFound)
	}

	if err := txn.Delete(tableBook, raw); err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	if _, err := txn.DeleteAll(tableBorrowRecord, "book_id", id.String()); err != nil {
		return fmt.Errorf("deleting borrow records of book from db: %w", err)
	}

	store.commit(txn)
	return nil
}

// -- Borrow records --

func (store *InMemoryStore) CreateBorrowRecord(ctx context.Context, record book.BorrowRecord) (book.BorrowRecord, error) {
	txn, done := store.txn(true)
	defer done()

	row := adaptRecordIdToString(record)
	row.Seq = store.seq.Inc()
	if err := txn.Insert(tableBorrowRecord, row); err != nil {
		return book.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", err)
	}

	store.commit(txn)
	return record, nil
}

func (store *InMemoryStore) GetBorrowRecordByID(ctx context.Context, id uuid.UUID) (book.BorrowRecord, error) {
	txn, done := store.txn(false)
	defer done()

	raw, err := txn.First(tableBorrowRecord, "id", id.String())
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("searching borrow record by ID: %w", err)
	}
	if raw == nil {
		return book.BorrowRecord{}, fmt.Errorf("searching borrow record by ID: %w", book.ErrResponseBorrowRecordNotFound)
	}

	return adaptRecordIdToUUID(raw.(AdaptedBorrowRecord)), nil
}

func (store *InMemoryStore) ListBorrowRecords(ctx context.Context, req book.ListBorrowRecordsRequest) ([]book.BorrowRecord, error) {
	txn, done := store.txn(false)
	defer done()

	var it memdb.ResultIterator
	var err error
	switch {
	case req.BookID != nil:
		it, err = txn.Get(tableBorrowRecord, "book_id", req.BookID.String())
	case req.BorrowerID != nil:
		it, err = txn.Get(tableBorrowRecord, "borrower_id", req.BorrowerID.String())
	default:
		it, err = txn.Get(tableBorrowRecord, "seq")
	}
	if err != nil {
		return []book.BorrowRecord{}, fmt.Errorf("listing borrow records from db: %w", err)
	}

	rows := []AdaptedBorrowRecord{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(AdaptedBorrowRecord)
		if req.BorrowerID != nil && r.BorrowerID != req.BorrowerID.String() {
			continue
		}
		if req.Open != nil && (r.ReturnDate == nil) != *req.Open {
			continue
		}
		rows = append(rows, r)
	}

	// the book_id and borrower_id indexes do not keep insertion order
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Seq < rows[j].Seq
	})
	records := make([]book.BorrowRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, adaptRecordIdToUUID(r))
	}
	return records, nil
}

/* Replaces book, borrower and return date. The borrow date and creation time are kept. */
func (store *InMemoryStore) UpdateBorrowRecord(ctx context.Context, record book.BorrowRecord) (book.BorrowRecord, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBorrowRecord, "id", record.ID.String())
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("updating borrow record on db: %w", err)
	}
	if raw == nil {
		return book.BorrowRecord{}, fmt.Errorf("updating borrow record on db: %w", book.ErrResponseBorrowRecordNotFound)
	}

	updated := raw.(AdaptedBorrowRecord)
	updated.BookID = record.BookID.String()
	updated.BorrowerID = record.BorrowerID.String()
	updated.ReturnDate = copyTime(record.ReturnDate)

	if err := txn.Insert(tableBorrowRecord, updated); err != nil {
		return book.BorrowRecord{}, fmt.Errorf("updating borrow record on db: %w", err)
	}

	store.commit(txn)
	return adaptRecordIdToUUID(updated), nil
}

/* Deletes the record and returns it as it was before deletion. */
func (store *InMemoryStore) DeleteBorrowRecord(ctx context.Context, id uuid.UUID) (book.BorrowRecord, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableBorrowRecord, "id", id.String())
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("deleting borrow record from db: %w", err)
	}
	if raw == nil {
		return book.BorrowRecord{}, fmt.Errorf("deleting borrow record from db: %w", book.ErrResponseBorrowRecordNotFound)
	}

	if err := txn.Delete(tableBorrowRecord, raw); err != nil {
		return book.BorrowRecord{}, fmt.Errorf("deleting borrow record from db: %w", err)
	}

	store.commit(txn)
	return adaptRecordIdToUUID(raw.(AdaptedBorrowRecord)), nil
}

// -- Users --

func (store *InMemoryStore) CreateUser(ctx context.Context, user book.User) (book.User, error) {
	txn, done := store.txn(true)
	defer done()

	raw, err := txn.First(tableUser, "username", user.Username)
	if err != nil {
		return book.User{}, fmt.Errorf("storing user on db: %w", err)
	}
	if raw != nil {
		return book.User{}, fmt.Errorf("storing user on db: %w", book.ErrResponseUsernameTaken)
	}

	if err := txn.Insert(tableUser, adaptUserIdToString(user)); err != nil {
		return book.User{}, fmt.Errorf("storing user on db: %w", err)
	}

	store.commit(txn)
	return user, nil
}

func (store *InMemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (book.User, error) {
	return store.firstUser("id", id.String())
}

func (store *InMemoryStore) GetUserByUsername(ctx context.Context, username string) (book.User, error) {
	return store.firstUser("username", username)
}

func (store *InMemoryStore) firstUser(index, value string) (book.User, error) {
	txn, done := store.txn(false)
	defer done()

	raw, err := txn.First(tableUser, index, value)
	if err != nil {
		return book.User{}, fmt.Errorf("searching user by %s: %w", index, err)
	}
	if raw == nil {
		return book.User{}, fmt.Errorf("searching user by %s: %w", index, book.ErrResponseUserNotFound)
	}

	return adaptUserIdToUUID(raw.(AdaptedUser)), nil
}

// -- Transactions --

/* Opens a write transaction shared by every call made through the returned repository. */
func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if store.exc != nil { //Already inside a larger transaction, the outer one decides.
		return store, noopTx{}, nil
	}

	txn := store.db.Txn(true)
	if txn == nil {
		return nil, nil, fmt.Errorf("failed to create transaction")
	}

	txWrapper := &TxWrapper{txn: txn}
	txStore := &InMemoryStore{
		db:  store.db,
		exc: txWrapper.txn,
		seq: store.seq,
	}

	return txStore, txWrapper, nil
}

type TxWrapper struct {
	txn *memdb.Txn
}

func (tx *TxWrapper) Commit() error {
	tx.txn.Commit()
	return nil
}

// Rollback after Commit is a no-op, memdb ignores Abort on a finished txn.
func (tx *TxWrapper) Rollback() error {
	tx.txn.Abort()
	return nil
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

// txn returns the enclosing transaction when there is one, or a new one owned by the caller.
func (store *InMemoryStore) txn(write bool) (*memdb.Txn, func()) {
	if store.exc != nil { //It means this method is being called inside a larger transaction.
		return store.exc, func() {}
	}
	txn := store.db.Txn(write)
	return txn, txn.Abort
}

// commit only finishes transactions the store owns.
func (store *InMemoryStore) commit(txn *memdb.Txn) {
	if store.exc == nil {
		txn.Commit()
	}
}
