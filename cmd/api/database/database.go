package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lending-service/cmd/api/book"
	"github.com/lib/pq"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	dialect = "postgres"

	tableBooks         = "books"
	tableBorrowRecords = "borrow_records"

	pqUniqueViolation = "23505"
)

var bookColumns = []any{"id", "title", "author", "available", "created_at", "updated_at"}
var recordColumns = []any{"id", "book_id", "borrower_id", "borrow_date", "return_date", "created_at"}

type Store struct {
	db   *sqlx.DB
	exc  sqlx.ExtContext
	inTx bool
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		exc: db,
	}
}

/* Opens a transaction shared by every call made through the returned repository. */
func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (book.Repository, driver.Tx, error) {
	if store.inTx { //Already inside a larger transaction, the outer one decides.
		return store, noopTx{}, nil
	}

	tx, err := store.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}

	txRepo := &Store{db: store.db, exc: tx, inTx: true}
	return txRepo, tx, nil
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

/* Connects to the database trought a connection string and returns a pointer to a valid DB object. */
func ConnectDb(ctx context.Context, connStr string) (*sqlx.DB, error) {
	sqlDB, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, openning: %w", err)
	}

	err = sqlDB.PingContext(ctx)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to db, pingging: %w", err)
	}

	return sqlDB, nil
}

func MigrationUp(store *Store, path string) error {
	driver, err := postgres.WithInstance(store.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", path),
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	err = m.Up()
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

// -- Rows --

type bookRow struct {
	ID        uuid.UUID `db:"id"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	Available bool      `db:"available"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r bookRow) toBook() book.Book {
	return book.Book{
		ID:        r.ID,
		Title:     r.Title,
		Author:    r.Author,
		Available: r.Available,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type recordRow struct {
	ID         uuid.UUID  `db:"id"`
	BookID     uuid.UUID  `db:"book_id"`
	BorrowerID uuid.UUID  `db:"borrower_id"`
	BorrowDate time.Time  `db:"borrow_date"`
	ReturnDate *time.Time `db:"return_date"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (r recordRow) toRecord() book.BorrowRecord {
	record := book.BorrowRecord{
		ID:         r.ID,
		BookID:     r.BookID,
		BorrowerID: r.BorrowerID,
		BorrowDate: book.DateOf(r.BorrowDate),
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.ReturnDate != nil {
		day := book.DateOf(*r.ReturnDate)
		record.ReturnDate = &day
	}
	return record
}

type userRow struct {
	ID           uuid.UUID `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r userRow) toUser() book.User {
	return book.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// -- Books --

/* Stores the book into the database, checks and returns it if succeed. */
func (store *Store) CreateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	INSERT INTO books (id, title, author, available, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, title, author, available, created_at, updated_at`
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Author, bookEntry.Available, bookEntry.CreatedAt, bookEntry.UpdatedAt)
	if err != nil {
		return book.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	return row.toBook(), nil
}

/* Searches a book in database based on ID and returns it if succeed. */
func (store *Store) GetBookByID(ctx context.Context, id uuid.UUID) (book.Book, error) {
	sqlStatement := `SELECT id, title, author, available, created_at, updated_at
	FROM books
	WHERE id=$1;`
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id)
	if err != nil {
		return book.Book{}, fmt.Errorf("searching book by ID: %w", notFound(err, book.ErrResponseBookNotFound))
	}

	return row.toBook(), nil
}

/* Returns the books matching the optional filters, in creation order. */
func (store *Store) ListBooks(ctx context.Context, req book.ListBooksRequest) ([]book.Book, error) {
	ds := goqu.Dialect(dialect).
		From(tableBooks).
		Select(bookColumns...).
		Order(goqu.I("seq").Asc()).
		Prepared(true)
	if req.Title != "" {
		ds = ds.Where(goqu.I("title").ILike("%" + escapeLike(req.Title) + "%"))
	}
	if req.Available != nil {
		ds = ds.Where(goqu.Ex{"available": *req.Available})
	}

	sqlStatement, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building books list query: %w", err)
	}

	rows := []bookRow{}
	if err := sqlx.SelectContext(ctx, store.exc, &rows, sqlStatement, args...); err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}

	books := make([]book.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toBook())
	}
	return books, nil
}

/* Replaces title and author. Availability is only changed through SetBookAvailability and CheckoutBook. */
func (store *Store) UpdateBook(ctx context.Context, bookEntry book.Book) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET title = $2, author = $3, updated_at = $4
	WHERE id = $1
	RETURNING id, title, author, available, created_at, updated_at`
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Author, bookEntry.UpdatedAt)
	if err != nil {
		return book.Book{}, fmt.Errorf("updating book on db: %w", notFound(err, book.ErrResponseBookNotFound))
	}

	return row.toBook(), nil
}

func (store *Store) SetBookAvailability(ctx context.Context, id uuid.UUID, available bool) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET available = $2, updated_at = $3
	WHERE id = $1
	RETURNING id, title, author, available, created_at, updated_at`
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id, available, time.Now().UTC().Round(time.Millisecond))
	if err != nil {
		return book.Book{}, fmt.Errorf("setting book availability on db: %w", notFound(err, book.ErrResponseBookNotFound))
	}

	return row.toBook(), nil
}

/* Flips an available book to unavailable in a single conditional UPDATE, two concurrent checkouts cannot both match. */
func (store *Store) CheckoutBook(ctx context.Context, id uuid.UUID) (book.Book, error) {
	sqlStatement := `
	UPDATE books
	SET available = FALSE, updated_at = $2
	WHERE id = $1 AND available
	RETURNING id, title, author, available, created_at, updated_at`
	var row bookRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id, time.Now().UTC().Round(time.Millisecond))
	if err == nil {
		return row.toBook(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", err)
	}

	var exists bool
	err = sqlx.GetContext(ctx, store.exc, &exists, `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1);`, id)
	if err != nil {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", err)
	}
	if !exists {
		return book.Book{}, fmt.Errorf("checking out book on db: %w", book.ErrResponseBookNotFound)
	}
	return book.Book{}, book.ErrResponseBookNotAvailable
}

/* Deletes the book. Its borrow records are removed by the ON DELETE CASCADE constraint. */
func (store *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	result, err := store.exc.ExecContext(ctx, `DELETE FROM books WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting book from db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("deleting book from db: %w", book.ErrResponseBookNotFound)
	}
	return nil
}

// -- Borrow records --

func (store *Store) CreateBorrowRecord(ctx context.Context, record book.BorrowRecord) (book.BorrowRecord, error) {
	sqlStatement := `
	INSERT INTO borrow_records (id, book_id, borrower_id, borrow_date, return_date, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, book_id, borrower_id, borrow_date, return_date, created_at`
	var row recordRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, record.ID, record.BookID, record.BorrowerID, record.BorrowDate, record.ReturnDate, record.CreatedAt)
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", err)
	}

	return row.toRecord(), nil
}

func (store *Store) GetBorrowRecordByID(ctx context.Context, id uuid.UUID) (book.BorrowRecord, error) {
	sqlStatement := `SELECT id, book_id, borrower_id, borrow_date, return_date, created_at
	FROM borrow_records
	WHERE id=$1;`
	var row recordRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id)
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("searching borrow record by ID: %w", notFound(err, book.ErrResponseBorrowRecordNotFound))
	}

	return row.toRecord(), nil
}

func (store *Store) ListBorrowRecords(ctx context.Context, req book.ListBorrowRecordsRequest) ([]book.BorrowRecord, error) {
	ds := goqu.Dialect(dialect).
		From(tableBorrowRecords).
		Select(recordColumns...).
		Order(goqu.I("seq").Asc()).
		Prepared(true)
	if req.BookID != nil {
		ds = ds.Where(goqu.Ex{"book_id": *req.BookID})
	}
	if req.BorrowerID != nil {
		ds = ds.Where(goqu.Ex{"borrower_id": *req.BorrowerID})
	}
	if req.Open != nil {
		if *req.Open {
			ds = ds.Where(goqu.I("return_date").IsNull())
		} else {
			ds = ds.Where(goqu.I("return_date").IsNotNull())
		}
	}

	sqlStatement, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building borrow records list query: %w", err)
	}

	rows := []recordRow{}
	if err := sqlx.SelectContext(ctx, store.exc, &rows, sqlStatement, args...); err != nil {
		return nil, fmt.Errorf("listing borrow records from db: %w", err)
	}

	records := make([]book.BorrowRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.toRecord())
	}
	return records, nil
}

/* Replaces book, borrower and return date. The borrow date and creation time are kept. */
func (store *Store) UpdateBorrowRecord(ctx context.Context, record book.BorrowRecord) (book.BorrowRecord, error) {
	sqlStatement := `
	UPDATE borrow_records
	SET book_id = $2, borrower_id = $3, return_date = $4
	WHERE id = $1
	RETURNING id, book_id, borrower_id, borrow_date, return_date, created_at`
	var row recordRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, record.ID, record.BookID, record.BorrowerID, record.ReturnDate)
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("updating borrow record on db: %w", notFound(err, book.ErrResponseBorrowRecordNotFound))
	}

	return row.toRecord(), nil
}

/* Deletes the record and returns it as it was before deletion. */
func (store *Store) DeleteBorrowRecord(ctx context.Context, id uuid.UUID) (book.BorrowRecord, error) {
	sqlStatement := `
	DELETE FROM borrow_records
	WHERE id = $1
	RETURNING id, book_id, borrower_id, borrow_date, return_date, created_at`
	var row recordRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id)
	if err != nil {
		return book.BorrowRecord{}, fmt.Errorf("deleting borrow record from db: %w", notFound(err, book.ErrResponseBorrowRecordNotFound))
	}

	return row.toRecord(), nil
}

// -- Users --

func (store *Store) CreateUser(ctx context.Context, user book.User) (book.User, error) {
	sqlStatement := `
	INSERT INTO users (id, username, password_hash, created_at)
	VALUES ($1, $2, $3, $4)
	RETURNING id, username, password_hash, created_at`
	var row userRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return book.User{}, fmt.Errorf("storing user on db: %w", book.ErrResponseUsernameTaken)
		}
		return book.User{}, fmt.Errorf("storing user on db: %w", err)
	}

	return row.toUser(), nil
}

func (store *Store) GetUserByID(ctx context.Context, id uuid.UUID) (book.User, error) {
	sqlStatement := `SELECT id, username, password_hash, created_at FROM users WHERE id=$1;`
	var row userRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, id)
	if err != nil {
		return book.User{}, fmt.Errorf("searching user by ID: %w", notFound(err, book.ErrResponseUserNotFound))
	}
	return row.toUser(), nil
}

func (store *Store) GetUserByUsername(ctx context.Context, username string) (book.User, error) {
	sqlStatement := `SELECT id, username, password_hash, created_at FROM users WHERE username=$1;`
	var row userRow
	err := sqlx.GetContext(ctx, store.exc, &row, sqlStatement, username)
	if err != nil {
		return book.User{}, fmt.Errorf("searching user by username: %w", notFound(err, book.ErrResponseUserNotFound))
	}
	return row.toUser(), nil
}

// notFound swaps sql.ErrNoRows for the domain sentinel and leaves any other error untouched.
func notFound(err error, sentinel book.ErrResponse) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
