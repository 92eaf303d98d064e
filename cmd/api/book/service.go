package book

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=mocks/service.go -package=mocks

type ServiceAPI interface {
	ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error)
	CreateBook(ctx context.Context, req CreateBookRequest) (Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error

	ListBorrowRecords(ctx context.Context, req ListBorrowRecordsRequest) ([]BorrowRecord, error)
	BorrowBook(ctx context.Context, req BorrowRequest) (BorrowRecord, error)
	GetBorrowRecord(ctx context.Context, id uuid.UUID) (BorrowRecord, error)
	UpdateBorrowRecord(ctx context.Context, req UpdateBorrowRecordRequest) (BorrowRecord, error)
	DeleteBorrowRecord(ctx context.Context, id uuid.UUID) error
}

type Repository interface {
	CreateBook(ctx context.Context, bookEntry Book) (Book, error)
	GetBookByID(ctx context.Context, id uuid.UUID) (Book, error)
	ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error)
	UpdateBook(ctx context.Context, bookEntry Book) (Book, error)
	SetBookAvailability(ctx context.Context, id uuid.UUID, available bool) (Book, error)
	CheckoutBook(ctx context.Context, id uuid.UUID) (Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error

	CreateBorrowRecord(ctx context.Context, record BorrowRecord) (BorrowRecord, error)
	GetBorrowRecordByID(ctx context.Context, id uuid.UUID) (BorrowRecord, error)
	ListBorrowRecords(ctx context.Context, req ListBorrowRecordsRequest) ([]BorrowRecord, error)
	UpdateBorrowRecord(ctx context.Context, record BorrowRecord) (BorrowRecord, error)
	DeleteBorrowRecord(ctx context.Context, id uuid.UUID) (BorrowRecord, error)

	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)

	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)
}

type Notifier interface {
	BookBorrowed(ctx context.Context, title, borrower string) error
	BookReturned(ctx context.Context, title string) error
}

type ServiceConfig struct {
	NotificationsTimeout time.Duration
	// RestoreOnDelete makes the deletion of an open borrow record give the book back.
	RestoreOnDelete bool
	Logger          *slog.Logger
}

type Service struct {
	repo                 Repository
	ntfy                 Notifier
	notificationsTimeout time.Duration
	restoreOnDelete      bool
	logger               *slog.Logger
	now                  func() time.Time
	pending              sync.WaitGroup
}

func NewService(repo Repository, ntfy Notifier, config ServiceConfig) *Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:                 repo,
		ntfy:                 ntfy,
		notificationsTimeout: config.NotificationsTimeout,
		restoreOnDelete:      config.RestoreOnDelete,
		logger:               logger,
		now: func() time.Time {
			return time.Now().UTC().Round(time.Millisecond)
		},
	}
}

/* Waits for in-flight notifications to finish. */
func (s *Service) Close() {
	s.pending.Wait()
}

// notify delivers in the background. It never blocks or fails the request that triggered it.
func (s *Service) notify(event string, deliver func(ctx context.Context) error) {
	if s.ntfy == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx := context.Background()
		if s.notificationsTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.notificationsTimeout)
			defer cancel()
		}
		if err := deliver(ctx); err != nil {
			s.logger.Warn("notification failed", "event", event, "error", err)
		}
	}()
}
