package book

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	TitleMaxLength  = 200
	AuthorMaxLength = 100
)

type Book struct {
	ID        uuid.UUID
	Title     string
	Author    string
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateBookRequest struct {
	Title     string
	Author    string
	Available *bool
}

type UpdateBookRequest struct {
	ID        uuid.UUID
	Title     string
	Author    string
	Available *bool
}

type ListBooksRequest struct {
	Title     string
	Available *bool
}

/* Verifies if the title and author are filled and within their size limits. */
func ValidateBookFields(title, author string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(author) == "" {
		return ErrResponseBookEntryBlankFields
	}
	if utf8.RuneCountInString(title) > TitleMaxLength || utf8.RuneCountInString(author) > AuthorMaxLength {
		return ErrResponseBookEntryTooLong
	}
	return nil
}

func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (Book, error) {
	if err := ValidateBookFields(req.Title, req.Author); err != nil {
		return Book{}, err
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}

	now := s.now()
	newBook := Book{
		ID:        uuid.New(),
		Title:     req.Title,
		Author:    req.Author,
		Available: available,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.repo.CreateBook(ctx, newBook)
}

func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (Book, error) {
	return s.repo.GetBookByID(ctx, id)
}

func (s *Service) ListBooks(ctx context.Context, req ListBooksRequest) ([]Book, error) {
	return s.repo.ListBooks(ctx, req)
}

/* Replaces title and author of a stored book. The availability flag is only replaced when given. */
func (s *Service) UpdateBook(ctx context.Context, req UpdateBookRequest) (Book, error) {
	if err := ValidateBookFields(req.Title, req.Author); err != nil {
		return Book{}, err
	}

	txRepo, tx, err := s.repo.BeginTx(ctx, nil)
	if err != nil {
		return Book{}, err
	}
	defer tx.Rollback()

	updated, err := txRepo.UpdateBook(ctx, Book{
		ID:        req.ID,
		Title:     req.Title,
		Author:    req.Author,
		UpdatedAt: s.now(),
	})
	if err != nil {
		return Book{}, err
	}

	if req.Available != nil {
		updated, err = txRepo.SetBookAvailability(ctx, req.ID, *req.Available)
		if err != nil {
			return Book{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Book{}, fmt.Errorf("committing book update: %w", err)
	}
	return updated, nil
}

/* Deletes the book. Its borrow records go with it. */
func (s *Service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteBook(ctx, id)
}
