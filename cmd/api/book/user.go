package book

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can authenticate and borrow books.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
