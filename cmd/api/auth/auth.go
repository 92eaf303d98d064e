package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lending-service/cmd/api/book"
	"golang.org/x/crypto/bcrypt"
)

const tokenTypeAccess = "access"

// UserStore is the slice of the repository the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user book.User) (book.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (book.User, error)
	GetUserByUsername(ctx context.Context, username string) (book.User, error)
}

type Config struct {
	Secret   []byte
	TokenTTL time.Duration
}

type Service struct {
	users    UserStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(users UserStore, config Config) *Service {
	return &Service{
		users:    users,
		secret:   config.Secret,
		tokenTTL: config.TokenTTL,
		now:      time.Now,
	}
}

type claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

/* Issues a signed access token whose subject is the user id. */
func (s *Service) IssueToken(userID uuid.UUID) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

/* Verifies a bearer token and returns the user it was issued to. */
func (s *Service) Authenticate(ctx context.Context, tokenString string) (book.User, error) {
	if strings.TrimSpace(tokenString) == "" {
		return book.User{}, book.ErrResponseCredentialsNotProvided
	}

	parsed := claims{}
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return book.User{}, fmt.Errorf("parsing token: %w", book.ErrResponseTokenInvalid.WithDetail(" "+err.Error()))
	}
	if parsed.TokenType != tokenTypeAccess {
		return book.User{}, book.ErrResponseTokenInvalid
	}

	userID, err := uuid.Parse(parsed.Subject)
	if err != nil {
		return book.User{}, book.ErrResponseTokenInvalid
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, book.ErrResponseUserNotFound) {
			return book.User{}, book.ErrResponseTokenInvalid
		}
		return book.User{}, err
	}
	return user, nil
}

/* Checks the credentials and issues an access token for the account. */
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, book.ErrResponseUserNotFound) {
			return "", book.ErrResponseLoginFailed
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", book.ErrResponseLoginFailed
	}
	return s.IssueToken(user.ID)
}

/* Creates an account with a bcrypt hashed password. */
func (s *Service) Register(ctx context.Context, username, password string) (book.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return book.User{}, book.ErrResponseUserEntryBlankFields
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return book.User{}, fmt.Errorf("hashing password: %w", err)
	}

	return s.users.CreateUser(ctx, book.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hashed),
		CreatedAt:    s.now().UTC().Round(time.Millisecond),
	})
}

/* Registers the account unless the username already exists. Returns the stored user either way. */
func (s *Service) EnsureUser(ctx context.Context, username, password string) (book.User, bool, error) {
	existing, err := s.users.GetUserByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, book.ErrResponseUserNotFound) {
		return book.User{}, false, err
	}

	created, err := s.Register(ctx, username, password)
	if err != nil {
		return book.User{}, false, err
	}
	return created, true, nil
}
