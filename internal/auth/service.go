package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"quizzles/internal/app"
	"quizzles/internal/domain"
)

// ErrInvalidToken is returned for tokens that fail parsing or verification.
var ErrInvalidToken = fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)

// SessionStore records which issued tokens are still live. Logging out
// deletes the session, which revokes the token before it expires.
type SessionStore interface {
	Put(ctx context.Context, tokenID string, userID int64, ttl time.Duration) error
	Lookup(ctx context.Context, tokenID string) (int64, error)
	Delete(ctx context.Context, tokenID string) error
}

// Options configures token signing and password hashing.
type Options struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// Claims extends the registered JWT claims with the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// Token is an issued bearer token.
type Token struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

// Service is the access gate: it registers users, issues and revokes tokens
// and resolves a token into a domain.Caller.
type Service struct {
	users    app.UserStore
	sessions SessionStore
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(users app.UserStore, sessions SessionStore, opts Options, log zerolog.Logger) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Service{
		users:    users,
		sessions: sessions,
		opts:     opts,
		now:      time.Now,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// Register creates a regular user account.
func (s *Service) Register(ctx context.Context, username, password string) (domain.User, error) {
	return s.create(ctx, username, password, false)
}

// EnsureAdmin creates the admin account on first boot. An existing account
// with the same username is returned as is.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (domain.User, error) {
	existing, err := s.users.UserByUsername(ctx, username)
	if err == nil {
		if !existing.IsAdmin {
			s.log.Warn().Str("username", username).Msg("bootstrap admin name belongs to a regular user")
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}
	user, err := s.create(ctx, username, password, true)
	if err != nil {
		return domain.User{}, err
	}
	s.log.Info().Int64("user_id", user.ID).Str("username", username).Msg("admin account created")
	return user, nil
}

func (s *Service) create(ctx context.Context, username, password string, admin bool) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, domain.Invalid("username", "must not be empty")
	}
	if password == "" {
		return domain.User{}, domain.Invalid("password", "must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, domain.User{Username: username, PasswordHash: string(hash), IsAdmin: admin})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Login checks the password and issues a token backed by a live session.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	user, err := s.users.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return Token{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, domain.ErrInvalidCredentials
	}

	jti := uuid.New().String()
	now := s.now()
	expires := now.Add(s.opts.TokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: user.ID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	if err := s.sessions.Put(ctx, jti, user.ID, s.opts.TokenTTL); err != nil {
		return Token{}, err
	}

	s.log.Info().Int64("user_id", user.ID).Msg("user logged in")
	return Token{Token: signed, ExpiresAt: expires, User: user}, nil
}

// Authenticate resolves a bearer token into the calling identity. The admin
// flag is read from the store so role changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Caller, error) {
	claims, err := s.parse(token)
	if err != nil {
		return domain.Caller{}, err
	}
	userID, err := s.sessions.Lookup(ctx, claims.ID)
	if err != nil {
		return domain.Caller{}, err
	}
	if userID != claims.UserID {
		return domain.Caller{}, ErrInvalidToken
	}
	user, err := s.users.UserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Caller{}, ErrInvalidToken
	}
	if err != nil {
		return domain.Caller{}, err
	}
	return domain.Caller{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

// User returns the account behind a caller.
func (s *Service) User(ctx context.Context, caller domain.Caller) (domain.User, error) {
	return s.users.UserByID(ctx, caller.UserID)
}

// Logout ends the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, claims.ID); err != nil {
		return err
	}
	s.log.Info().Int64("user_id", claims.UserID).Msg("user logged out")
	return nil
}

func (s *Service) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.opts.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
