// Package accounts registers users and logs them in.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"agentchat/internal/apperr"
	"agentchat/internal/auth"
	"agentchat/internal/ids"
	"agentchat/internal/storage"
)

const MinPasswordLength = 8

type userStore interface {
	InsertUser(ctx context.Context, u storage.User) error
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	TouchLastEntered(ctx context.Context, userID string, at time.Time) error
}

type Registration struct {
	FullName    string
	CompanyName *string
	CompanyRole *string
	Email       string
	Password    string
}

type Session struct {
	UserID      string
	AccessToken string
	TokenType   string
	Username    string
}

type Service struct {
	store     userStore
	ids       *ids.Generator
	tokens    *auth.Tokens
	passwords *auth.Passwords
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(store userStore, gen *ids.Generator, tokens *auth.Tokens, passwords *auth.Passwords, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		ids:       gen,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger.With().Str("component", "accounts").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user and returns a token for it.
func (s *Service) Register(ctx context.Context, in Registration) (Session, error) {
	in, err := normalize(in)
	if err != nil {
		return Session{}, err
	}

	taken, err := s.store.EmailExists(ctx, in.Email)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "check email", err)
	}
	if taken {
		return Session{}, apperr.Conflict("Email already registered")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "hash password", err)
	}

	user := storage.User{
		FullName:       in.FullName,
		CompanyName:    in.CompanyName,
		CompanyRole:    in.CompanyRole,
		Email:          in.Email,
		HashedPassword: hash,
		CreatedAt:      s.now(),
	}
	userID, err := s.ids.Mint(ctx, ids.KindUser, "", func(ctx context.Context, id string) error {
		user.UserID = id
		return s.store.InsertUser(ctx, user)
	})
	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		// lost a race with a concurrent registration
		return Session{}, apperr.Conflict("Email already registered")
	case err != nil:
		return Session{}, apperr.Wrap(apperr.ErrInternal, "insert user", err)
	}

	token, err := s.tokens.Issue(userID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "issue token", err)
	}
	s.logger.Info().Str("user_id", userID).Msg("user registered")
	return Session{UserID: userID, AccessToken: token, TokenType: auth.TokenType, Username: user.FullName}, nil
}

// Login checks email and password. Unknown emails and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	badCredentials := apperr.New(apperr.ErrUnauthenticated, "Incorrect email or password")
	if email == "" || password == "" {
		return Session{}, badCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, badCredentials
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "get user", err)
	}
	if !s.passwords.Matches(user.HashedPassword, password) {
		return Session{}, badCredentials
	}

	if err := s.store.TouchLastEntered(ctx, user.UserID, s.now()); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.UserID).Msg("failed to record login time")
	}

	token, err := s.tokens.Issue(user.UserID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.ErrInternal, "issue token", err)
	}
	return Session{UserID: user.UserID, AccessToken: token, TokenType: auth.TokenType, Username: user.FullName}, nil
}

// titleCase is not shared: a Caser keeps state between calls.
func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

func normalize(in Registration) (Registration, error) {
	if startsWithSpace(in.FullName) || strings.TrimSpace(in.FullName) == "" {
		return in, apperr.Validation("full_name must be a non-empty name that does not start with whitespace")
	}
	in.FullName = titleCase(in.FullName)

	var err error
	if in.CompanyName, err = normalizeOptional("company_name", in.CompanyName); err != nil {
		return in, err
	}
	if in.CompanyRole, err = normalizeOptional("company_role", in.CompanyRole); err != nil {
		return in, err
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return in, apperr.Validation("email is not a valid email address")
	}
	in.Email = strings.ToLower(addr.Address)

	if len([]rune(in.Password)) < MinPasswordLength {
		return in, apperr.Validation(fmt.Sprintf("password must be at least %d characters long", MinPasswordLength))
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return in, apperr.Validation(fmt.Sprintf("password must be at most %d bytes long", auth.MaxPasswordBytes))
	}
	return in, nil
}

func normalizeOptional(field string, v *string) (*string, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	if startsWithSpace(*v) {
		return nil, apperr.Validation(field + " must not start with whitespace")
	}
	out := titleCase(*v)
	return &out, nil
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}
