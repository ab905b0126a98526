package accounts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"agentchat/internal/apperr"
	"agentchat/internal/auth"
	"agentchat/internal/ids"
	"agentchat/internal/storage"
)

const secret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) (*Service, *storage.Store, *auth.Tokens) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "accounts.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.Open(context.Background(), "sqlite", dsn, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := auth.NewTokens(secret, time.Minute)
	gen := ids.New(ids.Config{Catalog: store})
	return NewService(store, gen, tokens, auth.NewPasswords(bcrypt.MinCost), zerolog.Nop()), store, tokens
}

func strPtr(s string) *string { return &s }

func TestRegister(t *testing.T) {
	svc, store, tokens := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, Registration{
		FullName:    "ada lovelace ",
		CompanyName: strPtr("analytical engines"),
		CompanyRole: strPtr(""),
		Email:       "Ada@Example.COM",
		Password:    "difference",
	})
	require.NoError(t, err)
	assert.Equal(t, "UID00001", sess.UserID)
	assert.Equal(t, "bearer", sess.TokenType)
	assert.Equal(t, "Ada Lovelace", sess.Username)

	sub, err := tokens.Verify(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "UID00001", sub)

	u, err := store.GetUserByID(ctx, "UID00001")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	require.NotNil(t, u.CompanyName)
	assert.Equal(t, "Analytical Engines", *u.CompanyName)
	assert.Nil(t, u.CompanyRole)
	assert.NotEqual(t, "difference", u.HashedPassword)

	second, err := svc.Register(ctx, Registration{FullName: "Grace", Email: "grace@example.com", Password: "cobol1959"})
	require.NoError(t, err)
	assert.Equal(t, "UID00002", second.UserID)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{FullName: "Ada", Email: "ada@example.com", Password: "difference"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, Registration{FullName: "Other", Email: "ADA@example.com", Password: "difference"})
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Email already registered", apperr.Detail(err))
}

func TestRegisterValidation(t *testing.T) {
	svc, store, _ := newTestService(t)

	cases := map[string]Registration{
		"short password":   {FullName: "Ada", Email: "ada@example.com", Password: "short"},
		"long password":    {FullName: "Ada", Email: "ada@example.com", Password: string(make([]byte, 80))},
		"bad email":        {FullName: "Ada", Email: "not-an-email", Password: "difference"},
		"email no dot":     {FullName: "Ada", Email: "ada@localhost", Password: "difference"},
		"email with name":  {FullName: "Ada", Email: "Ada <ada@example.com>", Password: "difference"},
		"empty name":       {FullName: "", Email: "ada@example.com", Password: "difference"},
		"leading space":    {FullName: " Ada", Email: "ada@example.com", Password: "difference"},
		"company is blank": {FullName: "Ada", CompanyName: strPtr("  x"), Email: "ada@example.com", Password: "difference"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), in)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	exists, err := store.EmailExists(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLogin(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	svc.now = func() time.Time { return at }

	reg, err := svc.Register(ctx, Registration{FullName: "Ada", Email: "ada@example.com", Password: "difference"})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, " ADA@example.com", "difference")
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, sess.UserID)
	assert.Equal(t, "Ada", sess.Username)
	assert.NotEmpty(t, sess.AccessToken)

	u, err := store.GetUserByID(ctx, reg.UserID)
	require.NoError(t, err)
	require.NotNil(t, u.LastEnteredAt)
	assert.True(t, at.Equal(*u.LastEnteredAt))

	for name, creds := range map[string][2]string{
		"wrong password": {"ada@example.com", "different"},
		"unknown email":  {"bob@example.com", "difference"},
		"empty":          {"", ""},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Login(ctx, creds[0], creds[1])
			require.ErrorIs(t, err, apperr.ErrUnauthenticated)
			assert.Equal(t, "Incorrect email or password", apperr.Detail(err))
		})
	}
}
