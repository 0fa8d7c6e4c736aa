package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/testutil"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestState_EstablishAndClear(t *testing.T) {
	s := New(nil, WithClock(func() time.Time { return epoch }))
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, record.ID(0), s.UserID())

	var cleared []Identity
	s.OnClear(func(id Identity) { cleared = append(cleared, id) })

	tok := signed(t, epoch.Add(time.Hour))
	require.NoError(t, s.Establish(Identity{UserID: 7, Name: "Ann", Role: record.RoleAdmin}, tok))

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, record.ID(7), s.UserID())
	assert.True(t, s.IsAdmin())
	got, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, tok, got)

	id, _ := s.Current()
	assert.Equal(t, epoch.Add(time.Hour), id.ExpiresAt)

	require.NoError(t, s.Clear())
	assert.False(t, s.IsAuthenticated())
	_, ok = s.Token()
	assert.False(t, ok)
	require.Len(t, cleared, 1)
	assert.Equal(t, record.ID(7), cleared[0].UserID)

	require.NoError(t, s.Clear())
	assert.Len(t, cleared, 1, "clearing an empty session runs no hooks")
}

func TestState_ReplacesIdentityWholesale(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Establish(Identity{UserID: 1, Name: "Ann", Email: "ann@example.com"}, "opaque"))
	require.NoError(t, s.Establish(Identity{UserID: 2, Name: "Ben"}, "opaque-2"))

	id, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, Identity{UserID: 2, Name: "Ben"}, id)
}

func TestState_ExpiredTokenIsAbsent(t *testing.T) {
	clock := testutil.NewManualClock(epoch)
	s := New(nil, WithClock(clock.Now))
	require.NoError(t, s.Establish(Identity{UserID: 1}, signed(t, epoch.Add(time.Minute))))
	assert.True(t, s.IsAuthenticated())

	clock.Advance(time.Minute)
	assert.False(t, s.IsAuthenticated())
	_, ok := s.Token()
	assert.False(t, ok)
}

func TestState_RoleChecks(t *testing.T) {
	s := New(nil)
	assert.False(t, s.HasAnyRole(record.RoleDeveloper), "anonymous has no roles")

	require.NoError(t, s.Establish(Identity{UserID: 1, Role: record.RoleDeveloper}, "t"))
	assert.False(t, s.IsAdmin())
	assert.True(t, s.HasRole(record.RoleDeveloper))
	assert.False(t, s.HasRole(record.RoleDesigner))
	assert.True(t, s.HasAnyRole(record.RoleDesigner, record.RoleDeveloper))
	assert.False(t, s.HasAnyRole())
	assert.Equal(t, record.RoleDeveloper, s.Role())
}

func TestTokenExpiry(t *testing.T) {
	exp, ok := TokenExpiry(signed(t, epoch))
	require.True(t, ok)
	assert.True(t, exp.Equal(epoch))

	_, ok = TokenExpiry("not-a-jwt")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = TokenExpiry(noExp)
	assert.False(t, ok)
}

func TestFileCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")

	fc, err := OpenFileCredentials(path)
	require.NoError(t, err)
	_, ok := fc.Token()
	assert.False(t, ok)

	require.NoError(t, fc.SetToken("abc"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenFileCredentials(path)
	require.NoError(t, err)
	tok, ok := reopened.Token()
	require.True(t, ok)
	assert.Equal(t, "abc", tok)

	require.NoError(t, reopened.ClearToken())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, reopened.ClearToken(), "clearing twice is fine")
}

func TestFileCredentials_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unterminated"), 0o600))

	_, err := OpenFileCredentials(path)
	assert.Error(t, err)
}
