package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenIssueAndVerify(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	token, err := tm.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	username, err := tm.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestTokenWrongSecret(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)
	other := NewTokenManager("different-secret", time.Hour)

	token, err := tm.Issue("alice")
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	tm := NewTokenManager("test-secret", -time.Minute)

	token, err := tm.Issue("alice")
	require.NoError(t, err)

	_, err = tm.Verify(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := tm.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}
