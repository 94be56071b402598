package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher()

	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NotEqual(t, "s3cret", hash)

	require.True(t, hasher.Verify("s3cret", hash))
	require.False(t, hasher.Verify("wrong", hash))
	require.False(t, hasher.Verify("s3cret", "not-a-hash"))
}

func TestPasswordHashesAreSalted(t *testing.T) {
	hasher := NewPasswordHasher()

	first, err := hasher.Hash("same-password")
	require.NoError(t, err)
	second, err := hasher.Hash("same-password")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.True(t, hasher.Verify("same-password", first))
	require.True(t, hasher.Verify("same-password", second))
}
