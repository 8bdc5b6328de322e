package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := NewBcryptHasher(bcrypt.MinCost)

	digest, err := h.Hash(ctx, "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", digest)

	ok, err := h.Compare(ctx, "secret1", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Compare(ctx, "newpass1", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasherMalformedDigest(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Compare(context.Background(), "secret1", "not-a-bcrypt-hash")
	assert.Error(t, err)
}

func TestDigestCode(t *testing.T) {
	// sha256("123456")
	assert.Equal(t, "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92", DigestCode("123456", ""))

	peppered := DigestCode("123456", "pepper")
	assert.Len(t, peppered, 64)
	assert.NotEqual(t, DigestCode("123456", ""), peppered)
	assert.Equal(t, peppered, DigestCode("123456", "pepper"))
	assert.NotContains(t, peppered, "123456")
}
