package id

import (
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueUUIDv7(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)

	u, err := uuid.FromString(a)
	require.NoError(t, err)
	assert.Equal(t, byte(uuid.V7), u.Version())
	assert.True(t, Valid(a))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(fallback()))
	assert.False(t, Valid(""))
	assert.False(t, Valid("../../etc/passwd"))
	assert.False(t, Valid("zz"))
}
