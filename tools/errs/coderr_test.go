package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsOriginal(t *testing.T) {
	err := ErrTokenStale.WrapMsg("tag mismatch", "jti", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag mismatch")
	assert.Contains(t, err.Error(), "jti=abc")

	// 原值不动
	assert.Empty(t, ErrTokenStale.Detail)
}

func TestAuthFamilyRelation(t *testing.T) {
	for _, err := range []error{
		ErrTokenMalformed.WrapMsg("x"),
		ErrTokenUnknown.WrapMsg("x"),
		ErrTokenStale.WrapMsg("x"),
		ErrAuthTimeout.WrapMsg("x"),
	} {
		assert.True(t, ErrAuth.Is(err), "%v must belong to the auth family", err)
	}

	assert.False(t, ErrAuth.Is(ErrRoomNotFound.WrapMsg("x")))
	assert.False(t, ErrTokenStale.Is(ErrTokenUnknown.WrapMsg("x")), "sibling codes are not interchangeable")
}

func TestWithDetailAppends(t *testing.T) {
	e := NewCodeError(42, "boom")
	e2 := e.WithDetail("first")
	e3 := e2.WithDetail("second")
	assert.Equal(t, "first", e2.Detail)
	assert.Equal(t, "first, second", e3.Detail)
	assert.Equal(t, "42 boom first, second", e3.Error())
}
