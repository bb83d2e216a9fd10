package security

import (
	"testing"
	"time"

	errs "WatchGate/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions(testSecret)

	token, expireAt, err := Generate(opts, "dev-a", "jti-1", "tag-1")
	require.NoError(t, err)
	assert.True(t, expireAt.After(time.Now()))

	claims, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "dev-a", claims.Subject)
	assert.Equal(t, "jti-1", claims.ID)
	assert.Equal(t, "tag-1", claims.Tag)
}

func TestVerifyStripsTokenPrefix(t *testing.T) {
	opts := DefaultOptions(testSecret)
	token, _, err := Generate(opts, "dev-a", "jti-1", "tag-1")
	require.NoError(t, err)

	claims, err := Verify(opts, "token="+token)
	require.NoError(t, err)
	assert.Equal(t, "dev-a", claims.Subject)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	opts := DefaultOptions(testSecret)

	for _, raw := range []string{"", "token=", "not.a.jwt", "aaaa.bbbb.cccc"} {
		_, err := Verify(opts, raw)
		require.Error(t, err, "raw=%q", raw)
		assert.True(t, errs.ErrTokenMalformed.Is(err))
		assert.True(t, errs.ErrAuth.Is(err))
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions(testSecret), "dev-a", "jti-1", "tag-1")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("other-secret")), token)
	require.Error(t, err)
	assert.True(t, errs.ErrTokenMalformed.Is(err))
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now().Add(-time.Hour)
	claims := GatewayClaims{
		Tag: "tag-1",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "dev-a",
			ID:        "jti-1",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions(testSecret), token)
	require.Error(t, err)
	assert.True(t, errs.ErrAuth.Is(err))
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	// 有签名但缺 sub/jti 的令牌不放行
	claims := GatewayClaims{Tag: "tag-1"}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions(testSecret), token)
	require.Error(t, err)
	assert.True(t, errs.ErrTokenMalformed.Is(err))
}

func TestVerifyRejectsNonHMACAlg(t *testing.T) {
	// alg=none 伪造件
	claims := GatewayClaims{Tag: "tag-1", RegisteredClaims: jwtlib.RegisteredClaims{Subject: "dev-a", ID: "jti-1"}}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions(testSecret), token)
	assert.Error(t, err)
}

func TestUnsupportedAlgOption(t *testing.T) {
	opts := Options{Secret: testSecret, Alg: "RS256"}
	_, _, err := Generate(opts, "dev-a", "jti-1", "tag-1")
	assert.Error(t, err)
	_, err = Verify(opts, "whatever")
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("abc")
	h2 := HashToken("abc")
	h3 := HashToken("abd")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Contains(t, h1, "sha256:")
}
