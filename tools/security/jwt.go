package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	errs "WatchGate/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// GatewayClaims 握手凭证解码结果。
// Subject=设备tag，ID=token标识(jti)，Tag=吊销比对用的 t 值。
type GatewayClaims struct {
	Tag string `json:"t"`
	jwtlib.RegisteredClaims
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// StripTokenPrefix 握手里可能带 "token=" 前缀，校验前剥掉
func StripTokenPrefix(raw string) string {
	return strings.TrimSpace(strings.Replace(raw, "token=", "", 1))
}

// Generate 签发一个网关凭证（登录服务用；网关本身只做校验）
func Generate(opts Options, deviceTag, tokenID, tag string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := GatewayClaims{
		Tag: tag,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   deviceTag,
			ID:        tokenID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期并解出 claims。失败一律归到认证错误族，
// 调用方必须拒绝本次连接/消息，不允许半认证状态。
func Verify(opts Options, raw string) (*GatewayClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	raw = StripTokenPrefix(raw)
	if raw == "" {
		return nil, errs.ErrTokenMalformed.WrapMsg("empty token")
	}
	claims := &GatewayClaims{}
	parsed, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	})
	if err != nil {
		return nil, errs.ErrTokenMalformed.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrTokenMalformed.WrapMsg("invalid token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errs.ErrTokenMalformed.WrapMsg("claims missing sub/jti")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
