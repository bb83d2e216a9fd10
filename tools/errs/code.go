package errs

// 网关错误码
const (
	AuthErrorCode       = 1100 // 认证失败（族码）
	TokenMalformedCode  = 1101
	TokenUnknownCode    = 1102
	TokenStaleCode      = 1103
	AuthTimeoutCode     = 1104
	RoomNotFoundCode    = 1201
	MemberConflictCode  = 1202
	UpstreamTimeoutCode = 1301
	ServerInternalCode  = 1500
)

var (
	ErrAuth            = NewCodeError(AuthErrorCode, "invalid credentials")
	ErrTokenMalformed  = NewCodeError(TokenMalformedCode, "token malformed")
	ErrTokenUnknown    = NewCodeError(TokenUnknownCode, "token unknown")
	ErrTokenStale      = NewCodeError(TokenStaleCode, "token stale")
	ErrAuthTimeout     = NewCodeError(AuthTimeoutCode, "auth lookup timeout")
	ErrRoomNotFound    = NewCodeError(RoomNotFoundCode, "room not found")
	ErrMemberConflict  = NewCodeError(MemberConflictCode, "already a member")
	ErrUpstreamTimeout = NewCodeError(UpstreamTimeoutCode, "upstream timeout")
	ErrServerInternal  = NewCodeError(ServerInternalCode, "server internal error")
)

func init() {
	// 认证族：AuthError 是所有 11xx 码的父码，超时也按认证失败处理
	_ = DefaultCodeRelation.Add(AuthErrorCode, TokenMalformedCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, TokenUnknownCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, TokenStaleCode)
	_ = DefaultCodeRelation.Add(AuthErrorCode, AuthTimeoutCode)
}
