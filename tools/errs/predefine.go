package errs

const (
	ServerInternalError = 500

	ArgsError           = 1001
	RecordNotFoundError = 1004
	TokenInvalidError   = 1501

	// counter engine
	CounterStorageError = 3001
	ContextClaimedError = 3002
	RecalculateError    = 3003
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrTokenInvalid   = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrStorage        = NewCodeError(CounterStorageError, "CounterStorageError")
	ErrContextClaimed = NewCodeError(ContextClaimedError, "ContextClaimedError")
	ErrRecalculate    = NewCodeError(RecalculateError, "RecalculateError")
)

func init() {
	_ = DefaultCodeRelation.Add(ServerInternalError, CounterStorageError)
	_ = DefaultCodeRelation.Add(ServerInternalError, RecalculateError)
}
