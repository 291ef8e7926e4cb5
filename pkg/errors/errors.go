package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind 错误分类，决定调用方是否重试以及HTTP状态码
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

type AppError struct {
	Code    string
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，便于 errors.Is(err, &AppError{Code: ...})
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Kind:    kindOfCode(code),
		Message: message,
		Err:     err,
	}
}

// KindOf 返回错误链中第一个 AppError 的分类
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

var (
	ErrConfigLoad               = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect          = "DATABASE_CONNECT_ERROR"
	ErrRPConnect                = "RPC_CONNECT_ERROR"
	ErrBlockFetch               = "BLOCK_FETCH_ERROR"
	ErrEventParse               = "EVENT_PARSE_ERROR"
	ErrInvalidEvent             = "INVALID_EVENT"
	ErrInvalidInput             = "INVALID_INPUT"
	ErrStoreUnavailable         = "STORE_UNAVAILABLE"
	ErrNotFoundOrAlreadySettled = "NOT_FOUND_OR_ALREADY_SETTLED"
	ErrCommitFailed             = "COMMIT_FAILED"
	ErrUnauthorized             = "UNAUTHORIZED"
	ErrStrategyNotFound         = "STRATEGY_NOT_FOUND"
	ErrDepositNotFound          = "DEPOSIT_NOT_FOUND"
	ErrInvalidChain             = "INVALID_CHAIN_ERROR"
	ErrDuplicateTxHash          = "DUPLICATE_TX_HASH"
)

func kindOfCode(code string) Kind {
	switch code {
	case ErrInvalidEvent, ErrInvalidInput, ErrInvalidChain, ErrStrategyNotFound, ErrDepositNotFound:
		return KindInvalidInput
	case ErrNotFoundOrAlreadySettled, ErrDuplicateTxHash:
		return KindConflict
	case ErrStoreUnavailable, ErrCommitFailed, ErrDatabaseConnect, ErrRPConnect, ErrBlockFetch:
		return KindUnavailable
	case ErrUnauthorized:
		return KindUnauthorized
	default:
		return KindInternal
	}
}
