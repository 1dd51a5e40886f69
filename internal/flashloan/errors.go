package flashloan

import (
	"errors"
	"fmt"
)

// Validation error codes. The codes lead the error string so downstream log
// processors can key on them.
const (
	CodeChainMismatch       = "CHAIN_MISMATCH"
	CodeInvalidAsset        = "INVALID_ASSET"
	CodeZeroAmount          = "ZERO_AMOUNT"
	CodeEmptyPath           = "EMPTY_PATH"
	CodeInvalidRouter       = "INVALID_ROUTER"
	CodeUnapprovedRouter    = "UNAPPROVED_ROUTER"
	CodeInvalidCycle        = "INVALID_CYCLE"
	CodeAssetMismatch       = "ASSET_MISMATCH"
	CodeAssetNotDai         = "ASSET_NOT_DAI"
	CodeChainNotSupported   = "CHAIN_NOT_SUPPORTED"
	CodeUnsupportedProtocol = "UNSUPPORTED_PROTOCOL"
	CodeConfig              = "CONFIG"
	CodeMissingPool         = "MISSING_POOL"
)

// ValidationError is a tagged request-validation failure.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErrorf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the tagged code from a validation error, or "" for
// other errors.
func ErrorCode(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// ErrNotImplemented is raised by the unsupported provider's build and
// estimate operations. Fee math still works there, because upstream
// profitability estimation uses it.
var ErrNotImplemented = errors.New("flash loan protocol not yet implemented")
