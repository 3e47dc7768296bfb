package usecase

import "fmt"

type ErrorCode string

const (
	ErrorConfiguration   ErrorCode = "CONFIGURATION_ERROR"
	ErrorNotReady        ErrorCode = "NOT_READY"
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorRunFailed       ErrorCode = "RUN_FAILED"
	ErrorRequiresAction  ErrorCode = "REQUIRES_ACTION"
	ErrorNoAnswer        ErrorCode = "NO_ANSWER"
	ErrorTimeout         ErrorCode = "TIMEOUT"
	ErrorCancelled       ErrorCode = "CANCELLED"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// WarningCode identifies a failure that was recovered from.
type WarningCode string

const (
	WarningThreadRecovered    WarningCode = "THREAD_RECOVERED"
	WarningTranslationFailed  WarningCode = "TRANSLATION_FAILED"
	WarningTranscriptNotSaved WarningCode = "TRANSCRIPT_NOT_SAVED"
	WarningTeardownIncomplete WarningCode = "TEARDOWN_INCOMPLETE"
)

// Warning is returned alongside a successful result. Message is a fixed
// description of the code; the underlying error is only logged.
type Warning struct {
	Code    WarningCode
	Message string
}

var warningMessages = map[WarningCode]string{
	WarningThreadRecovered:    "stored thread was unusable and has been replaced",
	WarningTranslationFailed:  "translation failed, answer returned untranslated",
	WarningTranscriptNotSaved: "answer could not be saved to history",
	WarningTeardownIncomplete: "some remote resources could not be deleted",
}

func newWarning(code WarningCode) Warning {
	return Warning{Code: code, Message: warningMessages[code]}
}
