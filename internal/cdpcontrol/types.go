package cdpcontrol

import (
	"errors"
	"fmt"
)

const (
	CodeValidation      = "VALIDATION"
	CodeTabNotFound     = "TAB_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeBusy            = "BUSY"
	CodeUnknownProvider = "UNKNOWN_PROVIDER"
	CodeAPIUnavailable  = "API_UNAVAILABLE"
	CodeEvalFailure     = "EVAL_FAILURE"
	CodeEvalTimeout     = "EVAL_TIMEOUT"
	CodeCDPUnavailable  = "CDP_UNAVAILABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside this package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}

// HasCode reports whether err wraps a CodedError with the given code.
func HasCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// TabInfo describes a page target.
type TabInfo struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Lifecycle is a snapshot of a tab's document state, used to decide whether
// a tab needs waking before scripts can run in it.
type Lifecycle struct {
	Discarded  bool   `json:"discarded"`
	Visibility string `json:"visibility"`
	ReadyState string `json:"ready_state"`
	Empty      bool   `json:"empty"`
}

// NeedsReload is true for discarded tabs and for empty documents that never
// finished loading.
func (l Lifecycle) NeedsReload() bool {
	if l.Discarded {
		return true
	}
	return l.Empty && l.ReadyState != "complete"
}
