package domain

import "fmt"

// CompileRequest is the payload of POST /compile.
// Filename is a pointer so an absent key can be told apart from an empty string.
type CompileRequest struct {
	Filename *string `json:"filename"`

	// ID correlates log lines and events for one request.
	ID string `json:"-"`
}

// CompileResult is the successful outcome of a compilation.
type CompileResult struct {
	PDFPath  string
	Warnings string
	ExitCode int
}

// ErrorKind classifies a failed compilation.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindCompilation ErrorKind = "compilation"
	KindInternal    ErrorKind = "internal"
)

// CompileError is the failure outcome of a compilation.
// Message is safe to show to clients; Err is for server-side logs only.
type CompileError struct {
	Kind    ErrorKind
	Message string
	Logs    *string
	Err     error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a user-facing input error.
func NewValidationError(msg string) *CompileError {
	return &CompileError{Kind: KindValidation, Message: msg}
}

// NewNotFoundError reports a missing source file.
func NewNotFoundError(path string) *CompileError {
	return &CompileError{Kind: KindNotFound, Message: "File not found: " + path}
}

// NewCompilationError reports an engine run that produced no usable output.
func NewCompilationError(msg, logs string) *CompileError {
	return &CompileError{Kind: KindCompilation, Message: msg, Logs: &logs}
}

// InternalMessage is the only text clients see for unexpected failures.
const InternalMessage = "An internal server error occurred"

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *CompileError {
	return &CompileError{Kind: KindInternal, Message: InternalMessage, Err: err}
}
