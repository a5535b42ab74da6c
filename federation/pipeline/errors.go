package pipeline

import "fmt"

// Code identifies which pipeline stage a StageError came from, per §7's
// error taxonomy. Callers map these to transport-level status codes and
// `extensions.code` values.
type Code string

const (
	CodeParseFailed       Code = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed  Code = "GRAPHQL_VALIDATION_FAILED"
	CodeBadUserInput      Code = "BAD_USER_INPUT"
	CodeOperationResolved Code = "OPERATION_RESOLUTION_FAILURE"
	CodePlanBuildFailed   Code = "QUERY_PLAN_BUILD_FAILED"
	CodeTooManyRootFields Code = "TOO_MANY_ROOT_FIELDS"
)

// StageError is returned by a pipeline stage on failure; it carries the
// taxonomy code a transport layer needs to pick a status code, independent
// of the underlying Go error's message.
type StageError struct {
	Code    Code
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(code Code, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapStageError(code Code, err error, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}
