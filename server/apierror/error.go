package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/query"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

// Workbench error codes
const (
	// Session Errors (100xxx)
	CodeSessionNotFound = "100404"
	CodeSessionClosed   = "100410"

	// Navigation & State Errors (200xxx)
	CodeEmptyQuery      = "200001"
	CodeNoQuery         = "200002"
	CodeQueryNotPaged   = "200003"
	CodeTotalUnknown    = "200004"
	CodeNoPreviousPage  = "200005"
	CodeNoNextPage      = "200006"
	CodePageOutOfRange  = "200007"
	CodeInvalidPageSize = "200008"
	CodeResultNotReady  = "200009"
	CodeNothingToExport = "200010"
	CodeExportRunning   = "200011"

	// Statement Errors (300xxx)
	CodePreparationFailed = "300001"
	CodeExecutionFailed   = "300002"
	CodeFetchFailed       = "300003"

	// Dataset & Export Errors (400xxx)
	CodeObjectNotFound    = "400404"
	CodeUnsupportedFormat = "400001"
	CodeExportFailed      = "400002"
	CodeLoadFailed        = "400003"

	// System Errors (000xxx)
	CodeInternalError    = "000001"
	CodeInvalidParameter = "000002"
)

// SQLState represents SQL standard error states.
const (
	SQLStateSuccess       = "00000"
	SQLStateSyntaxError   = "42000"
	SQLStateDataException = "22000"
	SQLStateNoData        = "02000"
	SQLStateConnection    = "08000"
	SQLStateGeneralError  = "HY000"
)

// GetSQLState returns the SQL state for a given error code
func GetSQLState(code string) string {
	mapping := map[string]string{
		CodePreparationFailed: SQLStateSyntaxError,
		CodeExecutionFailed:   SQLStateDataException,
		CodeFetchFailed:       SQLStateConnection,
		CodeObjectNotFound:    SQLStateNoData,
		CodeNoNextPage:        SQLStateNoData,
		CodeNoPreviousPage:    SQLStateNoData,
	}

	if state, ok := mapping[code]; ok {
		return state
	}
	return SQLStateGeneralError
}

// HTTPStatus returns the HTTP status for a given error code.
func HTTPStatus(code string) int {
	switch code {
	case CodeSessionNotFound, CodeObjectNotFound:
		return http.StatusNotFound
	case CodeSessionClosed:
		return http.StatusGone
	case CodeNoQuery, CodeQueryNotPaged, CodeTotalUnknown, CodeNoPreviousPage,
		CodeNoNextPage, CodeResultNotReady, CodeNothingToExport, CodeExportRunning:
		return http.StatusConflict
	case CodeEmptyQuery, CodePageOutOfRange, CodeInvalidPageSize, CodeInvalidParameter,
		CodeUnsupportedFormat, CodePreparationFailed:
		return http.StatusBadRequest
	case CodeExecutionFailed, CodeLoadFailed:
		return http.StatusUnprocessableEntity
	case CodeFetchFailed, CodeExportFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APIError represents a structured workbench API error.
type APIError struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	SQLState string                 `json:"sqlState,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// MarshalJSON implements custom JSON marshaling.
func (e *APIError) MarshalJSON() ([]byte, error) {
	type Alias APIError
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	})
}

// WithData adds data to the error.
func (e *APIError) WithData(key string, value interface{}) *APIError {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// Is checks if this error matches another error by code.
func (e *APIError) Is(target error) bool {
	var apiErr *APIError
	if errors.As(target, &apiErr) {
		return e.Code == apiErr.Code
	}
	return false
}

// Status returns the HTTP status for the error.
func (e *APIError) Status() int {
	return HTTPStatus(e.Code)
}

// ErrorResponse represents the JSON response structure for errors.
// This is the unified response type used by all handlers.
type ErrorResponse struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Code     string                 `json:"code"`
	SQLState string                 `json:"sqlState,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// ToResponse converts the APIError to an ErrorResponse.
func (e *APIError) ToResponse() *ErrorResponse {
	data := make(map[string]interface{})

	for k, v := range e.Data {
		data[k] = v
	}

	return &ErrorResponse{
		Success:  false,
		Message:  e.Message,
		Code:     e.Code,
		SQLState: e.SQLState,
		Data:     data,
	}
}

// New creates a new APIError with the given code and message.
func New(code, message string) *APIError {
	return &APIError{
		Code:     code,
		Message:  message,
		SQLState: GetSQLState(code),
		Data:     make(map[string]interface{}),
	}
}

// NewSessionNotFoundError creates a session not found error.
func NewSessionNotFoundError(id string) *APIError {
	return New(CodeSessionNotFound, "Session not found").WithData("sessionId", id)
}

// NewObjectNotFoundError creates an object not found error.
func NewObjectNotFoundError(objectType, objectName string) *APIError {
	message := fmt.Sprintf("Object not found: %s '%s'", objectType, objectName)
	return New(CodeObjectNotFound, message).
		WithData("objectType", objectType).
		WithData("objectName", objectName)
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *APIError {
	return New(CodeInternalError, message)
}

// NewInvalidParameterError creates an invalid parameter error.
func NewInvalidParameterError(paramName, reason string) *APIError {
	message := fmt.Sprintf("Invalid parameter '%s': %s", paramName, reason)
	return New(CodeInvalidParameter, message).WithData("paramName", paramName)
}

// FromQueryError converts a worker error to an APIError. The engine's
// message is kept verbatim.
func FromQueryError(qe *query.Error) *APIError {
	if qe == nil {
		return nil
	}
	code := CodeExecutionFailed
	switch qe.Kind {
	case query.ErrorKindPreparation:
		code = CodePreparationFailed
	case query.ErrorKindFetch:
		code = CodeFetchFailed
	}
	e := New(code, qe.Message).WithData("kind", string(qe.Kind))
	if qe.Statement != "" {
		e.WithData("statement", qe.Statement)
	}
	return e
}

// sentinels maps package errors to codes.
var sentinels = []struct {
	err  error
	code string
}{
	{session.ErrSessionNotFound, CodeSessionNotFound},
	{session.ErrSessionClosed, CodeSessionClosed},
	{session.ErrEmptyQuery, CodeEmptyQuery},
	{session.ErrNoQuery, CodeNoQuery},
	{session.ErrQueryNotPaged, CodeQueryNotPaged},
	{session.ErrTotalUnknown, CodeTotalUnknown},
	{session.ErrNoPreviousPage, CodeNoPreviousPage},
	{session.ErrNoNextPage, CodeNoNextPage},
	{session.ErrPageOutOfRange, CodePageOutOfRange},
	{session.ErrInvalidPageSize, CodeInvalidPageSize},
	{session.ErrNothingToExport, CodeNothingToExport},
	{session.ErrExportInProgress, CodeExportRunning},
	{dataset.ErrFileNotFound, CodeObjectNotFound},
	{dataset.ErrTableNotFound, CodeObjectNotFound},
	{dataset.ErrUnsupportedFormat, CodeUnsupportedFormat},
	{dataset.ErrUnsupportedDriver, CodeLoadFailed},
	{dataset.ErrEmptyTableName, CodeInvalidParameter},
	{dataset.ErrStatementCount, CodeInvalidParameter},
	{dataset.ErrEmptyWorkbook, CodeLoadFailed},
	{export.ErrUnsupportedFormat, CodeUnsupportedFormat},
	{export.ErrUnsupportedCompression, CodeUnsupportedFormat},
	{export.ErrUnknownExtension, CodeUnsupportedFormat},
	{export.ErrInvalidS3URL, CodeInvalidParameter},
	{export.ErrNoDestination, CodeInvalidParameter},
	{export.ErrS3NotConfigured, CodeExportFailed},
	{export.ErrNoBatch, CodeResultNotReady},
}

// FromError converts an error to an APIError.
// If the error is already an APIError, it returns it as-is.
// If the error is nil, it returns nil.
// Known package errors get their own code; anything else is an internal error.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var qe *query.Error
	if errors.As(err, &qe) {
		return FromQueryError(qe)
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return New(s.code, err.Error())
		}
	}

	return NewInternalError(err.Error())
}
