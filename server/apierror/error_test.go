package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/query"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

// TestAPIError_Error tests error message formatting.
func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "SimpleError",
			err:      &APIError{Code: "000001", Message: "Test error message"},
			expected: "[000001] Test error message",
		},
		{
			name: "ErrorWithDetails",
			err: &APIError{
				Code:    CodeObjectNotFound,
				Message: "Table not found",
				Data:    map[string]interface{}{"table": "missing"},
			},
			expected: "[400404] Table not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.err.Error(); result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

// TestAPIError_MarshalJSON tests JSON serialization.
func TestAPIError_MarshalJSON(t *testing.T) {
	err := New(CodeExecutionFailed, "Catalog Error: Table with name x does not exist!").WithData("kind", "execution")

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("Marshal() error = %v", marshalErr)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := map[string]interface{}{
		"code":     CodeExecutionFailed,
		"message":  "Catalog Error: Table with name x does not exist!",
		"sqlState": SQLStateDataException,
		"data":     map[string]interface{}{"kind": "execution"},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
}

// TestFromError tests conversion of package errors.
func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{name: "SessionNotFound", err: session.ErrSessionNotFound, wantCode: CodeSessionNotFound, wantStatus: http.StatusNotFound},
		{name: "SessionClosed", err: session.ErrSessionClosed, wantCode: CodeSessionClosed, wantStatus: http.StatusGone},
		{name: "NoNextPage", err: session.ErrNoNextPage, wantCode: CodeNoNextPage, wantStatus: http.StatusConflict},
		{name: "InvalidPageSize", err: session.ErrInvalidPageSize, wantCode: CodeInvalidPageSize, wantStatus: http.StatusBadRequest},
		{name: "WrappedTableNotFound", err: fmt.Errorf("%w: t", dataset.ErrTableNotFound), wantCode: CodeObjectNotFound, wantStatus: http.StatusNotFound},
		{name: "ExportFormat", err: export.ErrUnsupportedFormat, wantCode: CodeUnsupportedFormat, wantStatus: http.StatusBadRequest},
		{
			name:       "QueryFetchError",
			err:        &query.Error{Kind: query.ErrorKindFetch, Message: "connection reset"},
			wantCode:   CodeFetchFailed,
			wantStatus: http.StatusBadGateway,
		},
		{name: "Unknown", err: errors.New("boom"), wantCode: CodeInternalError, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", got.Code, tt.wantCode)
			}
			if got.Status() != tt.wantStatus {
				t.Errorf("Status() = %d, want %d", got.Status(), tt.wantStatus)
			}
		})
	}

	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}
	orig := NewInvalidParameterError("page", "must be >= 0")
	if FromError(fmt.Errorf("wrapped: %w", orig)) != orig {
		t.Error("FromError() should return an existing APIError as-is")
	}
}

// TestFromQueryError tests that engine messages are kept verbatim.
func TestFromQueryError(t *testing.T) {
	qe := &query.Error{Kind: query.ErrorKindPreparation, Message: "invalid page size 0", Statement: "SELECT 1"}
	got := FromQueryError(qe)

	if got.Code != CodePreparationFailed || got.Message != qe.Message {
		t.Errorf("FromQueryError() = %+v", got)
	}
	if got.Data["statement"] != "SELECT 1" {
		t.Errorf("statement data = %v", got.Data["statement"])
	}
	if !errors.Is(got, New(CodePreparationFailed, "other")) {
		t.Error("errors.Is should match by code")
	}
}
