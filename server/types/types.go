// Package types provides request/response types for the workbench HTTP API.
package types

import (
	"math"
	"strconv"
	"time"

	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/query"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

// Page actions.
const (
	PageFirst = "first"
	PagePrev  = "prev"
	PageNext  = "next"
	PageLast  = "last"
	PageGoto  = "goto"
)

// SubmitRequest represents POST /sessions/{id}/submit request body.
type SubmitRequest struct {
	SQL string `json:"sql"`
}

// PageRequest represents POST /sessions/{id}/page request body.
type PageRequest struct {
	Action string `json:"action"`
	Page   int    `json:"page,omitempty"` // zero-based, goto only
}

// PageSizeRequest represents PUT /sessions/{id}/page-size request body.
type PageSizeRequest struct {
	PageSize int `json:"pageSize"`
}

// ExportRequest represents POST /sessions/{id}/export request body.
// An empty SQL exports the current query.
type ExportRequest struct {
	SQL         string `json:"sql,omitempty"`
	Destination string `json:"destination,omitempty"` // file path or s3://bucket/key
	Format      string `json:"format,omitempty"`
	Compression string `json:"compression,omitempty"`
	Level       int    `json:"level,omitempty"`
}

// DatasetRequest represents POST /datasets request body.
type DatasetRequest struct {
	Path   string `json:"path"`
	Table  string `json:"table,omitempty"`
	Format string `json:"format,omitempty"`
}

// TransformRequest represents POST /datasets/transform request body.
type TransformRequest struct {
	SQL   string `json:"sql"`
	Table string `json:"table,omitempty"`
}

// SessionResponse wraps a session snapshot.
type SessionResponse struct {
	Success   bool             `json:"success"`
	Data      session.Snapshot `json:"data"`
	PageSizes []int            `json:"pageSizes,omitempty"`
}

// ListSessionsResponse lists open sessions.
type ListSessionsResponse struct {
	Success bool               `json:"success"`
	Data    []session.Snapshot `json:"data"`
}

// BatchResponse is one page of rows.
type BatchResponse struct {
	Columns     []string        `json:"columns"`
	ColumnTypes []string        `json:"columnTypes,omitempty"`
	Rows        [][]interface{} `json:"rows"`
	TotalCount  int64           `json:"totalCount"`
	HasMore     bool            `json:"hasMore"`
	Offset      int64           `json:"offset"`
	Statement   string          `json:"statement,omitempty"`
}

// ResultResponse represents GET /sessions/{id}/result.
type ResultResponse struct {
	Success     bool           `json:"success"`
	Status      string         `json:"status"`
	WorkerID    string         `json:"workerId,omitempty"`
	Progress    int            `json:"progress"`
	Batch       *BatchResponse `json:"batch,omitempty"`
	Message     string         `json:"message,omitempty"`
	CreatedOn   time.Time      `json:"createdOn"`
	CompletedOn *time.Time     `json:"completedOn,omitempty"`
}

// EventMessage is the JSON frame pushed to WebSocket subscribers.
type EventMessage struct {
	SessionID string         `json:"sessionId"`
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	WorkerID  string         `json:"workerId"`
	Progress  int            `json:"progress,omitempty"`
	Batch     *BatchResponse `json:"batch,omitempty"`
	Error     *EventError    `json:"error,omitempty"`
	Export    interface{}    `json:"export,omitempty"`
}

// EventError is the error payload of an EventMessage.
type EventError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Statement string `json:"statement,omitempty"`
}

// HistoryResponse lists recorded submits.
type HistoryResponse struct {
	Success bool                   `json:"success"`
	Data    []session.HistoryEntry `json:"data"`
}

// TablesResponse lists loaded tables.
type TablesResponse struct {
	Success bool     `json:"success"`
	Data    []string `json:"data"`
}

// TableResponse describes one table.
type TableResponse struct {
	Success bool               `json:"success"`
	Data    *dataset.TableInfo `json:"data"`
}

// ExportResponse acknowledges an export request.
type ExportResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	Destination string `json:"destination,omitempty"`
	Message     string `json:"message,omitempty"`
}

// FromBatch converts a worker batch to its wire form. NaN and Inf have no
// JSON form and are sent as strings.
func FromBatch(b *query.Batch) *BatchResponse {
	if b == nil {
		return nil
	}
	rows := make([][]interface{}, len(b.Rows))
	for i, row := range b.Rows {
		out := make([]interface{}, len(row))
		for j, v := range row {
			out[j] = wireValue(v)
		}
		rows[i] = out
	}
	return &BatchResponse{
		Columns:     b.Columns,
		ColumnTypes: b.ColumnTypes,
		Rows:        rows,
		TotalCount:  b.TotalCount,
		HasMore:     b.HasMore,
		Offset:      b.Offset,
		Statement:   b.Statement,
	}
}

// FromEvent converts a session event to its wire form.
func FromEvent(ev session.Event) EventMessage {
	msg := EventMessage{
		SessionID: ev.SessionID,
		Source:    string(ev.Source),
		Type:      string(ev.Type),
		WorkerID:  ev.WorkerID,
		Progress:  ev.Progress,
		Batch:     FromBatch(ev.Batch),
	}
	if ev.Err != nil {
		msg.Error = &EventError{
			Kind:      string(ev.Err.Kind),
			Message:   ev.Err.Message,
			Statement: ev.Err.Statement,
		}
	}
	return msg
}

func wireValue(v interface{}) interface{} {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v
}
