// Package handlers serves workbench sessions over HTTP and WebSocket.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/session"
	"github.com/nnnkkk7/duckbench/server/apierror"
	"github.com/nnnkkk7/duckbench/server/types"
)

// historyLimit caps the entries returned by the history endpoint.
const historyLimit = 100

// WorkbenchHandler handles session, export and dataset requests.
type WorkbenchHandler struct {
	sessions *session.Manager
	results  *session.ResultStore
	exporter *export.Exporter
	loader   *dataset.Loader
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

// NewWorkbenchHandler creates a new workbench handler. loader may be nil
// when the engine is not DuckDB.
func NewWorkbenchHandler(sessions *session.Manager, results *session.ResultStore, exporter *export.Exporter, loader *dataset.Loader, logger *zap.Logger) *WorkbenchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkbenchHandler{
		sessions: sessions,
		results:  results,
		exporter: exporter,
		loader:   loader,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hubs: make(map[string]*hub),
	}
}

// OpenSession handles POST /api/v1/sessions.
func (h *WorkbenchHandler) OpenSession(w http.ResponseWriter, _ *http.Request) {
	sess := h.sessions.Open()

	hb := newHub(sess, h.results, h.exporter, h.logger)
	h.mu.Lock()
	h.hubs[sess.ID] = hb
	h.mu.Unlock()
	go hb.run()

	h.logger.Info("session opened", zap.String("session", sess.ID))
	writeJSON(w, http.StatusCreated, types.SessionResponse{
		Success:   true,
		Data:      sess.Snapshot(),
		PageSizes: sess.PageSizes(),
	})
}

// ListSessions handles GET /api/v1/sessions.
func (h *WorkbenchHandler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.ListSessionsResponse{Success: true, Data: h.sessions.List()})
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *WorkbenchHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, types.SessionResponse{
		Success:   true,
		Data:      sess.Snapshot(),
		PageSizes: sess.PageSizes(),
	})
}

// CloseSession handles DELETE /api/v1/sessions/{id}.
func (h *WorkbenchHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Close(id); err != nil {
		sendError(w, apierror.FromError(err))
		return
	}

	h.mu.Lock()
	hb := h.hubs[id]
	delete(h.hubs, id)
	h.mu.Unlock()
	if hb != nil {
		<-hb.done
	}
	h.results.DeleteSession(id)

	h.logger.Info("session closed", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /api/v1/sessions/{id}/submit.
func (h *WorkbenchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.sessions.Submit(id, req.SQL); err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	h.writeSnapshot(w, id, http.StatusAccepted)
}

// Cancel handles POST /api/v1/sessions/{id}/cancel.
func (h *WorkbenchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Cancel(id); err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	h.results.MarkCanceled(id)
	h.writeSnapshot(w, id, http.StatusOK)
}

// Page handles POST /api/v1/sessions/{id}/page.
func (h *WorkbenchHandler) Page(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req types.PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	var err error
	switch req.Action {
	case types.PageFirst:
		err = sess.FirstPage()
	case types.PagePrev:
		err = sess.PrevPage()
	case types.PageNext:
		err = sess.NextPage()
	case types.PageLast:
		err = sess.LastPage()
	case types.PageGoto:
		err = sess.GotoPage(req.Page)
	default:
		sendError(w, apierror.NewInvalidParameterError("action", "must be one of first, prev, next, last, goto"))
		return
	}
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	h.writeSnapshot(w, sess.ID, http.StatusAccepted)
}

// SetPageSize handles PUT /api/v1/sessions/{id}/page-size.
func (h *WorkbenchHandler) SetPageSize(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req types.PageSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}
	if err := sess.SetPageSize(req.PageSize); err != nil {
		sendError(w, apierror.FromError(err).WithData("pageSizes", sess.PageSizes()))
		return
	}
	h.writeSnapshot(w, sess.ID, http.StatusAccepted)
}

// GetResult handles GET /api/v1/sessions/{id}/result.
func (h *WorkbenchHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	res, ok := h.results.Get(sess.ID, session.SourceQuery)
	if !ok {
		sendError(w, apierror.New(apierror.CodeResultNotReady, "No result yet"))
		return
	}

	resp := types.ResultResponse{
		Success:     res.Status != session.ResultStatusFailed,
		Status:      string(res.Status),
		WorkerID:    res.WorkerID,
		Progress:    res.Progress,
		Batch:       types.FromBatch(res.Batch),
		CreatedOn:   res.CreatedOn,
		CompletedOn: res.CompletedOn,
	}
	if res.Error != nil {
		resp.Message = res.Error.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

// Export handles POST /api/v1/sessions/{id}/export.
func (h *WorkbenchHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	hb, ok := h.hub(sess.ID)
	if !ok {
		sendError(w, apierror.NewSessionNotFoundError(sess.ID))
		return
	}

	var req types.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}

	opts, err := exportOptions(req.Destination, req.Format, req.Compression, req.Level)
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}

	if err := hb.startExport(req.SQL, opts); err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.ExportResponse{
		Success:     true,
		SessionID:   sess.ID,
		Destination: opts.Destination,
	})
}

// CancelExport handles POST /api/v1/sessions/{id}/export/cancel.
func (h *WorkbenchHandler) CancelExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.CancelExport(); err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	h.writeSnapshot(w, sess.ID, http.StatusOK)
}

// DownloadExport handles GET /api/v1/sessions/{id}/export/download.
func (h *WorkbenchHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	res, ok := h.results.Get(sess.ID, session.SourceExport)
	if !ok || res.Status != session.ResultStatusSuccess {
		sendError(w, apierror.New(apierror.CodeResultNotReady, "No completed export"))
		return
	}

	q := r.URL.Query()
	level, _ := strconv.Atoi(q.Get("level"))
	opts, err := exportOptions("", q.Get("format"), q.Get("compression"), level)
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	art, err := export.Encode(res.Batch, opts)
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="export`+art.Extension+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		h.logger.Warn("failed to write download", zap.String("session", sess.ID), zap.Error(err))
	}
}

// Events handles GET /api/v1/sessions/{id}/events by upgrading to a WebSocket.
func (h *WorkbenchHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hb, ok := h.hub(id)
	if !ok {
		sendError(w, apierror.NewSessionNotFoundError(id))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.logger.Debug("websocket upgrade failed", zap.String("session", id), zap.Error(err))
		return
	}

	sub := hb.subscribe(conn)
	go sub.writePump()
	go sub.readPump(func() { hb.unsubscribe(sub) })
}

// History handles GET /api/v1/sessions/{id}/history.
func (h *WorkbenchHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store := h.sessions.History()
	if store == nil {
		writeJSON(w, http.StatusOK, types.HistoryResponse{Success: true, Data: []session.HistoryEntry{}})
		return
	}

	limit := historyLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			sendError(w, apierror.NewInvalidParameterError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := store.List(r.Context(), id, limit)
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	writeJSON(w, http.StatusOK, types.HistoryResponse{Success: true, Data: entries})
}

// LoadDataset handles POST /api/v1/datasets.
func (h *WorkbenchHandler) LoadDataset(w http.ResponseWriter, r *http.Request) {
	if !h.requireLoader(w) {
		return
	}

	var req types.DatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}
	if req.Path == "" {
		sendError(w, apierror.NewInvalidParameterError("path", "is required"))
		return
	}

	info, err := h.loader.Load(r.Context(), req.Path, req.Table, req.Format)
	if err != nil {
		apiErr := apierror.FromError(err)
		if apiErr.Code == apierror.CodeInternalError {
			apiErr = apierror.New(apierror.CodeLoadFailed, err.Error())
		}
		sendError(w, apiErr.WithData("path", req.Path))
		return
	}
	writeJSON(w, http.StatusCreated, types.TableResponse{Success: true, Data: info})
}

// TransformDataset handles POST /api/v1/datasets/transform.
func (h *WorkbenchHandler) TransformDataset(w http.ResponseWriter, r *http.Request) {
	if !h.requireLoader(w) {
		return
	}

	var req types.TransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, apierror.NewInvalidParameterError("body", "invalid JSON"))
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		sendError(w, apierror.NewInvalidParameterError("sql", "is required"))
		return
	}

	info, err := h.loader.Transform(r.Context(), req.Table, req.SQL)
	if err != nil {
		apiErr := apierror.FromError(err)
		if apiErr.Code == apierror.CodeInternalError {
			apiErr = apierror.New(apierror.CodeExecutionFailed, err.Error())
		}
		sendError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, types.TableResponse{Success: true, Data: info})
}

// ListTables handles GET /api/v1/tables.
func (h *WorkbenchHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	if !h.requireLoader(w) {
		return
	}
	tables, err := h.loader.Tables(r.Context())
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	writeJSON(w, http.StatusOK, types.TablesResponse{Success: true, Data: tables})
}

// GetTable handles GET /api/v1/tables/{table}.
func (h *WorkbenchHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	if !h.requireLoader(w) {
		return
	}
	name := chi.URLParam(r, "table")
	info, err := h.loader.Describe(r.Context(), name)
	if err != nil {
		if errors.Is(err, dataset.ErrTableNotFound) {
			sendError(w, apierror.NewObjectNotFoundError("table", name))
			return
		}
		sendError(w, apierror.FromError(err))
		return
	}
	writeJSON(w, http.StatusOK, types.TableResponse{Success: true, Data: info})
}

// Shutdown closes every session and waits for their forwarders.
func (h *WorkbenchHandler) Shutdown() {
	h.sessions.CloseAll()

	h.mu.Lock()
	hubs := h.hubs
	h.hubs = make(map[string]*hub)
	h.mu.Unlock()

	for id, hb := range hubs {
		<-hb.done
		h.results.DeleteSession(id)
	}
}

func (h *WorkbenchHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, apierror.FromError(err))
		return nil, false
	}
	return sess, true
}

func (h *WorkbenchHandler) hub(id string) (*hub, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hb, ok := h.hubs[id]
	return hb, ok
}

func (h *WorkbenchHandler) writeSnapshot(w http.ResponseWriter, id string, status int) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		sendError(w, apierror.FromError(err))
		return
	}
	writeJSON(w, status, types.SessionResponse{Success: true, Data: sess.Snapshot()})
}

func (h *WorkbenchHandler) requireLoader(w http.ResponseWriter) bool {
	if h.loader == nil {
		sendError(w, apierror.FromError(dataset.ErrUnsupportedDriver))
		return false
	}
	return true
}

// exportOptions combines the destination's inferred options with explicit
// overrides and validates the result.
func exportOptions(destination, format, compression string, level int) (export.Options, error) {
	opts := export.Options{Format: export.FormatCSV, Compression: export.CompressionNone}
	if destination != "" {
		inferred, err := export.InferOptions(destination)
		if err != nil && format == "" {
			return export.Options{}, err
		}
		if err == nil {
			opts = inferred
		}
		opts.Destination = destination
	}
	if format != "" {
		opts.Format = format
	}
	if compression != "" {
		opts.Compression = compression
	}
	opts.Level = level

	if _, err := export.GetCompressor(opts.Compression); err != nil {
		return export.Options{}, err
	}
	if _, err := export.GetFormatter(opts.Format, opts.Compression); err != nil {
		return export.Options{}, err
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, err *apierror.APIError) {
	writeJSON(w, err.Status(), err.ToResponse())
}
