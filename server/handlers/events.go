package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/query"
	"github.com/nnnkkk7/duckbench/pkg/session"
	"github.com/nnnkkk7/duckbench/server/types"
)

const (
	// subscriberBuffer is the number of frames queued per WebSocket client.
	// A client that falls further behind is disconnected.
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
)

// subscriber is one WebSocket client of a session.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// hub drains one session's events and fans them out.
type hub struct {
	sess     *session.Session
	results  *session.ResultStore
	exporter *export.Exporter
	logger   *zap.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	// exportMu is held across Session.Export so the new worker ID is
	// registered before its result can be claimed.
	exportMu sync.Mutex
	pending  map[string]export.Options

	done chan struct{}
}

func newHub(sess *session.Session, results *session.ResultStore, exporter *export.Exporter, logger *zap.Logger) *hub {
	return &hub{
		sess:     sess,
		results:  results,
		exporter: exporter,
		logger:   logger.With(zap.String("session", sess.ID)),
		subs:     make(map[*subscriber]struct{}),
		pending:  make(map[string]export.Options),
		done:     make(chan struct{}),
	}
}

// run forwards events until the session's stream is closed.
func (h *hub) run() {
	defer close(h.done)
	defer h.closeSubscribers()

	for ev := range h.sess.Events() {
		h.results.Record(ev)

		if ev.Source == session.SourceExport && ev.Terminal() {
			h.exportMu.Lock()
			opts, ok := h.pending[ev.WorkerID]
			delete(h.pending, ev.WorkerID)
			h.exportMu.Unlock()

			if ok && ev.Type == query.EventBatchReady && opts.Destination != "" {
				go h.writeExport(ev, opts)
			}
		}

		h.broadcast(types.FromEvent(ev))
	}
}

// startExport starts an export and remembers where its result goes.
func (h *hub) startExport(stmt string, opts export.Options) error {
	h.exportMu.Lock()
	defer h.exportMu.Unlock()

	if err := h.sess.Export(stmt); err != nil {
		return err
	}
	// A new export replaces the previous one.
	clear(h.pending)
	h.pending[h.sess.ExportWorkerID()] = opts
	return nil
}

// writeExport stores a finished export and reports the outcome to subscribers.
func (h *hub) writeExport(ev session.Event, opts export.Options) {
	msg := types.EventMessage{
		SessionID: ev.SessionID,
		Source:    string(session.SourceExport),
		Type:      "written",
		WorkerID:  ev.WorkerID,
	}

	res, err := h.exporter.Write(context.Background(), ev.Batch, opts)
	if err != nil {
		h.logger.Warn("export write failed", zap.String("destination", opts.Destination), zap.Error(err))
		msg.Type = string(query.EventError)
		msg.Error = &types.EventError{Kind: "write", Message: err.Error()}
	} else {
		msg.Export = res
	}
	h.broadcast(msg)
}

func (h *hub) subscribe(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close()
	}
}

func (h *hub) broadcast(msg types.EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn("dropping slow websocket subscriber")
			delete(h.subs, sub)
			sub.close()
		}
	}
}

func (h *hub) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

// writePump sends queued frames and keepalive pings to the client.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames until the connection fails.
func (s *subscriber) readPump(onClose func()) {
	defer onClose()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
