package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/emberassist/ember/internal/dialog"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/pkg/types"
)

const (
	// startTimeout bounds how long a freshly opened socket may wait before
	// sending its start message.
	startTimeout = 30 * time.Second

	// outcomeDrainTimeout bounds the wait for the session outcome after the
	// client connection is gone.
	outcomeDrainTimeout = 5 * time.Second

	// outboundQueueSize buffers server-to-client messages. Snapshots are
	// full states, so dropping stale ones when a client lags is harmless.
	outboundQueueSize = 64
)

// clientMessage is one JSON text frame from the client.
//
// The first frame must be a start message:
//
//	{"type":"start","user_id":"u1","original_message":"nee hel",
//	 "alternatives":[{"text":"I need help","confidence":92}],
//	 "auto_select_timeout_seconds":8}
//
// Every following frame is an input event:
//
//	{"type":"input","input":{"kind":"key","key":"2"}}
type clientMessage struct {
	Type string `json:"type"`

	// Start fields. Emergency and home_command echo what the interpret
	// response reported for this utterance.
	UserID                   string             `json:"user_id,omitempty"`
	OriginalMessage          string             `json:"original_message,omitempty"`
	Alternatives             []types.Candidate  `json:"alternatives,omitempty"`
	AutoSelectTimeoutSeconds int                `json:"auto_select_timeout_seconds,omitempty"`
	Emergency                bool               `json:"emergency,omitempty"`
	HomeCommand              *types.HomeCommand `json:"home_command,omitempty"`

	// Input event, for type "input".
	Input *dialog.Input `json:"input,omitempty"`
}

// serverMessage is one JSON text frame to the client. Synthesized playback
// audio travels separately as binary frames.
type serverMessage struct {
	Type    string           `json:"type"` // "state", "notice", "outcome", "error"
	State   *dialog.Snapshot `json:"state,omitempty"`
	Text    string           `json:"text,omitempty"`
	Outcome *dialog.Outcome  `json:"outcome,omitempty"`
}

// handleSession handles GET /api/v1/session: upgrades to a WebSocket and
// runs one disambiguation session over it.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		http.Error(w, "sessions are not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err.Error())
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()
	log := observe.Logger(ctx)

	// The first frame opens the session.
	start, err := readStart(ctx, conn)
	if err != nil {
		writeMessage(ctx, conn, serverMessage{Type: "error", Text: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "invalid start message")
		return
	}

	ws := newWSConn(conn)
	go ws.run(ctx)

	handle, err := s.deps.Sessions.StartSession(ctx, SessionRequest{
		UserID:             start.UserID,
		Original:           start.OriginalMessage,
		Candidates:         start.Alternatives,
		AutoConfirmSeconds: start.AutoSelectTimeoutSeconds,
		Emergency:          start.Emergency,
		HomeCommand:        start.HomeCommand,
	}, ws, ws)
	if err != nil {
		log.Error("session start failed", "user_id", start.UserID, "error", err.Error())
		ws.enqueue(serverMessage{Type: "error", Text: "failed to start session"})
		ws.finish(nil)
		return
	}

	readErrs := make(chan error, 1)
	go readInputs(ctx, conn, handle, readErrs)

	select {
	case out := <-handle.Outcome():
		ws.finish(&out)
	case err := <-readErrs:
		// The client went away or sent garbage. Close the session; it still
		// resolves to exactly one outcome, which the app records.
		if websocket.CloseStatus(err) == -1 {
			log.Debug("session socket read failed", "user_id", start.UserID, "error", err.Error())
		}
		s.drainOutcome(log, start.UserID, handle, ws)
	case <-ctx.Done():
		s.drainOutcome(log, start.UserID, handle, ws)
	}
}

// drainOutcome closes the session and waits briefly for its outcome so the
// app's confirm path always runs, even when the client is already gone.
func (s *Server) drainOutcome(log *slog.Logger, userID string, handle SessionHandle, ws *wsConn) {
	handle.Close()
	select {
	case out := <-handle.Outcome():
		ws.finish(&out)
	case <-time.After(outcomeDrainTimeout):
		log.Warn("session outcome never arrived", "user_id", userID)
		ws.finish(nil)
	}
}

// readStart reads and validates the opening frame.
func readStart(ctx context.Context, conn *websocket.Conn) (*clientMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, errStartMessage("no start message received")
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errStartMessage("start message is not valid JSON")
	}
	if msg.Type != "start" {
		return nil, errStartMessage("first message must have type \"start\"")
	}
	if msg.UserID == "" {
		return nil, errStartMessage("user_id is required")
	}
	if msg.OriginalMessage == "" {
		return nil, errStartMessage("original_message is required")
	}
	if msg.AutoSelectTimeoutSeconds < 0 {
		return nil, errStartMessage("auto_select_timeout_seconds must not be negative")
	}
	return &msg, nil
}

type errStartMessage string

func (e errStartMessage) Error() string { return string(e) }

// readInputs pumps client input events into the session until the socket
// errors out.
func readInputs(ctx context.Context, conn *websocket.Conn, handle SessionHandle, errs chan<- error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			errs <- err
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "input" && msg.Input != nil {
			handle.Submit(*msg.Input)
		}
	}
}

// writeMessage marshals and sends one frame outside the queued path. Used
// only before the writer goroutine starts.
func writeMessage(ctx context.Context, conn *websocket.Conn, msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, b)
}

// ─── wsConn ──────────────────────────────────────────────────────────────────

// wsConn adapts a websocket connection to the dialog's sink and the
// speaker's audio writer. State pushes are queued so the dialog loop never
// blocks on a slow client; audio frames are written directly because their
// producer paces itself and may block.
type wsConn struct {
	conn *websocket.Conn

	out       chan serverMessage
	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		out:  make(chan serverMessage, outboundQueueSize),
		done: make(chan struct{}),
	}
}

// run drains the outbound queue onto the socket until the queue is closed.
// After a write failure it keeps draining so enqueuers never stall.
func (ws *wsConn) run(ctx context.Context) {
	defer close(ws.done)
	failed := false
	for msg := range ws.out {
		if failed {
			continue
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := ws.conn.Write(ctx, websocket.MessageText, b); err != nil {
			failed = true
		}
	}
}

// enqueue queues one frame without blocking. When the client cannot keep
// up, the oldest queued frame is dropped; the latest snapshot always wins.
func (ws *wsConn) enqueue(msg serverMessage) {
	select {
	case ws.out <- msg:
	default:
		select {
		case <-ws.out:
		default:
		}
		select {
		case ws.out <- msg:
		default:
		}
	}
}

// State implements [dialog.Sink].
func (ws *wsConn) State(snap dialog.Snapshot) {
	ws.enqueue(serverMessage{Type: "state", State: &snap})
}

// Notice implements [dialog.Sink].
func (ws *wsConn) Notice(text string) {
	ws.enqueue(serverMessage{Type: "notice", Text: text})
}

// WriteAudio implements [AudioWriter] with a binary frame.
func (ws *wsConn) WriteAudio(ctx context.Context, frame []byte) error {
	return ws.conn.Write(ctx, websocket.MessageBinary, frame)
}

// finish sends the outcome when there is one, flushes the queue, and closes
// the socket. Must be called after the last State or Notice push.
func (ws *wsConn) finish(out *dialog.Outcome) {
	if out != nil {
		ws.enqueue(serverMessage{Type: "outcome", Outcome: out})
	}
	ws.closeOnce.Do(func() { close(ws.out) })
	<-ws.done
	ws.conn.Close(websocket.StatusNormalClosure, "session complete")
}

var (
	_ dialog.Sink = (*wsConn)(nil)
	_ AudioWriter = (*wsConn)(nil)
)
