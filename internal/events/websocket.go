package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 5 * time.Second

// ServeWebSocket streams a job's events as JSON text messages. The client
// may pass lastEventId to resume. The connection is closed normally once the
// job is done, or with StatusTryAgainLater when the broker drops the
// subscriber first.
func ServeWebSocket(w http.ResponseWriter, r *http.Request, b *Broker, snapshot Event, originPatterns []string, opts StreamOptions) {
	lastEventID, _ := strconv.ParseInt(r.URL.Query().Get("lastEventId"), 10, 64)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err, "job_id", snapshot.JobID)
		return
	}
	defer func() { _ = ws.CloseNow() }()

	// The client only ever sends control frames; CloseRead handles them and
	// cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())

	send := func(ev Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return writeWithTimeout(ctx, ws, data)
	}
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return ws.Ping(pctx)
	}

	err = pump(ctx, b, snapshot, lastEventID, opts.keepalive(), send, ping)
	switch {
	case err == nil:
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("WebSocket close handshake failed", "error", closeErr, "job_id", snapshot.JobID)
		}
	case errors.Is(err, ErrSubscriptionDropped):
		slog.Info("WebSocket subscriber dropped", "job_id", snapshot.JobID)
		if closeErr := ws.Close(websocket.StatusTryAgainLater, "reconnect with lastEventId"); closeErr != nil {
			slog.Debug("WebSocket close handshake failed", "error", closeErr, "job_id", snapshot.JobID)
		}
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
		slog.Debug("WebSocket closed by client", "job_id", snapshot.JobID)
	default:
		slog.Debug("WebSocket stream ended", "error", err, "job_id", snapshot.JobID)
	}
}

func writeWithTimeout(ctx context.Context, ws *websocket.Conn, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
