package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// ServeSSE streams a job's events as server-sent events. The snapshot carries
// the job's current state and is sent first without an ID. Clients resume
// with the Last-Event-ID header (or lastEventId query parameter).
func ServeSSE(w http.ResponseWriter, r *http.Request, b *Broker, snapshot Event, opts StreamOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Debug("SSE client reconnecting", "job_id", snapshot.JobID, "last_event_id", lastEventID)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", opts.retry().Milliseconds()); err != nil {
		slog.Debug("failed to write SSE retry header", "error", err, "job_id", snapshot.JobID)
		return
	}
	flusher.Flush()

	send := func(ev Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if ev.ID > 0 {
			err = writeSSEWithID(w, ev.ID, string(ev.Type), string(data))
		} else {
			err = writeSSE(w, string(ev.Type), string(data))
		}
		if err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	ping := func() error {
		if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := pump(r.Context(), b, snapshot, lastEventID, opts.keepalive(), send, ping)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("SSE stream ended", "job_id", snapshot.JobID, "error", err)
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
