package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/sketchar/internal/events"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes job events in text/event-stream framing and remembers the
// last ID it sent so replayed and live events never repeat.
type sseStream struct {
	w      io.Writer
	flush  func()
	lastID int64
}

func (st *sseStream) send(ev events.Event) error {
	if ev.ID <= st.lastID {
		return nil
	}
	// Data is compact JSON, so it always fits on one data line.
	if _, err := fmt.Fprintf(st.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	st.lastID = ev.ID
	return nil
}

func (st *sseStream) ping() error {
	_, err := io.WriteString(st.w, ": keep-alive\n\n")
	return err
}

// handleEvents handles GET /events. A client reconnecting with Last-Event-ID
// first receives the remembered events it missed, then the live feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, flush: flusher.Flush, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if stream.send(ev) != nil {
			return
		}
	}
	stream.flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err, "last_id", stream.lastID)
			return
		}
		stream.flush()
	}
}

// parseLastEventID treats a missing or malformed header as a fresh client.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
