package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// heartbeatInterval is how often an idle stream gets a comment line so
// proxies don't drop the connection.
const heartbeatInterval = 15 * time.Second

// handleJobStream serves the per-job progress stream as text/event-stream.
// Events replay from ?from_seq=N, then follow live; the server closes the
// stream after the terminal event.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	fromSeq := int64(0)
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from_seq %q", v))
			return
		}
		fromSeq = n
	}

	if _, ok, err := s.manager.Status(r.Context(), jobID); err != nil {
		writeFault(w, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %s", jobID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	events, cancel, err := s.manager.Bus().Subscribe(r.Context(), jobID, fromSeq)
	if err != nil {
		writeFault(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, payload)
			flusher.Flush()
			heartbeat.Reset(heartbeatInterval)
		}
	}
}
