package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval spaces the comment pings that hold an idle event
// stream open through proxies.
const keepAliveInterval = 15 * time.Second

// StreamEvents serves the subscription endpoint as a server-sent event
// stream. Each event is one `data:` message; delivery is real-time and
// at-least-once to live subscribers, with no buffering for offline
// consumers.
func (s *Service) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	id, ch := s.node.Bus().Subscribe(256)
	defer s.node.Bus().Unsubscribe(id)

	s.logger.WithField("subscriber", id).Debug("Event stream opened")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			s.logger.WithField("subscriber", id).Debug("Event stream closed")
			return
		}
	}
}
