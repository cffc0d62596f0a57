package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zjjiang/opd/internal/model"
	"github.com/zjjiang/opd/internal/sse"
)

// heartbeatInterval keeps idle SSE connections alive.
const heartbeatInterval = 15 * time.Second

// stream is the SSE endpoint: replay the persisted message log for the
// active round, then relay live events. Default mode closes after the
// first done/error; chat mode replays from the first user message onward
// and stays open across turns.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	storyID := chi.URLParam(r, "storyID")
	chatMode := r.URL.Query().Get("mode") == "chat"
	ctx := r.Context()

	round, err := s.orch.Store().ActiveRound(ctx, storyID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replay so no live event slips between the two.
	sub := s.orch.Bus().Subscribe(round.ID)
	defer s.orch.Bus().Unsubscribe(round.ID, sub)

	msgs, err := s.orch.Store().ListMessages(ctx, round.ID)
	if err != nil {
		s.log.Warn("stream: history replay failed")
		msgs = nil
	}
	replay := !chatMode
	for _, m := range msgs {
		if chatMode && !replay && m.Role == model.RoleUser {
			replay = true
		}
		if !replay {
			continue
		}
		writeEvent(w, sse.Event{Type: string(m.Role), Content: m.Content})
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-sub.C:
			writeEvent(w, ev)
			flusher.Flush()
			heartbeat.Reset(heartbeatInterval)
			if ev.Type == sse.TypeError {
				return
			}
			// Chat mode keeps the stream open so the next turn continues
			// on the same connection.
			if ev.Type == sse.TypeDone && !chatMode {
				return
			}
		}
	}
}

// writeEvent frames one event as data: <json>\n\n.
func writeEvent(w http.ResponseWriter, ev sse.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
