package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/storeforge/pkg/events"
)

// StreamEvents serves /events from broker: every store event recorded from
// now on, one JSON object per line. ?store=<id> limits the stream to one
// store. The stream ends when the client goes away or the broker stops.
func (hs *HealthServer) StreamEvents(broker *events.Broker) {
	hs.mux.HandleFunc("/events", getOnly(func(w http.ResponseWriter, r *http.Request) {
		hs.streamEvents(w, r, broker)
	}))
}

func (hs *HealthServer) streamEvents(w http.ResponseWriter, r *http.Request, broker *events.Broker) {
	storeID := r.URL.Query().Get("store")

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		hs.logger.Debug().Err(err).Msg("Event stream cannot be flushed")
		return
	}

	hs.logger.Debug().Str("remote", r.RemoteAddr).Str("store_id", storeID).Msg("Event stream opened")
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if storeID != "" && ev.StoreID != storeID {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
