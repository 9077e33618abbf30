package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"vramd/pkg/types"
)

// hardware godoc
// @Summary      Hardware snapshot
// @Tags         hardware
// @Produce      json
// @Success      200  {object}  types.HardwareSnapshot
// @Router       /hardware [get]
func (a *api) hardware(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.snapshot(r.Context()))
}

// stream godoc
// @Summary      Live metrics
// @Description  Server-sent events, one `metrics` frame per interval until the client disconnects.
// @Tags         hardware
// @Produce      text/event-stream
// @Success      200  {object}  types.MetricsEvent
// @Router       /hardware/stream [get]
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	streamClients.Inc()
	defer streamClients.Dec()

	ticker := time.NewTicker(a.opts.StreamInterval)
	defer ticker.Stop()
	for {
		if err := a.writeFrame(w, r); err != nil {
			reqLog().Debug().Err(err).Msg("metrics stream closed")
			return
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *api) writeFrame(w http.ResponseWriter, r *http.Request) error {
	ev := types.MetricsEvent{
		Hardware:         a.snapshot(r.Context()),
		Models:           make(map[string]string),
		DownloadProgress: a.svc.Progress(),
	}
	for id, st := range a.svc.States() {
		ev.Models[id] = string(st)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: metrics\ndata: %s\n\n", b)
	return err
}
