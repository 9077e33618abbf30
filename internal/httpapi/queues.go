package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vramd/pkg/types"
)

var knownStrategies = map[string]bool{"least_loaded": true, "round_robin": true}

// queues godoc
// @Summary      Queue status
// @Tags         queues
// @Produce      json
// @Success      200  {object}  types.QueuesResponse
// @Router       /queues [get]
func (a *api) queues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.QueuesResponse{
		Queues:   a.qr.Status(r.Context()),
		Strategy: a.opts.DefaultStrategy,
	})
}

// bestQueue godoc
// @Summary      Pick a queue
// @Tags         queues
// @Produce      json
// @Param        strategy  query     string  false  "least_loaded or round_robin"
// @Success      200       {object}  types.BestQueueResponse
// @Failure      400       {object}  types.ErrorResponse
// @Router       /queues/best [get]
func (a *api) bestQueue(w http.ResponseWriter, r *http.Request) {
	strategy := r.URL.Query().Get("strategy")
	if strategy == "" {
		strategy = a.opts.DefaultStrategy
	}
	if !knownStrategies[strategy] {
		writeJSONError(w, http.StatusBadRequest, "unknown strategy: "+strategy, "")
		return
	}
	q, fallback := a.qr.Pick(strategy)
	writeJSON(w, http.StatusOK, types.BestQueueResponse{Queue: q, Strategy: strategy, Fallback: fallback})
}

// queueTask godoc
// @Summary      Record a task start (POST) or finish (DELETE)
// @Tags         queues
// @Produce      json
// @Param        queue  path      string  true  "queue name"
// @Success      200    {object}  types.TaskCountResponse
// @Failure      404    {object}  types.ErrorResponse
// @Router       /queues/{queue}/tasks [post]
// @Router       /queues/{queue}/tasks [delete]
func (a *api) queueTask(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := chi.URLParam(r, "queue")
		var (
			n  int
			ok bool
		)
		if start {
			n, ok = a.qr.Increment(q)
		} else {
			n, ok = a.qr.Decrement(q)
		}
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown queue: "+q, "")
			return
		}
		writeJSON(w, http.StatusOK, types.TaskCountResponse{Queue: q, ActiveTasks: n})
	}
}
