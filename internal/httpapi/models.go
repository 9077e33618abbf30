package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vramd/internal/manager"
	"vramd/pkg/types"
)

// listModels godoc
// @Summary      List models
// @Description  Every catalog entry with a freshly computed state, plus a hardware snapshot.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{
		Models:   a.svc.Status(),
		Hardware: a.snapshot(r.Context()),
	})
}

// getModel godoc
// @Summary      Get one model
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ModelStatus
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id} [get]
func (a *api) getModel(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.ModelStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// downloadModel godoc
// @Summary      Start a download
// @Description  Starts a background transfer. Answers 202 when started and 200 when the weights are already present or in flight.
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      202  {object}  types.DownloadTicket
// @Success      200  {object}  types.DownloadTicket
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id}/download [post]
func (a *api) downloadModel(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.svc.StartDownload(chi.URLParam(r, "id"))
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error(), ticket.State)
		return
	}
	code := http.StatusOK
	if ticket.Status == types.DownloadStarted {
		code = http.StatusAccepted
	}
	writeJSON(w, code, ticket)
}

// loadModel godoc
// @Summary      Load a model into accelerator memory
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ActionResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id}/load [post]
func (a *api) loadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	st, err := a.svc.Load(ctx, id)
	a.action(w, id, st, err)
}

// unloadModel godoc
// @Summary      Release a resident model
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ActionResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id}/unload [post]
func (a *api) unloadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := a.svc.Unload(id)
	a.action(w, id, st, err)
}

// deleteModel godoc
// @Summary      Delete a model's weights
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ActionResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /models/{id} [delete]
func (a *api) deleteModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := a.svc.Delete(id)
	a.action(w, id, st, err)
}

func (a *api) action(w http.ResponseWriter, id string, st manager.State, err error) {
	if err != nil {
		state := string(st)
		if manager.IsModelNotFound(err) {
			state = ""
		}
		writeJSONError(w, statusFor(err), err.Error(), state)
		return
	}
	writeJSON(w, http.StatusOK, types.ActionResponse{ID: id, State: string(st), OK: true})
}
