package types

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	// Catalog entries with freshly computed states.
	Models []ModelStatus `json:"models"`
	// Hardware reading taken while building the response.
	Hardware HardwareSnapshot `json:"hardware"`
}

// ActionResponse is returned by the load/unload/delete endpoints.
type ActionResponse struct {
	// example: sdxl-base
	ID string `json:"id" example:"sdxl-base"`
	// State after the operation.
	// example: in_vram
	State string `json:"state" example:"in_vram"`
	OK    bool   `json:"ok"`
	// Failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// Download ticket statuses.
const (
	DownloadStarted    = "download_started"
	AlreadyInstalled   = "already_installed"
	AlreadyDownloading = "already_downloading"
)

// DownloadTicket is returned by POST /models/{id}/download.
type DownloadTicket struct {
	// example: sdxl-base
	ID string `json:"id" example:"sdxl-base"`
	// One of download_started, already_installed, already_downloading.
	// example: download_started
	Status string `json:"status" example:"download_started"`
	// example: downloading
	State string `json:"state" example:"downloading"`
	// Identifier of the background transfer, when one was started.
	OperationID string `json:"operation_id,omitempty"`
}

// MetricsEvent is one frame of the GET /hardware/stream event stream.
type MetricsEvent struct {
	Hardware HardwareSnapshot `json:"hardware"`
	// id -> state
	Models map[string]string `json:"models"`
	// id -> progress, only for in-flight downloads
	DownloadProgress map[string]float64 `json:"download_progress"`
}

// QueuesResponse is returned by GET /queues.
type QueuesResponse struct {
	Queues   []QueueStatus `json:"queues"`
	Strategy string        `json:"strategy"`
}

// BestQueueResponse is returned by GET /queues/best.
type BestQueueResponse struct {
	// example: gpu_0
	Queue    string `json:"queue" example:"gpu_0"`
	Strategy string `json:"strategy"`
	// True when no healthy slot exists and the fallback queue was chosen.
	Fallback bool `json:"fallback"`
}

// TaskCountResponse is returned when a queue's in-flight counter changes.
type TaskCountResponse struct {
	Queue       string `json:"queue"`
	ActiveTasks int    `json:"active_tasks"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: sdxl-base
	Error string `json:"error" example:"model not found: sdxl-base"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Resulting model state, when the error concerns a model.
	State string `json:"state,omitempty"`
}
