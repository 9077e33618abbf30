package types

// ModelStatus is the externally visible view of one catalog entry.
type ModelStatus struct {
	// Stable identifier (manifest key).
	// example: sdxl-base
	ID string `json:"id" example:"sdxl-base"`
	// Human-friendly name.
	// example: Stable Diffusion XL Base
	Name string `json:"name" example:"Stable Diffusion XL Base"`
	Description string `json:"description,omitempty"`
	// example: diffusion
	Category string `json:"category,omitempty" example:"diffusion"`
	// Lifecycle state: not_installed, downloading, on_disk, in_vram, hardware_locked.
	// example: on_disk
	State string `json:"state" example:"on_disk"`
	// Download progress in [0,1]; only meaningful while downloading.
	// example: 0.42
	Progress float64 `json:"progress" example:"0.42"`
	// Declared size of the weights in bytes.
	// example: 6938078334
	SizeBytes int64 `json:"size_bytes" example:"6938078334"`
	// example: 6.9 GB
	SizeHuman string `json:"size_human,omitempty" example:"6.9 GB"`
	// On-disk size used as a residency estimate, when installed.
	EstBytes int64 `json:"est_bytes,omitempty"`
	Required bool  `json:"required"`
	// True when the model cannot run without an accelerator.
	RequiresAccelerator bool `json:"requires_accelerator"`
	// True when a loader is registered for this id.
	LoaderRegistered bool `json:"loader_registered"`
	// Last access time of a resident model (unix seconds).
	LastUsed int64 `json:"last_used_unix,omitempty"`
}

// HardwareSnapshot is a point-in-time memory reading. When no accelerator is
// present the host RAM fields are filled and Degraded is true; the two
// measurement spaces are never mixed.
type HardwareSnapshot struct {
	// example: NVIDIA GeForce RTX 4090
	Device         string `json:"device"`
	HasAccelerator bool   `json:"has_accelerator"`
	Degraded       bool   `json:"degraded"`
	TotalBytes     uint64 `json:"total_bytes"`
	AllocatedBytes uint64 `json:"allocated_bytes"`
	ReservedBytes  uint64 `json:"reserved_bytes"`
	FreeBytes      uint64 `json:"free_bytes"`
	// Percent of total memory in use (0..100).
	// example: 63.5
	Percent float64 `json:"percent" example:"63.5"`
	// Probe error, if the reading could not be taken.
	Error string `json:"error,omitempty"`
	// Capture time (unix milliseconds).
	TimestampMs int64 `json:"ts_ms"`
}

// QueueStatus describes one routing slot.
type QueueStatus struct {
	// example: gpu_0
	Queue       string `json:"queue" example:"gpu_0"`
	Device      string `json:"device"`
	DeviceIndex int    `json:"device_index"`
	ActiveTasks int    `json:"active_tasks"`
	TotalBytes  uint64 `json:"total_bytes"`
	FreeBytes   uint64 `json:"free_bytes"`
	Healthy     bool   `json:"healthy"`
}
