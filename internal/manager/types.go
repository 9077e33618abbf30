package manager

import (
	"context"
	"time"
)

// State is the lifecycle state of one catalog entry.
type State string

const (
	StateNotInstalled   State = "not_installed"
	StateDownloading    State = "downloading"
	StateOnDisk         State = "on_disk"
	StateInVRAM         State = "in_vram"
	StateHardwareLocked State = "hardware_locked"
)

// Handle is an opaque resident model. Close must release the memory it holds.
type Handle interface {
	Close() error
}

// Loader materializes a model into memory. Load may block for seconds.
type Loader interface {
	Load(ctx context.Context) (Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context) (Handle, error) { return f(ctx) }

// resident is a loaded model owned by the manager.
type resident struct {
	handle   Handle
	loadedAt time.Time
	lastUsed time.Time
}
