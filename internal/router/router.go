// Package router picks a work queue for inference tasks by accelerator load.
package router

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"vramd/internal/hardware"
	"vramd/pkg/types"
)

// Strategies understood by GetBestQueue.
const (
	LeastLoaded = "least_loaded"
	RoundRobin  = "round_robin"
)

const (
	// CPUQueue serves hosts without accelerators.
	CPUQueue = "cpu"
	// FallbackQueue is returned when no slot is healthy.
	FallbackQueue = "default"
)

var activeTasks = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "vramd",
		Subsystem: "router",
		Name:      "active_tasks",
		Help:      "In-flight tasks per queue",
	},
	[]string{"queue"},
)

func init() {
	prometheus.MustRegister(activeTasks)
}

// DeviceLister reports current accelerator memory.
type DeviceLister interface {
	Devices(ctx context.Context) ([]hardware.DeviceMemory, error)
}

type slot struct {
	queue   string
	device  string
	index   int
	active  int
	total   uint64
	free    uint64
	healthy bool
}

// Router tracks one slot per accelerator, or a single CPU slot.
type Router struct {
	mu     sync.Mutex
	slots  []*slot
	byName map[string]*slot
	rr     int
	lister DeviceLister
	log    zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLister refreshes memory figures from l on every Status call.
func WithLister(l DeviceLister) Option { return func(r *Router) { r.lister = l } }

func WithLogger(l zerolog.Logger) Option { return func(r *Router) { r.log = l } }

// QueueName returns the queue serving accelerator index.
func QueueName(index int) string { return "gpu_" + strconv.Itoa(index) }

// New builds one slot per device in discovery order, or a CPU slot when
// devices is empty.
func New(devices []hardware.DeviceMemory, opts ...Option) *Router {
	r := &Router{byName: make(map[string]*slot)}
	for _, o := range opts {
		o(r)
	}
	for _, d := range devices {
		s := &slot{queue: QueueName(d.Index), device: d.Name, index: d.Index, total: d.TotalBytes, free: d.FreeBytes, healthy: true}
		r.slots = append(r.slots, s)
		r.byName[s.queue] = s
	}
	if len(r.slots) == 0 {
		s := &slot{queue: CPUQueue, device: "cpu", index: -1, healthy: true}
		r.slots = append(r.slots, s)
		r.byName[s.queue] = s
	}
	for _, s := range r.slots {
		activeTasks.WithLabelValues(s.queue).Set(0)
		r.log.Info().Str("queue", s.queue).Str("device", s.device).Msg("routing slot")
	}
	return r
}

// GetBestQueue picks a queue. Unknown strategies fall back to the first
// healthy slot; with no healthy slot the fallback queue is returned.
func (r *Router) GetBestQueue(strategy string) string {
	q, _ := r.pick(strategy)
	return q
}

// Pick is GetBestQueue that also reports whether the fallback queue was used.
func (r *Router) Pick(strategy string) (queue string, fallback bool) { return r.pick(strategy) }

func (r *Router) pick(strategy string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	healthy := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		if s.healthy {
			healthy = append(healthy, s)
		}
	}
	if len(healthy) == 0 {
		return FallbackQueue, true
	}
	switch strategy {
	case LeastLoaded:
		best := healthy[0]
		for _, s := range healthy[1:] {
			if s.active < best.active {
				best = s
			}
		}
		return best.queue, false
	case RoundRobin:
		s := healthy[r.rr%len(healthy)]
		r.rr = (r.rr + 1) % len(healthy)
		return s.queue, false
	default:
		return healthy[0].queue, false
	}
}

// Increment records a task started on queue. Unknown queues return false.
func (r *Router) Increment(queue string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byName[queue]
	if s == nil {
		return 0, false
	}
	s.active++
	activeTasks.WithLabelValues(queue).Set(float64(s.active))
	return s.active, true
}

// Decrement records a task finished on queue, never going below zero.
func (r *Router) Decrement(queue string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byName[queue]
	if s == nil {
		return 0, false
	}
	if s.active > 0 {
		s.active--
	}
	activeTasks.WithLabelValues(queue).Set(float64(s.active))
	return s.active, true
}

// Track increments queue and returns the matching decrement.
func (r *Router) Track(queue string) func() {
	if _, ok := r.Increment(queue); !ok {
		return func() {}
	}
	var once sync.Once
	return func() { once.Do(func() { r.Decrement(queue) }) }
}

// SetHealthy marks a slot usable or not.
func (r *Router) SetHealthy(queue string, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.byName[queue]
	if s == nil {
		return fmt.Errorf("unknown queue %q", queue)
	}
	s.healthy = healthy
	return nil
}

// Has reports whether queue is a known slot.
func (r *Router) Has(queue string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[queue] != nil
}

// Status returns every slot with memory figures refreshed from the lister.
func (r *Router) Status(ctx context.Context) []types.QueueStatus {
	var devs []hardware.DeviceMemory
	if r.lister != nil {
		var err error
		devs, err = r.lister.Devices(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("refresh device memory")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devs {
		if s := r.byName[QueueName(d.Index)]; s != nil {
			s.total, s.free = d.TotalBytes, d.FreeBytes
		}
	}
	out := make([]types.QueueStatus, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, types.QueueStatus{
			Queue:       s.queue,
			Device:      s.device,
			DeviceIndex: s.index,
			ActiveTasks: s.active,
			TotalBytes:  s.total,
			FreeBytes:   s.free,
			Healthy:     s.healthy,
		})
	}
	return out
}
