// Package hardware reports accelerator memory, falling back to host RAM when
// no accelerator is present. Readings are never cached.
package hardware

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"vramd/pkg/types"
)

var memoryUsedPercent = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "vramd",
		Subsystem: "hardware",
		Name:      "memory_used_percent",
		Help:      "Last observed memory usage percent (accelerator, or host when degraded)",
	},
	[]string{"device"},
)

func init() {
	prometheus.MustRegister(memoryUsedPercent)
}

// Options configures a Monitor.
type Options struct {
	Accelerator AcceleratorProbe
	Host        HostProbe
	DeviceIndex int
	// Disabled forces host-only mode.
	Disabled bool
	Logger   zerolog.Logger
}

// Monitor samples memory on demand.
type Monitor struct {
	accel       AcceleratorProbe
	host        HostProbe
	deviceIndex int
	hasAccel    bool
	deviceName  string
	log         zerolog.Logger
	now         func() time.Time
}

// New probes once for the configured accelerator. Its presence is fixed for
// the monitor's lifetime; memory readings are taken fresh on every call.
func New(ctx context.Context, opts Options) *Monitor {
	m := &Monitor{
		accel:       opts.Accelerator,
		host:        opts.Host,
		deviceIndex: opts.DeviceIndex,
		log:         opts.Logger,
		now:         time.Now,
	}
	if opts.Disabled || opts.Accelerator == nil {
		m.log.Info().Msg("accelerator disabled; reporting host memory")
		return m
	}
	devs, err := opts.Accelerator.Devices(ctx)
	if err != nil {
		m.log.Info().Err(err).Msg("no accelerator detected; reporting host memory")
		return m
	}
	for _, d := range devs {
		if d.Index == opts.DeviceIndex {
			m.hasAccel = true
			m.deviceName = d.Name
			m.log.Info().Int("index", d.Index).Str("device", d.Name).Uint64("total_bytes", d.TotalBytes).Msg("accelerator detected")
			return m
		}
	}
	m.log.Warn().Int("index", opts.DeviceIndex).Int("found", len(devs)).Msg("configured accelerator index not present; reporting host memory")
	return m
}

// HasAccelerator reports whether accelerator-only models can run.
func (m *Monitor) HasAccelerator() bool { return m.hasAccel }

// Devices returns every accelerator's current memory, or nil in host-only mode.
func (m *Monitor) Devices(ctx context.Context) ([]DeviceMemory, error) {
	if !m.hasAccel {
		return nil, nil
	}
	return m.accel.Devices(ctx)
}

// Metrics returns a fresh snapshot of the monitored device, or of host RAM
// with Degraded set when no accelerator is present.
func (m *Monitor) Metrics(ctx context.Context) types.HardwareSnapshot {
	snap := types.HardwareSnapshot{TimestampMs: m.now().UnixMilli()}
	if m.hasAccel {
		snap.HasAccelerator = true
		snap.Device = m.deviceName
		d, err := m.device(ctx)
		if err != nil {
			snap.Error = err.Error()
			return snap
		}
		snap.TotalBytes = d.TotalBytes
		snap.AllocatedBytes = d.UsedBytes
		snap.ReservedBytes = d.ReservedBytes
		snap.FreeBytes = d.FreeBytes
		snap.Percent = percent(d.UsedBytes, d.TotalBytes)
		memoryUsedPercent.WithLabelValues(strconv.Itoa(m.deviceIndex)).Set(snap.Percent)
		return snap
	}

	snap.Degraded = true
	snap.Device = "host"
	if m.host == nil {
		snap.Error = "host memory probe unavailable"
		return snap
	}
	hm, err := m.host.Memory()
	if err != nil {
		snap.Error = err.Error()
		return snap
	}
	used := uint64(0)
	if hm.TotalBytes > hm.AvailableBytes {
		used = hm.TotalBytes - hm.AvailableBytes
	}
	snap.TotalBytes = hm.TotalBytes
	snap.AllocatedBytes = used
	snap.FreeBytes = hm.AvailableBytes
	snap.Percent = percent(used, hm.TotalBytes)
	memoryUsedPercent.WithLabelValues("host").Set(snap.Percent)
	return snap
}

func (m *Monitor) device(ctx context.Context) (DeviceMemory, error) {
	devs, err := m.accel.Devices(ctx)
	if err != nil {
		return DeviceMemory{}, err
	}
	for _, d := range devs {
		if d.Index == m.deviceIndex {
			return d, nil
		}
	}
	return DeviceMemory{}, errors.New("accelerator " + strconv.Itoa(m.deviceIndex) + " disappeared")
}

// ReleaseCache returns freed memory to the operating system after a resident
// model has been closed.
func (m *Monitor) ReleaseCache() { debug.FreeOSMemory() }

// percent is left unrounded; eviction compares it against the threshold.
func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
