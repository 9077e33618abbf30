package hardware

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

const mib = 1 << 20

// DeviceMemory is one accelerator's memory reading.
type DeviceMemory struct {
	Index         int
	Name          string
	TotalBytes    uint64
	UsedBytes     uint64
	FreeBytes     uint64
	ReservedBytes uint64
}

// AcceleratorProbe enumerates accelerators and their memory.
type AcceleratorProbe interface {
	Devices(ctx context.Context) ([]DeviceMemory, error)
}

// HostMemory is a reading of system RAM.
type HostMemory struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// HostProbe reads system RAM.
type HostProbe interface {
	Memory() (HostMemory, error)
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// NvidiaSMI queries NVIDIA devices through the nvidia-smi CLI.
type NvidiaSMI struct {
	Path string
	Run  Runner
}

var smiQuery = []string{
	"--query-gpu=index,name,memory.total,memory.used,memory.free,memory.reserved",
	"--format=csv,noheader,nounits",
}

func (n NvidiaSMI) Devices(ctx context.Context) ([]DeviceMemory, error) {
	run := n.Run
	if run == nil {
		run = execRunner
	}
	path := n.Path
	if path == "" {
		path = "nvidia-smi"
	}
	out, err := run(ctx, path, smiQuery...)
	if err != nil {
		return nil, err
	}
	return parseSMI(out)
}

// parseSMI parses nvidia-smi CSV output. Memory columns are MiB; values the
// driver cannot report ("[N/A]") read as zero.
func parseSMI(out []byte) ([]DeviceMemory, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}
	devs := make([]DeviceMemory, 0, len(recs))
	for _, rec := range recs {
		if len(rec) < 5 {
			return nil, fmt.Errorf("parse nvidia-smi output: expected at least 5 fields, got %d", len(rec))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("parse nvidia-smi index %q: %w", rec[0], err)
		}
		d := DeviceMemory{
			Index:      idx,
			Name:       strings.TrimSpace(rec[1]),
			TotalBytes: mibField(rec[2]),
			UsedBytes:  mibField(rec[3]),
			FreeBytes:  mibField(rec[4]),
		}
		if len(rec) > 5 {
			d.ReservedBytes = mibField(rec[5])
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func mibField(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v * mib
}

// ProcMeminfo reads /proc/meminfo through procfs.
type ProcMeminfo struct {
	fs procfs.FS
}

// NewProcMeminfo opens the default /proc mount.
func NewProcMeminfo() (*ProcMeminfo, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcMeminfo{fs: fs}, nil
}

func (p *ProcMeminfo) Memory() (HostMemory, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return HostMemory{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil {
		return HostMemory{}, fmt.Errorf("read meminfo: MemTotal missing")
	}
	hm := HostMemory{TotalBytes: *mi.MemTotal * 1024}
	switch {
	case mi.MemAvailable != nil:
		hm.AvailableBytes = *mi.MemAvailable * 1024
	case mi.MemFree != nil:
		hm.AvailableBytes = *mi.MemFree * 1024
	}
	return hm, nil
}
